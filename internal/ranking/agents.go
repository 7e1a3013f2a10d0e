package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// AgentName identifies a ranking agent.
type AgentName string

const (
	AgentCVE       AgentName = "cve"
	AgentExploit   AgentName = "exploit"
	AgentAuthority AgentName = "authority"
	AgentRelevance AgentName = "relevance"
)

// scoreField maps an agent to the record field holding its score.
func (n AgentName) scoreField() threat.ScoreField {
	switch n {
	case AgentCVE:
		return threat.ScoreCVE
	case AgentExploit:
		return threat.ScoreExploit
	case AgentAuthority:
		return threat.ScoreAuthority
	default:
		return threat.ScoreRelevance
	}
}

// Ranked is one agent's verdict on one record. Index is the record's
// position in the slice the agent was given.
type Ranked struct {
	Index  int
	Record threat.Record
	Score  float64
}

// Agent ranks records through one lens. Agents are pure: they read the
// input slice and never modify it, so several may share one slice. A
// record an agent does not score is simply absent from its output.
type Agent interface {
	Name() AgentName
	Rank(records []threat.Record) []Ranked
}

// finish stamps each record with the agent's score and orders the list by
// score descending, keeping input order on ties.
func finish(name AgentName, list []Ranked) []Ranked {
	for i := range list {
		list[i].Record = list[i].Record.WithAgentScore(name.scoreField(), list[i].Score)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Score > list[j].Score
	})
	return list
}

// cvssOr returns the record's CVSS, or def when it is unknown.
func cvssOr(r threat.Record, def float64) float64 {
	if r.CVSSScore > 0 {
		return r.CVSSScore
	}
	return def
}

// =============================================================================
// CVE Agent
// =============================================================================

// CVEAgent scores records carrying a CVE id by severity and recency.
type CVEAgent struct {
	severity SeverityMultipliers
	recency  RecencyConfig
	factor   float64
	now      func() time.Time
}

// NewCVEAgent creates a CVE agent. A nil clock means time.Now.
func NewCVEAgent(w Weights, now func() time.Time) *CVEAgent {
	if now == nil {
		now = time.Now
	}
	return &CVEAgent{
		severity: w.Severity,
		recency:  w.Recency,
		factor:   w.CVEAgentFactor,
		now:      now,
	}
}

// Name returns AgentCVE.
func (a *CVEAgent) Name() AgentName { return AgentCVE }

// Rank scores cvss × severity multiplier × recency × factor.
func (a *CVEAgent) Rank(records []threat.Record) []Ranked {
	now := a.now()
	var out []Ranked
	for i, r := range records {
		if !r.HasCVE() {
			continue
		}
		score := r.CVSSScore * a.severity.Of(r.Severity) * RecencyFactor(a.recency, r.PublishedDate, now) * a.factor
		out = append(out, Ranked{Index: i, Record: r, Score: score})
	}
	return finish(AgentCVE, out)
}

// RecencyFactor decays linearly from 1.0 today to the floor at the horizon
// and stays there. Unknown dates get the configured factor; future dates
// count as today.
func RecencyFactor(cfg RecencyConfig, published, now time.Time) float64 {
	if published.IsZero() {
		return cfg.UnknownFactor
	}
	days := now.Sub(published).Hours() / 24
	if days < 0 {
		days = 0
	}
	f := 1 - (1-cfg.Floor)*days/cfg.HorizonDays
	if f < cfg.Floor {
		return cfg.Floor
	}
	return f
}

// =============================================================================
// Exploit Agent
// =============================================================================

// ExploitAgent scores records from exploit intelligence sources.
type ExploitAgent struct {
	reliability map[string]float64
	bonus       float64
	defaultCVSS float64
}

// NewExploitAgent creates an exploit agent.
func NewExploitAgent(w Weights) *ExploitAgent {
	rel := make(map[string]float64, len(w.ExploitSources))
	for _, s := range w.ExploitSources {
		rel[strings.ToLower(s.Name)] = s.Reliability
	}
	return &ExploitAgent{reliability: rel, bonus: w.ExploitBonus, defaultCVSS: w.DefaultCVSS}
}

// Name returns AgentExploit.
func (a *ExploitAgent) Name() AgentName { return AgentExploit }

// IsExploitSource reports whether source is a known exploit database.
func (a *ExploitAgent) IsExploitSource(source string) bool {
	_, ok := a.reliability[strings.ToLower(source)]
	return ok
}

// Rank scores cvss × source reliability, doubled when the title names an
// exploit.
func (a *ExploitAgent) Rank(records []threat.Record) []Ranked {
	var out []Ranked
	for i, r := range records {
		rel, ok := a.reliability[strings.ToLower(r.Source)]
		if !ok {
			continue
		}
		score := cvssOr(r, a.defaultCVSS) * rel
		if strings.Contains(strings.ToLower(r.Title), "exploit") {
			score *= a.bonus
		}
		out = append(out, Ranked{Index: i, Record: r, Score: score})
	}
	return finish(AgentExploit, out)
}

// =============================================================================
// Authority Agent
// =============================================================================

// AuthorityAgent scores every record by source trust.
type AuthorityAgent struct {
	tiers        TierWeights
	govBoost     float64
	govTokens    []string
	vendorBoost  float64
	vendorTokens []string
	defaultCVSS  float64
}

// NewAuthorityAgent creates an authority agent.
func NewAuthorityAgent(w Weights) *AuthorityAgent {
	w = w.clone()
	return &AuthorityAgent{
		tiers:        w.Tiers,
		govBoost:     w.GovBoost,
		govTokens:    w.GovTokens,
		vendorBoost:  w.VendorBoost,
		vendorTokens: w.VendorTokens,
		defaultCVSS:  w.DefaultCVSS,
	}
}

// Name returns AgentAuthority.
func (a *AuthorityAgent) Name() AgentName { return AgentAuthority }

// Rank scores cvss × tier weight × source boost.
func (a *AuthorityAgent) Rank(records []threat.Record) []Ranked {
	out := make([]Ranked, 0, len(records))
	for i, r := range records {
		score := cvssOr(r, a.defaultCVSS) * a.tiers.Of(r.Authority) * a.boost(r.Source)
		out = append(out, Ranked{Index: i, Record: r, Score: score})
	}
	return finish(AgentAuthority, out)
}

func (a *AuthorityAgent) boost(source string) float64 {
	s := strings.ToLower(source)
	for _, t := range a.govTokens {
		if strings.Contains(s, t) {
			return a.govBoost
		}
	}
	for _, t := range a.vendorTokens {
		if strings.Contains(s, t) {
			return a.vendorBoost
		}
	}
	return 1.0
}

// =============================================================================
// Relevance Agent
// =============================================================================

// RelevanceAgent re-scores keyword relevance against the query, with no
// per-source exemption, and drops records below the threshold.
type RelevanceAgent struct {
	scorer      *RelevanceScorer
	query       string
	defaultCVSS float64
}

// NewRelevanceAgent creates a relevance agent bound to one query.
func NewRelevanceAgent(w Weights, query string) *RelevanceAgent {
	return &RelevanceAgent{
		scorer:      NewRelevanceScorer(w),
		query:       query,
		defaultCVSS: w.DefaultCVSS,
	}
}

// Name returns AgentRelevance.
func (a *RelevanceAgent) Name() AgentName { return AgentRelevance }

// Rank scores cvss × (1 + relevance).
func (a *RelevanceAgent) Rank(records []threat.Record) []Ranked {
	var out []Ranked
	for i, r := range records {
		rel := a.scorer.Heuristic(r, a.query)
		if !a.scorer.Passes(rel) {
			continue
		}
		out = append(out, Ranked{Index: i, Record: r, Score: cvssOr(r, a.defaultCVSS) * (1 + rel)})
	}
	return finish(AgentRelevance, out)
}
