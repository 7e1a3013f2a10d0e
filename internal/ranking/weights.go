// Package ranking filters, deduplicates and ranks normalized threat records:
// a relevance gate, a deduplicator, a tiered retention selector, four
// independent scoring agents and a weighted ensemble.
package ranking

import (
	"fmt"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// DedupPolicy selects which duplicate survives deduplication.
type DedupPolicy string

const (
	// DedupFirstSeen keeps the earliest record in priority order.
	DedupFirstSeen DedupPolicy = "first_seen"
	// DedupDeterministic keeps the highest CVSS, then the highest authority,
	// then the earliest record.
	DedupDeterministic DedupPolicy = "deterministic"
)

// AgentWeights are the ensemble weights per agent.
type AgentWeights struct {
	CVE       float64 `yaml:"cve"`
	Exploit   float64 `yaml:"exploit"`
	Authority float64 `yaml:"authority"`
	Relevance float64 `yaml:"relevance"`
}

// TierWeights map authority tiers to a multiplier.
type TierWeights struct {
	Official  float64 `yaml:"official"`
	Verified  float64 `yaml:"verified"`
	Community float64 `yaml:"community"`
}

// Of returns the weight of an authority.
func (w TierWeights) Of(a threat.Authority) float64 {
	switch a {
	case threat.AuthorityOfficial:
		return w.Official
	case threat.AuthorityVerified:
		return w.Verified
	default:
		return w.Community
	}
}

// SeverityMultipliers map severities to a multiplier.
type SeverityMultipliers struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
	Default  float64 `yaml:"default"`
}

// Of returns the multiplier of a severity.
func (m SeverityMultipliers) Of(s threat.Severity) float64 {
	switch s {
	case threat.SeverityCritical:
		return m.Critical
	case threat.SeverityHigh:
		return m.High
	case threat.SeverityMedium:
		return m.Medium
	case threat.SeverityLow:
		return m.Low
	default:
		return m.Default
	}
}

// RecencyConfig shapes the linear recency decay.
type RecencyConfig struct {
	HorizonDays   float64 `yaml:"horizon_days"`
	Floor         float64 `yaml:"floor"`
	UnknownFactor float64 `yaml:"unknown_factor"`
}

// RelevanceConfig holds the keyword relevance heuristic.
type RelevanceConfig struct {
	ExactMatch     float64     `yaml:"exact_match"`
	TitleKeyword   float64     `yaml:"title_keyword"`
	DescKeyword    float64     `yaml:"description_keyword"`
	AuthorityBonus TierWeights `yaml:"authority_bonus"`
	Threshold      float64     `yaml:"threshold"`
	NVDFixed       float64     `yaml:"nvd_fixed"`
	NVDSource      string      `yaml:"nvd_source"`
}

// RetentionConfig holds the tiered retention caps.
type RetentionConfig struct {
	VerifiedCap  int `yaml:"verified_cap"`
	CommunityCap int `yaml:"community_cap"`
	OverallCap   int `yaml:"overall_cap"`
	RankingInput int `yaml:"ranking_input"`
	FinalTopN    int `yaml:"final_top_n"`
}

// ExploitSource is an exploit intelligence source and its reliability.
type ExploitSource struct {
	Name        string  `yaml:"name"`
	Reliability float64 `yaml:"reliability"`
}

// Weights is the complete ranking configuration. Components copy what they
// need at construction and never modify it.
type Weights struct {
	Agents           AgentWeights        `yaml:"agents"`
	Tiers            TierWeights         `yaml:"tiers"`
	GovBoost         float64             `yaml:"gov_boost"`
	GovTokens        []string            `yaml:"gov_tokens"`
	VendorBoost      float64             `yaml:"vendor_boost"`
	VendorTokens     []string            `yaml:"vendor_tokens"`
	Severity         SeverityMultipliers `yaml:"severity"`
	Recency          RecencyConfig       `yaml:"recency"`
	CVEAgentFactor   float64             `yaml:"cve_agent_factor"`
	ExploitBonus     float64             `yaml:"exploit_bonus"`
	ExploitSources   []ExploitSource     `yaml:"exploit_sources"`
	DefaultCVSS      float64             `yaml:"default_cvss"`
	Relevance        RelevanceConfig     `yaml:"relevance"`
	Retention        RetentionConfig     `yaml:"retention"`
	DedupTitlePrefix int                 `yaml:"dedup_title_prefix"`
	DedupPolicy      DedupPolicy         `yaml:"dedup_policy"`
}

// DefaultWeights returns the stock ranking configuration.
func DefaultWeights() Weights {
	return Weights{
		Agents: AgentWeights{CVE: 1.5, Exploit: 1.2, Authority: 1.3, Relevance: 1.4},
		Tiers:  TierWeights{Official: 3.0, Verified: 2.0, Community: 1.0},

		GovBoost:     1.3,
		GovTokens:    []string{"nvd", "cisa", "cert", "gov", "nist"},
		VendorBoost:  1.2,
		VendorTokens: []string{"microsoft", "adobe", "apple"},

		Severity: SeverityMultipliers{Critical: 1.0, High: 0.85, Medium: 0.6, Low: 0.3, Default: 0.5},
		Recency:  RecencyConfig{HorizonDays: 730, Floor: 0.3, UnknownFactor: 0.75},

		CVEAgentFactor: 1.5,
		ExploitBonus:   2.0,
		ExploitSources: []ExploitSource{
			{Name: "Exploit Database", Reliability: 1.2},
			{Name: "Rapid7", Reliability: 1.1},
			{Name: "Packet Storm", Reliability: 1.0},
			{Name: "Vulners", Reliability: 1.0},
			{Name: "0day.today", Reliability: 0.8},
		},
		DefaultCVSS: 5.0,

		Relevance: RelevanceConfig{
			ExactMatch:     0.5,
			TitleKeyword:   0.3,
			DescKeyword:    0.15,
			AuthorityBonus: TierWeights{Official: 0.2, Verified: 0.1, Community: 0},
			Threshold:      0.4,
			NVDFixed:       0.8,
			NVDSource:      "NVD",
		},
		Retention: RetentionConfig{
			VerifiedCap:  5,
			CommunityCap: 3,
			OverallCap:   20,
			RankingInput: 8,
			FinalTopN:    12,
		},

		DedupTitlePrefix: 50,
		DedupPolicy:      DedupDeterministic,
	}
}

// Validate reports configuration that would make ranking meaningless.
func (w Weights) Validate() error {
	if w.Agents.CVE < 0 || w.Agents.Exploit < 0 || w.Agents.Authority < 0 || w.Agents.Relevance < 0 {
		return fmt.Errorf("agent weights must not be negative")
	}
	if w.Recency.HorizonDays <= 0 {
		return fmt.Errorf("recency horizon must be positive, got %v", w.Recency.HorizonDays)
	}
	if w.Retention.RankingInput <= 0 || w.Retention.FinalTopN <= 0 || w.Retention.OverallCap <= 0 {
		return fmt.Errorf("retention caps must be positive")
	}
	if w.DedupTitlePrefix <= 0 {
		return fmt.Errorf("dedup title prefix must be positive, got %d", w.DedupTitlePrefix)
	}
	switch w.DedupPolicy {
	case DedupFirstSeen, DedupDeterministic:
	default:
		return fmt.Errorf("unknown dedup policy %q", w.DedupPolicy)
	}
	return nil
}

// clone returns a deep copy so callers cannot alias slices.
func (w Weights) clone() Weights {
	w.GovTokens = append([]string(nil), w.GovTokens...)
	w.VendorTokens = append([]string(nil), w.VendorTokens...)
	w.ExploitSources = append([]ExploitSource(nil), w.ExploitSources...)
	return w
}
