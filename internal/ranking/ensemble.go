package ranking

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/threatlens/internal/threat"
)

var tracer = otel.Tracer("github.com/lvonguyen/threatlens/internal/ranking")

// FusionStats describes the fused ranking.
type FusionStats struct {
	Candidates          int               `json:"candidates"`
	Ranked              int               `json:"ranked"`
	AgentCoverage       map[AgentName]int `json:"agent_coverage"`
	MeanEnsembleScore   float64           `json:"mean_ensemble_score"`
	DistinctSources     int               `json:"distinct_sources"`
	DistinctAuthorities int               `json:"distinct_authorities"`
	CVSSVariance        float64           `json:"cvss_variance"`
}

// AgentList is one agent's ranked output.
type AgentList struct {
	Agent AgentName
	List  []Ranked
}

// Fuse combines agent rankings into one. Each agent contributes a position
// score (len-rank)/len for the records it ranked; a record's ensemble score
// is the weighted average over the agents that ranked it. Records no agent
// ranked are dropped. The result is ordered by ensemble score descending,
// ties in input order, and cut to topN.
func Fuse(records []threat.Record, lists []AgentList, weights AgentWeights, topN int) ([]threat.Record, FusionStats) {
	weightOf := map[AgentName]float64{
		AgentCVE:       weights.CVE,
		AgentExploit:   weights.Exploit,
		AgentAuthority: weights.Authority,
		AgentRelevance: weights.Relevance,
	}

	enriched := make([]threat.Record, len(records))
	copy(enriched, records)
	sums := make([]float64, len(records))
	weightSums := make([]float64, len(records))

	stats := FusionStats{
		Candidates:    len(records),
		AgentCoverage: make(map[AgentName]int, len(lists)),
	}

	for _, al := range lists {
		n := float64(len(al.List))
		w := weightOf[al.Agent]
		stats.AgentCoverage[al.Agent] = len(al.List)
		for rank, entry := range al.List {
			if entry.Index < 0 || entry.Index >= len(records) {
				continue
			}
			position := (n - float64(rank)) / n
			sums[entry.Index] += w * position
			weightSums[entry.Index] += w
			enriched[entry.Index] = enriched[entry.Index].WithAgentScore(al.Agent.scoreField(), entry.Score)
		}
	}

	type candidate struct {
		index int
		score float64
	}
	var candidates []candidate
	for i := range records {
		if weightSums[i] <= 0 {
			continue
		}
		candidates = append(candidates, candidate{index: i, score: sums[i] / weightSums[i]})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	fused := make([]threat.Record, 0, len(candidates))
	for _, c := range candidates {
		fused = append(fused, enriched[c.index].WithEnsembleScore(c.score))
	}

	stats.Ranked = len(fused)
	fillStats(&stats, fused)
	return fused, stats
}

func fillStats(stats *FusionStats, fused []threat.Record) {
	if len(fused) == 0 {
		return
	}

	sources := map[string]struct{}{}
	authorities := map[threat.Authority]struct{}{}
	var scoreSum, cvssSum float64
	for _, r := range fused {
		sources[r.Source] = struct{}{}
		authorities[r.Authority] = struct{}{}
		if r.EnsembleScore != nil {
			scoreSum += *r.EnsembleScore
		}
		cvssSum += r.CVSSScore
	}

	n := float64(len(fused))
	mean := cvssSum / n
	var variance float64
	for _, r := range fused {
		d := r.CVSSScore - mean
		variance += d * d
	}

	stats.MeanEnsembleScore = scoreSum / n
	stats.DistinctSources = len(sources)
	stats.DistinctAuthorities = len(authorities)
	stats.CVSSVariance = variance / n
}

// Ranker runs the four agents concurrently over one working set and fuses
// their output.
type Ranker struct {
	weights Weights
	now     func() time.Time
}

// NewRanker creates a ranker. A nil clock means time.Now.
func NewRanker(w Weights, now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{weights: w.clone(), now: now}
}

// Agents returns the agents used for a query, in fusion order.
func (r *Ranker) Agents(query string) []Agent {
	return []Agent{
		NewCVEAgent(r.weights, r.now),
		NewExploitAgent(r.weights),
		NewAuthorityAgent(r.weights),
		NewRelevanceAgent(r.weights, query),
	}
}

// Rank scores records with every agent and returns the fused top-N.
func (r *Ranker) Rank(ctx context.Context, records []threat.Record, query string) ([]threat.Record, FusionStats) {
	_, span := tracer.Start(ctx, "ranking.Rank")
	defer span.End()

	agents := r.Agents(query)
	lists := make([]AgentList, len(agents))

	var g errgroup.Group
	for i, a := range agents {
		i, a := i, a
		g.Go(func() error {
			lists[i] = AgentList{Agent: a.Name(), List: a.Rank(records)}
			return nil
		})
	}
	_ = g.Wait()

	fused, stats := Fuse(records, lists, r.weights.Agents, r.weights.Retention.FinalTopN)

	span.SetAttributes(
		attribute.Int("candidates", stats.Candidates),
		attribute.Int("ranked", stats.Ranked),
	)
	return fused, stats
}
