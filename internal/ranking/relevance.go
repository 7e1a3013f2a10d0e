package ranking

import (
	"strings"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// RelevanceScorer estimates how relevant a record is to the queried product
// from keyword overlap and source authority.
type RelevanceScorer struct {
	cfg RelevanceConfig
}

// NewRelevanceScorer creates a scorer from the ranking weights.
func NewRelevanceScorer(w Weights) *RelevanceScorer {
	return &RelevanceScorer{cfg: w.Relevance}
}

// Heuristic computes the keyword relevance of a record to the query, in
// [0,1]. It applies no per-source exemption.
func (s *RelevanceScorer) Heuristic(r threat.Record, query string) float64 {
	title := strings.ToLower(r.Title)
	desc := strings.ToLower(r.Description)

	score := 0.0
	if q := threat.NormalizeQuery(query); q != "" && (strings.Contains(title, q) || strings.Contains(desc, q)) {
		score += s.cfg.ExactMatch
	}

	for _, kw := range threat.Keywords(query) {
		switch {
		case strings.Contains(title, kw):
			score += s.cfg.TitleKeyword
		case strings.Contains(desc, kw):
			score += s.cfg.DescKeyword
		}
	}

	score += s.cfg.AuthorityBonus.Of(r.Authority)

	return threat.ClampRelevance(score)
}

// Score returns the gate relevance of a record. NVD records carrying a CVE
// id get a fixed score, since NVD was already queried by keyword.
func (s *RelevanceScorer) Score(r threat.Record, query string) float64 {
	if r.Source == s.cfg.NVDSource && r.HasCVE() {
		return threat.ClampRelevance(s.cfg.NVDFixed)
	}
	return s.Heuristic(r, query)
}

// Passes reports whether a score clears the relevance threshold.
func (s *RelevanceScorer) Passes(score float64) bool {
	return score >= s.cfg.Threshold
}

// Filter scores every record and keeps those at or above the threshold, in
// input order.
func (s *RelevanceScorer) Filter(records []threat.Record, query string) []threat.Record {
	kept := make([]threat.Record, 0, len(records))
	for _, r := range records {
		score := s.Score(r, query)
		if !s.Passes(score) {
			continue
		}
		kept = append(kept, r.WithRelevance(score))
	}
	return kept
}
