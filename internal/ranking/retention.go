package ranking

import (
	"sort"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// RetentionSelector picks a small, authority-balanced working set from the
// deduplicated records.
type RetentionSelector struct {
	caps RetentionConfig
}

// NewRetentionSelector creates a selector from the ranking weights.
func NewRetentionSelector(w Weights) *RetentionSelector {
	return &RetentionSelector{caps: w.Retention}
}

// Select retains records in tiers:
//  1. every OFFICIAL record
//  2. up to VerifiedCap VERIFIED records, most severe first
//  3. up to CommunityCap COMMUNITY records, newest first
//  4. remaining CRITICAL/HIGH records while fewer than OverallCap are held
//
// The retained set is then ordered newest first (ties by relevance,
// authority, severity) and cut to RankingInput.
func (s *RetentionSelector) Select(records []threat.Record) []threat.Record {
	taken := make([]bool, len(records))
	var kept []threat.Record

	take := func(i int) {
		taken[i] = true
		kept = append(kept, records[i])
	}

	var verified, community []int
	for i, r := range records {
		switch r.Authority {
		case threat.AuthorityOfficial:
			take(i)
		case threat.AuthorityVerified:
			verified = append(verified, i)
		default:
			community = append(community, i)
		}
	}

	sort.SliceStable(verified, func(a, b int) bool {
		return records[verified[a]].Severity.Priority() > records[verified[b]].Severity.Priority()
	})
	for n, i := range verified {
		if n >= s.caps.VerifiedCap {
			break
		}
		take(i)
	}

	sort.SliceStable(community, func(a, b int) bool {
		return newer(records[community[a]], records[community[b]])
	})
	for n, i := range community {
		if n >= s.caps.CommunityCap {
			break
		}
		take(i)
	}

	for i, r := range records {
		if len(kept) >= s.caps.OverallCap {
			break
		}
		if taken[i] {
			continue
		}
		if r.Severity == threat.SeverityCritical || r.Severity == threat.SeverityHigh {
			take(i)
		}
	}

	sort.SliceStable(kept, func(a, b int) bool {
		return retentionLess(kept[a], kept[b])
	})

	if len(kept) > s.caps.RankingInput {
		kept = kept[:s.caps.RankingInput]
	}
	return kept
}

// newer orders by published date, unknown dates last.
func newer(a, b threat.Record) bool {
	return a.PublishedDate.After(b.PublishedDate)
}

func retentionLess(a, b threat.Record) bool {
	if !a.PublishedDate.Equal(b.PublishedDate) {
		return a.PublishedDate.After(b.PublishedDate)
	}
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if a.Authority.Rank() != b.Authority.Rank() {
		return a.Authority.Rank() > b.Authority.Rank()
	}
	return a.Severity.Priority() > b.Severity.Priority()
}
