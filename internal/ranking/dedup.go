package ranking

import (
	"strings"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// Deduplicator collapses records describing the same vulnerability.
type Deduplicator struct {
	prefixLen int
	policy    DedupPolicy
}

// NewDeduplicator creates a deduplicator from the ranking weights.
func NewDeduplicator(w Weights) *Deduplicator {
	policy := w.DedupPolicy
	if policy == "" {
		policy = DedupDeterministic
	}
	return &Deduplicator{prefixLen: w.DedupTitlePrefix, policy: policy}
}

// Key returns the identity of a record: its upper-cased CVE id, or the
// lower-cased title prefix when it has none.
func (d *Deduplicator) Key(r threat.Record) string {
	if r.HasCVE() {
		return "cve:" + strings.ToUpper(r.CVEID)
	}
	title := []rune(strings.ToLower(strings.TrimSpace(r.Title)))
	if len(title) > d.prefixLen {
		title = title[:d.prefixLen]
	}
	return "title:" + string(title)
}

// Dedup returns one record per key. Each surviving record takes the
// position of its key's first occurrence; which duplicate survives depends
// on the policy. Dedup(Dedup(x)) == Dedup(x).
func (d *Deduplicator) Dedup(records []threat.Record) []threat.Record {
	slot := make(map[string]int, len(records))
	out := make([]threat.Record, 0, len(records))

	for _, r := range records {
		key := d.Key(r)
		i, seen := slot[key]
		if !seen {
			slot[key] = len(out)
			out = append(out, r)
			continue
		}
		if d.policy == DedupDeterministic && preferred(r, out[i]) {
			out[i] = r
		}
	}

	return out
}

// preferred reports whether candidate should replace the incumbent: higher
// CVSS first, then higher authority. Ties keep the incumbent, which came
// earlier in priority order.
func preferred(candidate, incumbent threat.Record) bool {
	if candidate.CVSSScore != incumbent.CVSSScore {
		return candidate.CVSSScore > incumbent.CVSSScore
	}
	return candidate.Authority.Rank() > incumbent.Authority.Rank()
}
