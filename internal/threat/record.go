// Package threat defines the canonical threat record that flows through the
// aggregation and ranking pipeline.
package threat

import (
	"regexp"
	"strings"
	"time"
)

// NoCVE is the sentinel CVE identifier for records without one.
const NoCVE = "N/A"

var cvePattern = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)

// cveSearchPattern finds a CVE identifier anywhere in free text.
var cveSearchPattern = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)

// IsCVE reports whether id is a well-formed CVE identifier.
func IsCVE(id string) bool {
	return cvePattern.MatchString(strings.TrimSpace(id))
}

// FindCVE returns the first CVE identifier in text, upper-cased, or NoCVE.
func FindCVE(text string) string {
	if m := cveSearchPattern.FindString(text); m != "" {
		return strings.ToUpper(m)
	}
	return NoCVE
}

// Authority is the trust tier of a source.
type Authority string

const (
	AuthorityOfficial  Authority = "OFFICIAL"
	AuthorityVerified  Authority = "VERIFIED"
	AuthorityCommunity Authority = "COMMUNITY"
)

// Rank orders authorities, higher is more trusted.
func (a Authority) Rank() int {
	switch a {
	case AuthorityOfficial:
		return 3
	case AuthorityVerified:
		return 2
	default:
		return 1
	}
}

// ParseAuthority maps free text to an authority tier. Unknown values are
// treated as COMMUNITY.
func ParseAuthority(s string) Authority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFFICIAL":
		return AuthorityOfficial
	case "VERIFIED":
		return AuthorityVerified
	default:
		return AuthorityCommunity
	}
}

// Severity is the bucketed severity of a record.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Priority orders severities, CRITICAL highest and UNKNOWN lowest.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps a source label to a severity bucket. Labels that are not
// recognised map to UNKNOWN.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH", "IMPORTANT":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// SeverityFromCVSS buckets a CVSS base score.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9:
		return SeverityCritical
	case score >= 7:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Record is a normalized threat intelligence item. Records are values: the
// With* methods return modified copies and never change the receiver.
type Record struct {
	Source         string    `json:"source"`
	Authority      Authority `json:"authority"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	CVEID          string    `json:"cve_id"`
	Severity       Severity  `json:"severity"`
	CVSSScore      float64   `json:"cvss_score"`
	PublishedDate  time.Time `json:"published_date"`
	RelevanceScore float64   `json:"relevance_score"`
	URL            string    `json:"url,omitempty"`

	CVERankScore       *float64 `json:"cve_rank_score,omitempty"`
	ExploitRankScore   *float64 `json:"exploit_rank_score,omitempty"`
	AuthorityRankScore *float64 `json:"authority_rank_score,omitempty"`
	RelevanceRankScore *float64 `json:"relevance_rank_score,omitempty"`
	EnsembleScore      *float64 `json:"ensemble_score,omitempty"`
}

// HasCVE reports whether the record carries a real CVE identifier.
func (r Record) HasCVE() bool {
	return r.CVEID != "" && r.CVEID != NoCVE && IsCVE(r.CVEID)
}

// HasPublishedDate reports whether the published date was parsed.
func (r Record) HasPublishedDate() bool {
	return !r.PublishedDate.IsZero()
}

// WithRelevance returns a copy with the relevance score set and clamped.
func (r Record) WithRelevance(score float64) Record {
	r.RelevanceScore = ClampRelevance(score)
	return r
}

// WithEnsembleScore returns a copy with the ensemble score set.
func (r Record) WithEnsembleScore(score float64) Record {
	r.EnsembleScore = &score
	return r
}

// ScoreField names one of the per-agent score fields.
type ScoreField string

const (
	ScoreCVE       ScoreField = "cve"
	ScoreExploit   ScoreField = "exploit"
	ScoreAuthority ScoreField = "authority"
	ScoreRelevance ScoreField = "relevance"
)

// WithAgentScore returns a copy with the given agent score field set.
func (r Record) WithAgentScore(field ScoreField, score float64) Record {
	switch field {
	case ScoreCVE:
		r.CVERankScore = &score
	case ScoreExploit:
		r.ExploitRankScore = &score
	case ScoreAuthority:
		r.AuthorityRankScore = &score
	case ScoreRelevance:
		r.RelevanceRankScore = &score
	}
	return r
}

// ClampCVSS clamps a CVSS score to [0,10].
func ClampCVSS(score float64) float64 {
	return clamp(score, 0, 10)
}

// ClampRelevance clamps a relevance score to [0,1].
func ClampRelevance(score float64) float64 {
	return clamp(score, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
