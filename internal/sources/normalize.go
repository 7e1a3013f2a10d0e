package sources

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lvonguyen/threatlens/internal/threat"
)

const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 500
)

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// Normalizer maps raw connector items onto threat records. It is stateless
// and safe for concurrent use.
type Normalizer struct{}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts every raw item, preserving order.
func (n *Normalizer) Normalize(items []RawItem) []threat.Record {
	records := make([]threat.Record, 0, len(items))
	for _, item := range items {
		records = append(records, n.Record(item))
	}
	return records
}

// Record converts one raw item.
func (n *Normalizer) Record(item RawItem) threat.Record {
	cvss := threat.ClampCVSS(ExtractCVSS(item.Metrics, item.Score))

	severity := threat.ParseSeverity(item.SeverityLabel)
	if severity == threat.SeverityUnknown {
		severity = threat.SeverityFromCVSS(cvss)
	}

	authority := item.Authority
	if authority == "" {
		authority = threat.AuthorityCommunity
	} else {
		authority = threat.ParseAuthority(string(authority))
	}

	return threat.Record{
		Source:        item.Source,
		Authority:     authority,
		Title:         Truncate(collapseSpace(item.Title), maxTitleRunes),
		Description:   Truncate(collapseSpace(item.Description), maxDescriptionRunes),
		CVEID:         NormalizeCVE(item.CVEID),
		Severity:      severity,
		CVSSScore:     cvss,
		PublishedDate: ParseDate(item.Published),
		URL:           strings.TrimSpace(item.URL),
	}
}

// ExtractCVSS returns the first reported v3.1 base score, else v3.0, else
// v2, else the direct score.
func ExtractCVSS(m CVSSMetrics, direct float64) float64 {
	for _, scores := range [][]float64{m.V31, m.V30, m.V2} {
		if len(scores) > 0 {
			return scores[0]
		}
	}
	return direct
}

// ParseDate parses a source date. Unparseable input yields the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// NormalizeCVE upper-cases a well-formed CVE id and maps anything else to
// the sentinel.
func NormalizeCVE(id string) string {
	id = strings.TrimSpace(id)
	if threat.IsCVE(id) {
		return strings.ToUpper(id)
	}
	return threat.NoCVE
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
