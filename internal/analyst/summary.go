package analyst

import (
	"fmt"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// Priority is a finding that needs attention now.
type Priority struct {
	Title               string          `json:"title"`
	CVEID               string          `json:"cve_id"`
	Source              string          `json:"source"`
	Severity            threat.Severity `json:"severity"`
	ExploitAvailability ExploitStatus   `json:"exploit_availability"`
}

// Summary aggregates a set of assessments.
type Summary struct {
	TotalThreats        int        `json:"total_threats"`
	CriticalCount       int        `json:"critical_count"`
	HighCount           int        `json:"high_count"`
	PublicExploits      int        `json:"public_exploits"`
	LowComplexity       int        `json:"low_complexity"`
	ImmediatePriorities []Priority `json:"immediate_priorities"`
	Recommendations     []string   `json:"recommendations"`
}

// Summarize counts the assessments and lists immediate priorities in the
// order given, which is expected to be ensemble order.
func (e *Enhancer) Summarize(assessments []Assessment) Summary {
	s := Summary{
		TotalThreats:        len(assessments),
		ImmediatePriorities: []Priority{},
	}

	for _, a := range assessments {
		switch a.Severity {
		case threat.SeverityCritical:
			s.CriticalCount++
		case threat.SeverityHigh:
			s.HighCount++
		}
		if a.ExploitAvailability.Status == ExploitPublic {
			s.PublicExploits++
		}
		if a.AttackComplexity.Level == LevelLow {
			s.LowComplexity++
		}

		if len(s.ImmediatePriorities) < e.rules.MaxPriorities && isImmediate(a) {
			s.ImmediatePriorities = append(s.ImmediatePriorities, Priority{
				Title:               a.Title,
				CVEID:               a.CVEID,
				Source:              a.Source,
				Severity:            a.Severity,
				ExploitAvailability: a.ExploitAvailability.Status,
			})
		}
	}

	s.Recommendations = recommendations(s)
	return s
}

// isImmediate selects severe findings with a known or likely exploit.
func isImmediate(a Assessment) bool {
	severe := a.Severity == threat.SeverityCritical || a.Severity == threat.SeverityHigh
	exploitable := a.ExploitAvailability.Status == ExploitPublic || a.ExploitAvailability.Status == ExploitLikely
	return severe && exploitable
}

func recommendations(s Summary) []string {
	if s.TotalThreats == 0 {
		return []string{
			"No relevant threats were found in the available sources; continue routine monitoring of vendor advisories.",
		}
	}

	var recs []string
	if n := len(s.ImmediatePriorities); n > 0 {
		recs = append(recs, fmt.Sprintf("Remediate %d immediate priorit%s first: severe and with a public or likely exploit.", n, plural(n, "y", "ies")))
	}
	if s.CriticalCount > 0 {
		recs = append(recs, fmt.Sprintf("Patch %d critical vulnerabilit%s within 24-48 hours.", s.CriticalCount, plural(s.CriticalCount, "y", "ies")))
	}
	if s.PublicExploits > 0 {
		recs = append(recs, fmt.Sprintf("Deploy detection for %d publicly exploited issue%s and monitor for exploitation attempts.", s.PublicExploits, plural(s.PublicExploits, "", "s")))
	}
	if s.LowComplexity > 0 {
		recs = append(recs, fmt.Sprintf("Restrict network exposure: %d finding%s can be exploited remotely with low complexity.", s.LowComplexity, plural(s.LowComplexity, "", "s")))
	}
	if s.HighCount > 0 {
		recs = append(recs, fmt.Sprintf("Schedule remediation of %d high-severity finding%s within 7 days.", s.HighCount, plural(s.HighCount, "", "s")))
	}
	recs = append(recs, "Subscribe to vendor security advisories for this product and re-run the assessment after patching.")
	return recs
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
