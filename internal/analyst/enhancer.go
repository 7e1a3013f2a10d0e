package analyst

import (
	"fmt"
	"strings"

	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/threat"
)

// ExploitStatus is how available a working exploit is believed to be.
type ExploitStatus string

const (
	ExploitPublic   ExploitStatus = "PUBLIC"
	ExploitLikely   ExploitStatus = "LIKELY"
	ExploitPossible ExploitStatus = "POSSIBLE"
	ExploitUnknown  ExploitStatus = "UNKNOWN"
)

// PatchStatus is whether a fix is believed to exist.
type PatchStatus string

const (
	PatchLikelyAvailable PatchStatus = "LIKELY_AVAILABLE"
	PatchUnknown         PatchStatus = "UNKNOWN"
)

// Level is a three-step rating used for complexity and detection.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Impact is the business impact rating.
type Impact string

const (
	ImpactCritical Impact = "CRITICAL"
	ImpactHigh     Impact = "HIGH"
	ImpactMedium   Impact = "MEDIUM"
)

// Detection is how hard exploitation is to detect.
type Detection string

const (
	DetectionEasy   Detection = "EASY"
	DetectionMedium Detection = "MEDIUM"
	DetectionHard   Detection = "HARD"
)

// ExploitAvailability is the exploit assessment with its confidence.
type ExploitAvailability struct {
	Status     ExploitStatus `json:"status"`
	Confidence float64       `json:"confidence"`
	Note       string        `json:"note"`
}

// PatchAssessment is whether a fix is believed to exist.
type PatchAssessment struct {
	Status     PatchStatus `json:"status"`
	Confidence float64     `json:"confidence"`
	Note       string      `json:"note"`
}

// ComplexityAssessment is how hard the vulnerability is to exploit.
type ComplexityAssessment struct {
	Level Level  `json:"level"`
	Note  string `json:"note"`
}

// BusinessImpact is the impact rating and the areas that drove it.
type BusinessImpact struct {
	Level Impact   `json:"level"`
	Areas []string `json:"areas,omitempty"`
	Note  string   `json:"note"`
}

// DetectionAssessment is how hard exploitation is to spot.
type DetectionAssessment struct {
	Level Detection `json:"level"`
	Note  string    `json:"note"`
}

// Assessment is a ranked record plus its analyst annotations.
type Assessment struct {
	threat.Record
	ExploitAvailability ExploitAvailability  `json:"exploit_availability"`
	PatchStatus         PatchAssessment      `json:"patch_status"`
	AttackComplexity    ComplexityAssessment `json:"attack_complexity"`
	BusinessImpact      BusinessImpact       `json:"business_impact"`
	DetectionDifficulty DetectionAssessment  `json:"detection_difficulty"`
	AttackTechniques    []mitre.Mapping      `json:"attack_techniques"`
}

// Enhancer derives assessments from a record's title, description and
// source. It holds no mutable state.
type Enhancer struct {
	rules  Rules
	attack *mitre.AttackFramework
}

// NewEnhancer creates an enhancer. A nil framework disables technique mapping.
func NewEnhancer(rules Rules, attack *mitre.AttackFramework) *Enhancer {
	return &Enhancer{rules: rules, attack: attack}
}

// Enhance assesses every record, preserving order.
func (e *Enhancer) Enhance(records []threat.Record) []Assessment {
	out := make([]Assessment, 0, len(records))
	for _, r := range records {
		out = append(out, e.Assess(r))
	}
	return out
}

// Assess annotates one record.
func (e *Enhancer) Assess(r threat.Record) Assessment {
	text := strings.ToLower(r.Title + " " + r.Description)

	a := Assessment{
		Record:              r,
		ExploitAvailability: e.exploitAvailability(r, text),
		PatchStatus:         e.patchStatus(r),
		AttackComplexity:    e.attackComplexity(r, text),
		BusinessImpact:      e.businessImpact(r, text),
		DetectionDifficulty: e.detectionDifficulty(text),
		AttackTechniques:    []mitre.Mapping{},
	}
	if e.attack != nil {
		a.AttackTechniques = e.attack.MapThreat(r.Title, r.Description)
	}
	return a
}

func (e *Enhancer) exploitAvailability(r threat.Record, text string) ExploitAvailability {
	switch {
	case containsFold(e.rules.PublicExploitSources, r.Source):
		return ExploitAvailability{
			Status:     ExploitPublic,
			Confidence: 0.9,
			Note:       "Listed by " + r.Source + ", an exploit database",
		}
	case containsFold(e.rules.LikelyExploitSources, r.Source):
		return ExploitAvailability{
			Status:     ExploitLikely,
			Confidence: 0.7,
			Note:       "Traded on " + r.Source + ", a zero-day marketplace",
		}
	case containsFold(e.rules.KnownExploitedSources, r.Source):
		// Confirmed in-the-wild use, but the catalog publishes no exploit code.
		return ExploitAvailability{
			Status:     ExploitLikely,
			Confidence: 0.8,
			Note:       "Listed by " + r.Source + " as exploited in the wild",
		}
	}
	if term, ok := threat.ContainsAnyTerm(text, e.rules.ExploitTerms); ok {
		return ExploitAvailability{
			Status:     ExploitPossible,
			Confidence: 0.5,
			Note:       "Description mentions \"" + term + "\"",
		}
	}
	return ExploitAvailability{
		Status:     ExploitUnknown,
		Confidence: 0.2,
		Note:       "No exploit evidence in available sources",
	}
}

func (e *Enhancer) patchStatus(r threat.Record) PatchAssessment {
	switch {
	case r.HasCVE():
		return PatchAssessment{
			Status:     PatchLikelyAvailable,
			Confidence: 0.7,
			Note:       "Assigned " + r.CVEID + "; check the vendor advisory for fixed versions",
		}
	case containsFold(e.rules.PatchSources, r.Source):
		return PatchAssessment{
			Status:     PatchLikelyAvailable,
			Confidence: 0.6,
			Note:       r.Source + " entries usually name patched versions",
		}
	}
	return PatchAssessment{
		Status:     PatchUnknown,
		Confidence: 0.3,
		Note:       "No CVE or advisory reference",
	}
}

func (e *Enhancer) attackComplexity(r threat.Record, text string) ComplexityAssessment {
	term, remote := threat.ContainsAnyTerm(text, e.rules.RemoteTerms)
	switch {
	case r.CVSSScore >= 7 && remote:
		return ComplexityAssessment{Level: LevelLow, Note: fmt.Sprintf("CVSS %.1f with a %s vector", r.CVSSScore, term)}
	case r.CVSSScore >= 7:
		return ComplexityAssessment{Level: LevelMedium, Note: fmt.Sprintf("CVSS %.1f but no remote vector mentioned", r.CVSSScore)}
	case remote:
		return ComplexityAssessment{Level: LevelMedium, Note: fmt.Sprintf("Reachable via a %s vector", term)}
	case r.CVSSScore >= 4:
		return ComplexityAssessment{Level: LevelMedium, Note: fmt.Sprintf("Moderate CVSS %.1f", r.CVSSScore)}
	default:
		return ComplexityAssessment{Level: LevelHigh, Note: "Low score and no remote vector"}
	}
}

func (e *Enhancer) businessImpact(r threat.Record, text string) BusinessImpact {
	var areas []string
	for _, area := range e.rules.CriticalImpact {
		if _, ok := threat.ContainsAnyTerm(text, area.Terms); ok {
			areas = append(areas, area.Area)
		}
	}

	switch {
	case len(areas) > 0:
		return BusinessImpact{Level: ImpactCritical, Areas: areas, Note: "Critical vulnerability class: " + strings.Join(areas, ", ")}
	case r.Severity == threat.SeverityCritical:
		return BusinessImpact{Level: ImpactCritical, Note: "Rated CRITICAL severity"}
	case r.Severity == threat.SeverityHigh:
		return BusinessImpact{Level: ImpactHigh, Note: "Rated HIGH severity"}
	default:
		return BusinessImpact{Level: ImpactMedium, Note: "No critical class or high severity"}
	}
}

func (e *Enhancer) detectionDifficulty(text string) DetectionAssessment {
	if term, ok := threat.ContainsAnyTerm(text, e.rules.StealthTerms); ok {
		return DetectionAssessment{Level: DetectionHard, Note: "Mentions \"" + term + "\""}
	}
	if term, ok := threat.ContainsAnyTerm(text, e.rules.VisibleTerms); ok {
		return DetectionAssessment{Level: DetectionMedium, Note: "Leaves " + term + " traffic to inspect"}
	}
	return DetectionAssessment{Level: DetectionEasy, Note: "No evasion or network vector mentioned"}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
