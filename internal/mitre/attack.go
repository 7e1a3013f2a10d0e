// Package mitre maps vulnerability descriptions onto MITRE ATT&CK techniques
package mitre

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// AttackFramework holds a catalog of ATT&CK techniques and tactics and the
// keyword rules that map vulnerability text onto them
type AttackFramework struct {
	techniques map[string]*Technique
	tactics    map[string]*Tactic
	rules      []rule // fixed at construction
	mu         sync.RWMutex
	logger     *zap.Logger
}

// Technique represents a MITRE ATT&CK technique
type Technique struct {
	ID      string   `json:"id"`      // e.g., "T1190"
	Name    string   `json:"name"`    // e.g., "Exploit Public-Facing Application"
	Tactics []string `json:"tactics"` // e.g., ["initial-access"]
	URL     string   `json:"url"`
}

// Tactic represents a MITRE ATT&CK tactic
type Tactic struct {
	ID        string `json:"id"`         // e.g., "TA0001"
	Name      string `json:"name"`       // e.g., "Initial Access"
	ShortName string `json:"short_name"` // e.g., "initial-access"
	URL       string `json:"url"`
}

// Mapping is one technique attributed to a threat record
type Mapping struct {
	TechniqueID   string  `json:"technique_id"`
	TechniqueName string  `json:"technique_name"`
	TacticID      string  `json:"tactic_id"`
	TacticName    string  `json:"tactic_name"`
	Confidence    float64 `json:"confidence"` // 0.0 - 1.0
	Evidence      string  `json:"evidence"`
}

// rule attributes a technique when any of its terms appears in the text
type rule struct {
	technique  string
	tactic     string
	terms      []string
	confidence float64
}

// NewAttackFramework creates a framework with the built-in catalog
func NewAttackFramework(logger *zap.Logger) *AttackFramework {
	if logger == nil {
		logger = zap.NewNop()
	}

	af := &AttackFramework{
		techniques: make(map[string]*Technique),
		tactics:    make(map[string]*Tactic),
		logger:     logger,
	}

	af.initializeTechniques()
	af.initializeTactics()
	af.rules = defaultRules()

	return af
}

// MapThreat maps a vulnerability's title and description to techniques.
// Each technique appears at most once, highest confidence first.
func (af *AttackFramework) MapThreat(title, description string) []Mapping {
	text := strings.ToLower(title + " " + description)

	seen := make(map[string]bool)
	mappings := make([]Mapping, 0)

	for _, r := range af.rules {
		if seen[r.technique] {
			continue
		}
		term, ok := threat.ContainsAnyTerm(text, r.terms)
		if !ok {
			continue
		}

		tech, ok := af.GetTechnique(r.technique)
		if !ok {
			af.logger.Debug("Rule references unknown technique", zap.String("technique", r.technique))
			continue
		}
		tactic, _ := af.GetTactic(r.tactic)

		m := Mapping{
			TechniqueID:   tech.ID,
			TechniqueName: tech.Name,
			Confidence:    r.confidence,
			Evidence:      fmt.Sprintf("matched %q", term),
		}
		if tactic != nil {
			m.TacticID = tactic.ID
			m.TacticName = tactic.Name
		}

		seen[r.technique] = true
		mappings = append(mappings, m)
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Confidence > mappings[j].Confidence
	})

	return mappings
}

// TechniqueIDs returns the technique ids of a mapping list
func TechniqueIDs(mappings []Mapping) []string {
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.TechniqueID)
	}
	return ids
}

// GetTechnique returns a technique by ID
func (af *AttackFramework) GetTechnique(id string) (*Technique, bool) {
	af.mu.RLock()
	defer af.mu.RUnlock()
	t, ok := af.techniques[strings.ToUpper(id)]
	return t, ok
}

// GetTactic returns a tactic by ID or short name
func (af *AttackFramework) GetTactic(id string) (*Tactic, bool) {
	af.mu.RLock()
	defer af.mu.RUnlock()
	if t, ok := af.tactics[strings.ToLower(id)]; ok {
		return t, true
	}
	t, ok := af.tactics[strings.ToUpper(id)]
	return t, ok
}

// GetTechniquesByTactic returns all techniques for a given tactic
func (af *AttackFramework) GetTechniquesByTactic(tacticID string) []*Technique {
	af.mu.RLock()
	defer af.mu.RUnlock()

	result := make([]*Technique, 0)
	tacticShortName := strings.ToLower(tacticID)

	for _, t := range af.techniques {
		for _, tactic := range t.Tactics {
			if strings.ToLower(tactic) == tacticShortName {
				result = append(result, t)
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func defaultRules() []rule {
	return []rule{
		{technique: "T1190", tactic: "initial-access", confidence: 0.8,
			terms: []string{"remote code execution", "rce", "unauthenticated remote", "public-facing", "remote attacker"}},
		{technique: "T1059", tactic: "execution", confidence: 0.7,
			terms: []string{"command injection", "os command", "code injection", "arbitrary command", "arbitrary code"}},
		{technique: "T1059.007", tactic: "execution", confidence: 0.7,
			terms: []string{"cross-site scripting", "xss", "javascript injection"}},
		{technique: "T1068", tactic: "privilege-escalation", confidence: 0.75,
			terms: []string{"privilege escalation", "elevation of privilege", "escalate privileges", "gain root"}},
		{technique: "T1078", tactic: "initial-access", confidence: 0.6,
			terms: []string{"default credentials", "hardcoded credentials", "hard-coded credentials", "valid accounts"}},
		{technique: "T1110", tactic: "credential-access", confidence: 0.6,
			terms: []string{"brute force", "brute-force", "password guessing"}},
		{technique: "T1212", tactic: "credential-access", confidence: 0.65,
			terms: []string{"credential disclosure", "password disclosure", "leak credentials", "session token"}},
		{technique: "T1556", tactic: "credential-access", confidence: 0.7,
			terms: []string{"authentication bypass", "bypass authentication", "auth bypass"}},
		{technique: "T1083", tactic: "discovery", confidence: 0.6,
			terms: []string{"path traversal", "directory traversal", "../"}},
		{technique: "T1005", tactic: "collection", confidence: 0.55,
			terms: []string{"information disclosure", "sensitive information", "arbitrary file read", "file disclosure"}},
		{technique: "T1505.003", tactic: "persistence", confidence: 0.65,
			terms: []string{"web shell", "webshell", "jsp upload", "file upload"}},
		{technique: "T1203", tactic: "execution", confidence: 0.6,
			terms: []string{"deserialization", "memory corruption", "buffer overflow", "use-after-free", "heap overflow"}},
		{technique: "T1189", tactic: "initial-access", confidence: 0.5,
			terms: []string{"drive-by", "malicious web page", "crafted web page", "visiting a malicious"}},
		{technique: "T1566", tactic: "initial-access", confidence: 0.5,
			terms: []string{"phishing", "malicious document", "crafted document", "open a specially crafted file"}},
		{technique: "T1499", tactic: "impact", confidence: 0.6,
			terms: []string{"denial of service", "denial-of-service", "resource exhaustion", "crash the"}},
		{technique: "T1027", tactic: "defense-evasion", confidence: 0.5,
			terms: []string{"obfuscated", "obfuscation", "evasion", "bypass security"}},
		{technique: "T1557", tactic: "credential-access", confidence: 0.55,
			terms: []string{"man-in-the-middle", "adversary-in-the-middle", "certificate validation", "tls verification"}},
		{technique: "T1486", tactic: "impact", confidence: 0.5,
			terms: []string{"ransomware"}},
	}
}

func (af *AttackFramework) initializeTechniques() {
	af.mu.Lock()
	defer af.mu.Unlock()

	techniques := []*Technique{
		{ID: "T1190", Name: "Exploit Public-Facing Application", Tactics: []string{"initial-access"}},
		{ID: "T1189", Name: "Drive-by Compromise", Tactics: []string{"initial-access"}},
		{ID: "T1566", Name: "Phishing", Tactics: []string{"initial-access"}},
		{ID: "T1078", Name: "Valid Accounts", Tactics: []string{"initial-access", "persistence", "privilege-escalation", "defense-evasion"}},
		{ID: "T1059", Name: "Command and Scripting Interpreter", Tactics: []string{"execution"}},
		{ID: "T1059.007", Name: "JavaScript", Tactics: []string{"execution"}},
		{ID: "T1203", Name: "Exploitation for Client Execution", Tactics: []string{"execution"}},
		{ID: "T1505.003", Name: "Web Shell", Tactics: []string{"persistence"}},
		{ID: "T1068", Name: "Exploitation for Privilege Escalation", Tactics: []string{"privilege-escalation"}},
		{ID: "T1027", Name: "Obfuscated Files or Information", Tactics: []string{"defense-evasion"}},
		{ID: "T1110", Name: "Brute Force", Tactics: []string{"credential-access"}},
		{ID: "T1212", Name: "Exploitation for Credential Access", Tactics: []string{"credential-access"}},
		{ID: "T1556", Name: "Modify Authentication Process", Tactics: []string{"credential-access", "defense-evasion", "persistence"}},
		{ID: "T1557", Name: "Adversary-in-the-Middle", Tactics: []string{"credential-access", "collection"}},
		{ID: "T1083", Name: "File and Directory Discovery", Tactics: []string{"discovery"}},
		{ID: "T1005", Name: "Data from Local System", Tactics: []string{"collection"}},
		{ID: "T1499", Name: "Endpoint Denial of Service", Tactics: []string{"impact"}},
		{ID: "T1486", Name: "Data Encrypted for Impact", Tactics: []string{"impact"}},
	}

	for _, t := range techniques {
		t.URL = fmt.Sprintf("https://attack.mitre.org/techniques/%s/", strings.ReplaceAll(t.ID, ".", "/"))
		af.techniques[t.ID] = t
	}
}

func (af *AttackFramework) initializeTactics() {
	af.mu.Lock()
	defer af.mu.Unlock()

	tactics := []*Tactic{
		{ID: "TA0001", Name: "Initial Access", ShortName: "initial-access"},
		{ID: "TA0002", Name: "Execution", ShortName: "execution"},
		{ID: "TA0003", Name: "Persistence", ShortName: "persistence"},
		{ID: "TA0004", Name: "Privilege Escalation", ShortName: "privilege-escalation"},
		{ID: "TA0005", Name: "Defense Evasion", ShortName: "defense-evasion"},
		{ID: "TA0006", Name: "Credential Access", ShortName: "credential-access"},
		{ID: "TA0007", Name: "Discovery", ShortName: "discovery"},
		{ID: "TA0008", Name: "Lateral Movement", ShortName: "lateral-movement"},
		{ID: "TA0009", Name: "Collection", ShortName: "collection"},
		{ID: "TA0010", Name: "Exfiltration", ShortName: "exfiltration"},
		{ID: "TA0011", Name: "Command and Control", ShortName: "command-and-control"},
		{ID: "TA0040", Name: "Impact", ShortName: "impact"},
	}

	for _, t := range tactics {
		t.URL = fmt.Sprintf("https://attack.mitre.org/tactics/%s/", t.ID)
		af.tactics[t.ShortName] = t
		af.tactics[t.ID] = t
	}
}
