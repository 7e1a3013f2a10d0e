// Package analyst annotates ranked threat records with analyst-oriented
// assessments and summarizes the result.
package analyst

// ImpactArea names a business area and the terms that implicate it.
type ImpactArea struct {
	Area  string   `yaml:"area"`
	Terms []string `yaml:"terms"`
}

// Rules are the keyword tables behind every assessment. They are loaded
// once and never modified.
//
// KnownExploitedSources are catalogs of vulnerabilities with confirmed
// in-the-wild exploitation. They rate LIKELY like a zero-day marketplace but
// with their own note, since they publish no exploit code.
type Rules struct {
	PublicExploitSources  []string     `yaml:"public_exploit_sources"`
	LikelyExploitSources  []string     `yaml:"likely_exploit_sources"`
	KnownExploitedSources []string     `yaml:"known_exploited_sources"`
	ExploitTerms          []string     `yaml:"exploit_terms"`
	PatchSources          []string     `yaml:"patch_sources"`
	RemoteTerms           []string     `yaml:"remote_terms"`
	CriticalImpact        []ImpactArea `yaml:"critical_impact"`
	StealthTerms          []string     `yaml:"stealth_terms"`
	VisibleTerms          []string     `yaml:"visible_terms"`
	MaxPriorities         int          `yaml:"max_priorities"`
}

// DefaultRules returns the stock keyword tables.
func DefaultRules() Rules {
	return Rules{
		PublicExploitSources:  []string{"Exploit Database", "Packet Storm", "Rapid7", "Vulners"},
		LikelyExploitSources:  []string{"0day.today"},
		KnownExploitedSources: []string{"CISA KEV"},
		ExploitTerms: []string{
			"exploit", "exploits", "exploited", "exploitation", "exploitable",
			"proof of concept", "proof-of-concept", "poc", "metasploit", "weaponized", "in the wild",
		},
		PatchSources: []string{"GitHub Security Advisory"},
		RemoteTerms:  []string{"remote", "remotely", "unauthenticated", "network"},
		CriticalImpact: []ImpactArea{
			{Area: "Remote code execution", Terms: []string{"remote code execution", "rce", "arbitrary code", "code execution"}},
			{Area: "SQL injection", Terms: []string{"sql injection", "sqli"}},
			{Area: "Cross-site scripting", Terms: []string{"cross-site scripting", "cross site scripting", "xss"}},
			{Area: "Cross-site request forgery", Terms: []string{"cross-site request forgery", "cross site request forgery", "csrf", "xsrf"}},
			{Area: "Authentication bypass", Terms: []string{"authentication bypass", "auth bypass", "bypass authentication"}},
			{Area: "Privilege escalation", Terms: []string{"privilege escalation", "elevation of privilege", "escalate privileges"}},
			{Area: "Buffer overflow", Terms: []string{"buffer overflow", "heap overflow", "stack overflow", "buffer overrun"}},
			{Area: "Insecure deserialization", Terms: []string{"deserialization", "insecure deserialization", "unsafe deserialization"}},
			{Area: "Path traversal", Terms: []string{"path traversal", "directory traversal"}},
			{Area: "XML external entity", Terms: []string{"xxe", "xml external entity", "xml external entities"}},
			{Area: "Server-side request forgery", Terms: []string{"ssrf", "server-side request forgery", "server side request forgery"}},
		},
		StealthTerms: []string{
			"stealth", "stealthy", "fileless", "bypass", "evasion", "evade", "rootkit",
			"obfuscated", "obfuscation",
		},
		VisibleTerms:  []string{"network", "remote", "web", "http"},
		MaxPriorities: 5,
	}
}
