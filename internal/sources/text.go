package sources

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	severityPattern = regexp.MustCompile(`(?i)\b(?:max(?:imum)?\s+severity|severity(?:\s+rating)?|impact|rating)\s*[:=-]?\s*(critical|important|high|moderate|medium|low)\b`)
)

// stripTags removes markup from feed and search snippets.
func stripTags(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
}

// severityLabelFromText picks up a vendor rating from a labelled phrase such
// as "Max Severity: Critical" or "Impact: high". Rating words elsewhere in the
// prose are ignored.
func severityLabelFromText(text string) string {
	m := severityPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func containsAll(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(haystack, k) {
			return false
		}
	}
	return true
}

func containsAny(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(haystack, k) {
			return true
		}
	}
	return false
}
