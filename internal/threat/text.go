package threat

import "strings"

// minKeywordLen is the length a query word must exceed to count as a keyword.
const minKeywordLen = 2

// Keywords splits a query into lower-cased words longer than two characters.
func Keywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) > minKeywordLen {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// NormalizeQuery lower-cases a query and collapses its whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// ContainsTerm reports whether term occurs in text as a whole word or
// phrase. Both are expected lower-cased. A term edge that is punctuation
// matches anywhere, so "../" finds path fragments.
func ContainsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)

		leftOK := i == 0 || !isWordByte(text[i-1]) || !isWordByte(term[0])
		rightOK := end == len(text) || !isWordByte(text[end]) || !isWordByte(term[len(term)-1])
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
	return false
}

// ContainsAnyTerm returns the first term found in text.
func ContainsAnyTerm(text string, terms []string) (string, bool) {
	for _, term := range terms {
		if ContainsTerm(text, term) {
			return term, true
		}
	}
	return "", false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
