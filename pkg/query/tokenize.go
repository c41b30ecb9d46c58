// Package query provides the shared keyword-extraction and fuzzy-matching
// helpers used by every search strategy: tokenization, edit distance, and
// fuzzy-match scoring.
package query

import "strings"

// MinTokenLength is the shortest token the tokenizer keeps.
const MinTokenLength = 2

// Tokenize splits text on whitespace, lowercases each piece, trims it, and
// drops anything shorter than MinTokenLength. The result has no duplicates
// and preserves first-seen order.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(strings.TrimSpace(f))
		if len(t) < MinTokenLength {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// NormalizeKeyword lowercases and trims a single keyword, or returns "" if
// it is not a valid keyword (empty after trimming).
func NormalizeKeyword(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	return k
}

// NormalizeKeywords lowercases, trims, and dedupes a set of keywords,
// dropping empties.
func NormalizeKeywords(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		k := NormalizeKeyword(r)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// HasSpecialChars reports whether s contains any of the "special" query
// characters that the router treats as a signal of a complex query.
func HasSpecialChars(s string) bool {
	return strings.ContainsAny(s, `*?":`)
}

// ContainsToken reports whether haystack contains needle as a
// case-insensitive substring. Both arguments are expected already
// lowercased by the caller where possible, but this is safe either way.
func ContainsToken(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
