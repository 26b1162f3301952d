package matching

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity thresholds for the fuzzy passes. Boundaries are inclusive.
const (
	// SameSourceThreshold gates fuzzy hits inside the caller's own source
	// gazetteer, where spellings should already be close.
	SameSourceThreshold = 0.80
	// OtherSourceThreshold gates fuzzy hits against other sources' entries,
	// relaxed because cross-source spellings drift further.
	OtherSourceThreshold = 0.75
	// SuggestionThreshold gates candidates offered for human review, where
	// loose hits are acceptable noise.
	SuggestionThreshold = 0.4
)

// Similarity scores two strings in [0, 1] using longest-matching-blocks
// sequence comparison over their characters. Comparison is case-insensitive
// on trimmed input; identical strings short-circuit to 1 and empty input
// scores 0.
func Similarity(a, b string) float64 {
	s1 := strings.ToLower(strings.TrimSpace(a))
	s2 := strings.ToLower(strings.TrimSpace(b))
	if s1 == "" || s2 == "" {
		return 0
	}
	if s1 == s2 {
		return 1
	}
	return difflib.NewMatcher(splitRunes(s1), splitRunes(s2)).Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
