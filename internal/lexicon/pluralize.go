package lexicon

import "strings"

var irregularPlurals = map[string]string{
	"child":  "children",
	"person": "people",
	"man":    "men",
	"woman":  "women",
	"foot":   "feet",
	"tooth":  "teeth",
}

func isVowel(c byte) bool {
	return strings.IndexByte("aeiou", c) >= 0
}

// Pluralize applies English pluralization rules to a lowercased word:
// irregular nouns first, then suffix rules (es/ies/ves/oes), else +"s".
func Pluralize(word string) string {
	word = strings.ToLower(word)
	if p, ok := irregularPlurals[word]; ok {
		return p
	}

	switch {
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "sh"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "z"):
		return word + "es"
	case strings.HasSuffix(word, "fe"):
		return word[:len(word)-2] + "ves"
	case strings.HasSuffix(word, "f"):
		return word[:len(word)-1] + "ves"
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(word[len(word)-2]):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "o") && len(word) > 1 && !isVowel(word[len(word)-2]):
		return word + "es"
	default:
		return word + "s"
	}
}
