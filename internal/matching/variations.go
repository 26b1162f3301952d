package matching

import (
	"strings"

	"github.com/couchcryptid/location-resolver/internal/lexicon"
)

// Generator produces candidate normalized forms of a raw location name using
// the lexicon's suffix and prefix sets. It is deliberately over-generative;
// the matching tiers filter the noise with constraints and thresholds.
type Generator struct {
	lex *lexicon.Lexicon
}

// NewGenerator creates a Generator over a built lexicon.
func NewGenerator(lex *lexicon.Lexicon) *Generator {
	return &Generator{lex: lex}
}

// Variations returns the deduplicated candidate forms of name, always
// including the trimmed original. Order is deterministic (insertion order of
// the generation passes).
func (g *Generator) Variations(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	seen := map[string]struct{}{name: {}}
	out := []string{name}
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	g.suffixVariations(name, add)
	g.commaVariations(name, add)
	g.prefixVariations(name, add)
	return out
}

// suffixVariations strips known suffixes through a work queue so chained
// removal works: "Khartoum State, Sudan" loses ", sudan" and then " state"
// before reaching "Khartoum".
func (g *Generator) suffixVariations(name string, add func(string)) {
	suffixes := g.lex.Suffixes()

	queue := []string{name}
	processed := map[string]struct{}{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := processed[current]; ok {
			continue
		}
		processed[current] = struct{}{}

		lower := strings.ToLower(current)
		for _, suffix := range suffixes {
			if !strings.HasSuffix(lower, suffix) {
				continue
			}
			clean := strings.TrimSpace(current[:len(current)-len(suffix)])
			if clean == "" {
				continue
			}
			if _, ok := processed[clean]; !ok {
				add(clean)
				queue = append(queue, clean)
			}
		}
	}
}

// commaVariations emits each comma segment longer than two characters plus
// every adjacent two-segment window, both with and without the comma.
func (g *Generator) commaVariations(name string, add func(string)) {
	if !strings.Contains(name, ",") {
		return
	}
	parts := strings.Split(name, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	for _, part := range parts {
		if len(part) > 2 {
			add(part)
		}
	}
	for i := 0; i+1 < len(parts); i++ {
		add(parts[i] + ", " + parts[i+1])
		add(parts[i] + " " + parts[i+1])
	}
}

// prefixVariations speculatively adds known prefixes when the name has none
// ("Fasher" -> "Al Fasher"), and strips a present prefix otherwise.
func (g *Generator) prefixVariations(name string, add func(string)) {
	lower := strings.ToLower(name)
	prefixes := g.lex.PrefixList()

	hasPrefix := false
	for _, prefix := range prefixes {
		if strings.HasPrefix(lower, prefix) {
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		for _, prefix := range prefixes {
			add(titleCase(prefix) + name)
		}
		return
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(lower, prefix) {
			add(strings.TrimSpace(name[len(prefix):]))
		}
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
