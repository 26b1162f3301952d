// Package lexicon derives the suffix and prefix vocabulary used for location
// name variation generation from the gazetteer data itself.
package lexicon

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/location-resolver/internal/domain"
)

// staleAfter is how old a cached lexicon may grow before new data in the
// store triggers a rebuild.
const staleAfter = time.Hour

// geoTerms is the fixed vocabulary of generic geographic words recognized as
// name suffixes when they close a stored name.
var geoTerms = map[string]struct{}{
	"city": {}, "town": {}, "village": {}, "district": {}, "area": {},
	"zone": {}, "province": {}, "region": {}, "territory": {},
	"division": {}, "department": {},
}

// prefixVocab is the fixed vocabulary of article and directional prefixes
// (trailing space included). Only prefixes actually present in stored names
// make it into the lexicon.
var prefixVocab = []string{
	"al ", "el ", "the ", "north ", "south ", "east ", "west ",
	"central ", "upper ", "lower ",
}

// Lexicon holds the derived suffix and prefix sets. All members are
// lowercased; suffixes carry their leading separator (" state", ", sudan").
type Lexicon struct {
	AdminSuffixes      map[string]struct{}
	CountrySuffixes    map[string]struct{}
	GeographicSuffixes map[string]struct{}
	Prefixes           map[string]struct{}
}

// Suffixes returns the combined suffix sets sorted longest-first, so chained
// stripping removes the most specific suffix available at each step.
func (l *Lexicon) Suffixes() []string {
	out := make([]string, 0, len(l.AdminSuffixes)+len(l.CountrySuffixes)+len(l.GeographicSuffixes))
	for s := range l.AdminSuffixes {
		out = append(out, s)
	}
	for s := range l.CountrySuffixes {
		out = append(out, s)
	}
	for s := range l.GeographicSuffixes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// PrefixList returns the known prefixes in sorted order for deterministic
// iteration.
func (l *Lexicon) PrefixList() []string {
	out := make([]string, 0, len(l.Prefixes))
	for p := range l.Prefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Source is the subset of the gazetteer store the builder scans.
type Source interface {
	AdminLevels(ctx context.Context) ([]domain.AdminLevel, error)
	UnmatchedNames(ctx context.Context) ([]string, error)
	AllNames(ctx context.Context) ([]string, error)
	LevelZeroNames(ctx context.Context) ([]string, error)
	MaxLocationCreatedAt(ctx context.Context) (time.Time, error)
	MaxUnmatchedFirstSeen(ctx context.Context) (time.Time, error)
}

// Builder lazily builds and memoizes a Lexicon. The cache is process-local:
// in a multi-worker deployment each worker may hold a lexicon up to staleAfter
// old, which is an accepted approximation.
type Builder struct {
	store  Source
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	cached  *Lexicon
	builtAt time.Time

	onRebuild func()
}

// OnRebuild registers a callback invoked after every rebuild, used to count
// rebuilds in metrics. Must be set before the first Build.
func (b *Builder) OnRebuild(fn func()) {
	b.onRebuild = fn
}

// NewBuilder creates a Builder over the given store.
func NewBuilder(store Source, clock clockwork.Clock, logger *slog.Logger) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, clock: clock, logger: logger}
}

// Build returns the cached lexicon, rebuilding when forced, when no cache
// exists, or when the cache is older than an hour and the store's watermarks
// show data created since. Build never fails: a sub-scan error degrades that
// subset to empty with a warning.
func (b *Builder) Build(ctx context.Context, force bool) *Lexicon {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil && !force && !b.stale(ctx) {
		return b.cached
	}

	b.logger.Debug("building lexicon from store")
	lex := &Lexicon{
		AdminSuffixes:      b.scanAdminSuffixes(ctx),
		CountrySuffixes:    b.scanCountrySuffixes(ctx),
		GeographicSuffixes: map[string]struct{}{},
		Prefixes:           map[string]struct{}{},
	}
	b.scanNameCorpus(ctx, lex)

	b.cached = lex
	b.builtAt = b.clock.Now()
	if b.onRebuild != nil {
		b.onRebuild()
	}
	b.logger.Debug("lexicon built",
		"admin_suffixes", len(lex.AdminSuffixes),
		"country_suffixes", len(lex.CountrySuffixes),
		"geographic_suffixes", len(lex.GeographicSuffixes),
		"prefixes", len(lex.Prefixes))
	return lex
}

// Invalidate drops the cached lexicon so the next Build rebuilds.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.builtAt = time.Time{}
	b.mu.Unlock()
}

// stale reports whether the cache is old enough AND the store shows new data
// since it was built. Watermark probe errors count as "no new data" so a
// flaky store cannot force rebuild loops.
func (b *Builder) stale(ctx context.Context) bool {
	if b.clock.Since(b.builtAt) <= staleAfter {
		return false
	}
	if wm, err := b.store.MaxLocationCreatedAt(ctx); err == nil && wm.After(b.builtAt) {
		return true
	}
	if wm, err := b.store.MaxUnmatchedFirstSeen(ctx); err == nil && wm.After(b.builtAt) {
		return true
	}
	return false
}

// scanAdminSuffixes derives " state"/" states"-style suffixes from the
// administrative level names.
func (b *Builder) scanAdminSuffixes(ctx context.Context) map[string]struct{} {
	out := map[string]struct{}{}
	levels, err := b.store.AdminLevels(ctx)
	if err != nil {
		b.logger.Warn("could not load admin level suffixes", "error", err)
		return out
	}
	for _, level := range levels {
		name := strings.ToLower(level.Name)
		out[" "+name] = struct{}{}
		if !strings.HasSuffix(name, "s") {
			out[" "+Pluralize(name)] = struct{}{}
		}
	}
	return out
}

// scanCountrySuffixes mines ", <country>" patterns from unmatched names and
// seeds one suffix per root-level location so fresh deployments strip their
// countries before any failure has accumulated.
func (b *Builder) scanCountrySuffixes(ctx context.Context) map[string]struct{} {
	out := map[string]struct{}{}

	names, err := b.store.UnmatchedNames(ctx)
	if err != nil {
		b.logger.Warn("could not analyze unmatched locations", "error", err)
	} else {
		for _, name := range names {
			lower := strings.ToLower(name)
			if !strings.Contains(lower, ", ") {
				continue
			}
			tail := strings.TrimSpace(lower[strings.LastIndex(lower, ", ")+2:])
			// Country names are usually one or two words.
			if tail != "" && len(strings.Fields(tail)) <= 2 {
				out[", "+tail] = struct{}{}
			}
		}
	}

	countries, err := b.store.LevelZeroNames(ctx)
	if err != nil {
		b.logger.Warn("could not load country names", "error", err)
		return out
	}
	for _, name := range countries {
		out[", "+strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return out
}

// scanNameCorpus walks every stored location and gazetteer name once,
// collecting geographic suffixes and observed prefixes.
func (b *Builder) scanNameCorpus(ctx context.Context, lex *Lexicon) {
	names, err := b.store.AllNames(ctx)
	if err != nil {
		b.logger.Warn("could not scan name corpus", "error", err)
		return
	}
	for _, name := range names {
		lower := strings.ToLower(name)

		if words := strings.Fields(lower); len(words) > 1 {
			if _, ok := geoTerms[words[len(words)-1]]; ok {
				lex.GeographicSuffixes[" "+words[len(words)-1]] = struct{}{}
			}
		}
		for _, prefix := range prefixVocab {
			if strings.HasPrefix(lower, prefix) {
				lex.Prefixes[prefix] = struct{}{}
			}
		}
	}
}
