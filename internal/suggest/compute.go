// Package suggest computes ranked candidate locations for unmatched names so
// reviewers resolve failures from a short list instead of a blank search box.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/matching"
)

const (
	// exactLimit caps exact-name hits; when this many exist the fuzzy layers
	// are skipped entirely.
	exactLimit = 10
	// candidateLimit caps rows pulled by the canonical-name prefilter.
	candidateLimit = 100
	// trustedLimit caps rows pulled from the bulk-source gazetteers.
	trustedLimit = 50
	// keepTop is how many ranked suggestions are persisted.
	keepTop = 15
	// fragmentLen is the substring length used by the LIKE prefilters.
	fragmentLen = 3
)

// DefaultTrustedSources are the bulk gazetteer sources consulted by the last
// suggestion layer.
var DefaultTrustedSources = []string{"UNOCHA", "OpenStreetMap", "IDMC"}

// Store is the persistence surface suggestion computation needs.
type Store interface {
	UnmatchedByID(ctx context.Context, id int64) (*domain.UnmatchedLocation, error)
	LocationsByName(ctx context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error)
	LocationsByLocalName(ctx context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error)
	LocationNameCandidates(ctx context.Context, prefix, suffix string, excludeIDs []int64, limit int) ([]domain.Location, error)
	TrustedEntryCandidates(ctx context.Context, sources []string, prefix, suffix string, limit int) ([]gazetteer.EntryWithLocation, error)
	SaveSuggestions(ctx context.Context, id int64, matches []domain.Suggestion, computedAt time.Time) error
}

// Computer derives ranked location suggestions for one unmatched row.
type Computer struct {
	store   Store
	clock   clockwork.Clock
	logger  *slog.Logger
	trusted []string
}

// NewComputer creates a Computer. A nil trusted list falls back to
// DefaultTrustedSources.
func NewComputer(store Store, clock clockwork.Clock, logger *slog.Logger, trusted []string) *Computer {
	if trusted == nil {
		trusted = DefaultTrustedSources
	}
	return &Computer{store: store, clock: clock, logger: logger, trusted: trusted}
}

// Compute builds, ranks, and persists suggestions for the unmatched row with
// the given id. A row that already has a computed-at timestamp is skipped
// unless force is set; the stored suggestions are returned unchanged.
func (c *Computer) Compute(ctx context.Context, id int64, force bool) ([]domain.Suggestion, error) {
	u, err := c.store.UnmatchedByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load unmatched %d: %w", id, err)
	}
	if u.SuggestionsAt != nil && !force {
		c.logger.Debug("suggestions already computed", "id", id, "computed_at", u.SuggestionsAt)
		return u.PotentialMatches, nil
	}

	suggestions, err := c.collect(ctx, u.Name)
	if err != nil {
		return nil, err
	}
	ranked := rank(suggestions)

	if err := c.store.SaveSuggestions(ctx, id, ranked, c.clock.Now()); err != nil {
		return nil, err
	}
	c.logger.Info("suggestions computed", "id", id, "name", u.Name, "count", len(ranked))
	return ranked, nil
}

// collect runs the three layers in order, stopping early once the exact
// layer alone fills the list.
func (c *Computer) collect(ctx context.Context, name string) ([]domain.Suggestion, error) {
	out, err := c.exactMatches(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(out) >= exactLimit {
		return out, nil
	}

	prefix, suffix := fragments(name)

	out, err = c.canonicalMatches(ctx, name, prefix, suffix, out)
	if err != nil {
		return nil, err
	}
	if len(out) >= exactLimit {
		return out, nil
	}

	return c.trustedMatches(ctx, name, prefix, suffix, out)
}

// exactMatches collects locations whose primary or localized name equals the
// unmatched name, all at similarity 1.0.
func (c *Computer) exactMatches(ctx context.Context, name string) ([]domain.Suggestion, error) {
	locs, err := c.store.LocationsByName(ctx, name, gazetteer.Constraints{})
	if err != nil {
		return nil, fmt.Errorf("exact suggestion lookup: %w", err)
	}
	local, err := c.store.LocationsByLocalName(ctx, name, gazetteer.Constraints{})
	if err != nil {
		return nil, fmt.Errorf("exact local name suggestion lookup: %w", err)
	}

	seen := make(map[int64]struct{}, len(locs)+len(local))
	var out []domain.Suggestion
	add := func(loc domain.Location, matched string) {
		if _, dup := seen[loc.ID]; dup || len(out) >= exactLimit {
			return
		}
		seen[loc.ID] = struct{}{}
		out = append(out, fromLocation(loc, matched, 1.0, "primary"))
	}
	for _, loc := range locs {
		add(loc, loc.Name)
	}
	for _, loc := range local {
		add(loc, loc.LocalName)
	}
	return out, nil
}

func (c *Computer) canonicalMatches(ctx context.Context, name, prefix, suffix string, out []domain.Suggestion) ([]domain.Suggestion, error) {
	exclude := make([]int64, 0, len(out))
	for _, s := range out {
		exclude = append(exclude, s.LocationID)
	}

	locs, err := c.store.LocationNameCandidates(ctx, prefix, suffix, exclude, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("canonical suggestion lookup: %w", err)
	}
	for _, loc := range locs {
		sim := matching.Similarity(name, loc.Name)
		if loc.LocalName != "" {
			if localSim := matching.Similarity(name, loc.LocalName); localSim > sim {
				sim = localSim
			}
		}
		if sim >= matching.SuggestionThreshold {
			out = append(out, fromLocation(loc, loc.Name, sim, "primary"))
		}
	}
	return out, nil
}

func (c *Computer) trustedMatches(ctx context.Context, name, prefix, suffix string, out []domain.Suggestion) ([]domain.Suggestion, error) {
	entries, err := c.store.TrustedEntryCandidates(ctx, c.trusted, prefix, suffix, trustedLimit)
	if err != nil {
		return nil, fmt.Errorf("trusted suggestion lookup: %w", err)
	}
	for _, ewl := range entries {
		sim := matching.Similarity(name, ewl.Entry.Name)
		if sim >= matching.SuggestionThreshold {
			out = append(out, fromLocation(ewl.Location, ewl.Entry.Name, sim, "gazetteer_"+ewl.Entry.Source))
		}
	}
	return out, nil
}

// rank deduplicates by location, keeping the highest score per location, and
// returns the top suggestions ordered by descending similarity.
func rank(in []domain.Suggestion) []domain.Suggestion {
	best := make(map[int64]domain.Suggestion, len(in))
	for _, s := range in {
		if prev, ok := best[s.LocationID]; !ok || s.Similarity > prev.Similarity {
			best[s.LocationID] = s
		}
	}

	out := make([]domain.Suggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].GeoID < out[j].GeoID
	})
	if len(out) > keepTop {
		out = out[:keepTop]
	}
	return out
}

// fragments returns the leading and trailing substrings fed to the LIKE
// prefilters. A name shorter than the fragment length is used whole.
func fragments(name string) (prefix, suffix string) {
	runes := []rune(strings.ToLower(strings.TrimSpace(name)))
	if len(runes) <= fragmentLen {
		s := string(runes)
		return s, s
	}
	return string(runes[:fragmentLen]), string(runes[len(runes)-fragmentLen:])
}

func fromLocation(loc domain.Location, matchedName string, sim float64, source string) domain.Suggestion {
	return domain.Suggestion{
		LocationID:     loc.ID,
		LocationName:   loc.Name,
		AdminLevel:     loc.AdminLevel.Name,
		AdminLevelCode: loc.AdminLevel.Code,
		GeoID:          loc.GeoID,
		MatchedName:    matchedName,
		Similarity:     sim,
		MatchSource:    source,
	}
}
