package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/lexicon"
	"github.com/couchcryptid/location-resolver/internal/observability"
)

// Store is the gazetteer surface the matcher reads from.
type Store interface {
	LocationsByName(ctx context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error)
	LocationsByLocalName(ctx context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error)
	LocationByGeoID(ctx context.Context, geoID string, c gazetteer.Constraints) (*domain.Location, error)
	EntryLocationsByName(ctx context.Context, source, name string, c gazetteer.Constraints) ([]domain.Location, error)
	EntryLocationsByCode(ctx context.Context, source, code string, c gazetteer.Constraints) ([]domain.Location, error)
	EntriesForSource(ctx context.Context, source string, c gazetteer.Constraints) ([]gazetteer.EntryWithLocation, error)
	OtherSourceLocationsByName(ctx context.Context, excludeSource, name string, c gazetteer.Constraints) ([]domain.Location, error)
	OtherSourceEntriesContaining(ctx context.Context, excludeSource, fragment string, c gazetteer.Constraints, limit int) ([]gazetteer.EntryWithLocation, error)
}

// containmentLimit caps the candidate rows pulled per variation during the
// cross-source containment prefilter.
const containmentLimit = 200

// Query describes one location to resolve.
type Query struct {
	// Name is the raw location string from the feed.
	Name string
	// Source identifies the feed, and selects which gazetteer entries count
	// as "own source" versus "other sources".
	Source string
	// AdminLevel constrains candidates to one administrative level when set.
	AdminLevel *int
	// Parent constrains candidates to direct children of this location when
	// set, and breaks ties between the remaining candidates.
	Parent *domain.Location
	// Context carries feed fields that only matter for failure reporting.
	Context map[string]string
}

type memoKey struct {
	name       string
	source     string
	adminLevel int
	hasLevel   bool
	parentID   int64
	hasParent  bool
}

// Matcher resolves raw location names to canonical locations through three
// tiers: the query's own source gazetteer, the canonical location table with
// name variations, and finally every other source's gazetteer.
type Matcher struct {
	store   Store
	lexicon *lexicon.Builder
	logger  *slog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	memo map[memoKey]*domain.Location
}

// New creates a Matcher over the given store and lexicon builder.
func New(store Store, lex *lexicon.Builder, logger *slog.Logger, metrics *observability.Metrics) *Matcher {
	return &Matcher{
		store:   store,
		lexicon: lex,
		logger:  logger,
		metrics: metrics,
		memo:    make(map[memoKey]*domain.Location),
	}
}

// Match resolves q to a canonical location, or nil when no tier produces a
// match. Store errors degrade: the failing tier is skipped and the rest still
// run. Results, including misses, are memoized per Matcher instance.
func (m *Matcher) Match(ctx context.Context, q Query) *domain.Location {
	name := strings.TrimSpace(q.Name)
	if name == "" {
		return nil
	}

	key := q.memoKey(name)
	m.mu.Lock()
	if loc, ok := m.memo[key]; ok {
		m.mu.Unlock()
		return loc
	}
	m.mu.Unlock()

	start := time.Now()
	loc, tier := m.match(ctx, name, q)
	m.metrics.MatchDuration.Observe(time.Since(start).Seconds())

	if loc != nil {
		m.metrics.MatchAttempts.WithLabelValues(tier, "hit").Inc()
		m.logger.Debug(fmt.Sprintf("matched %s to geo_id %s", name, loc.GeoID),
			"source", q.Source, "tier", tier)
	} else {
		m.metrics.MatchAttempts.WithLabelValues("none", "miss").Inc()
		m.logger.Warn("no match found", "name", name, "source", q.Source,
			"context", domain.ContextString(q.Source, q.Context))
	}

	m.mu.Lock()
	m.memo[key] = loc
	m.mu.Unlock()
	return loc
}

// Reset drops the memoized results, forcing fresh lookups after the
// gazetteer changes.
func (m *Matcher) Reset() {
	m.mu.Lock()
	m.memo = make(map[memoKey]*domain.Location)
	m.mu.Unlock()
}

func (m *Matcher) match(ctx context.Context, name string, q Query) (*domain.Location, string) {
	c := gazetteer.Constraints{AdminLevel: q.AdminLevel}
	if q.Parent != nil {
		c.ParentID = &q.Parent.ID
	}

	if q.Source != "" {
		if loc := m.matchSource(ctx, name, q, c); loc != nil {
			return loc, "source"
		}
	}
	if loc := m.matchCanonical(ctx, name, q, c); loc != nil {
		return loc, "canonical"
	}
	if loc := m.matchCrossSource(ctx, name, q, c); loc != nil {
		return loc, "cross_source"
	}
	return nil, ""
}

// matchSource checks the query's own source gazetteer: exact name, exact
// code, then fuzzy name.
func (m *Matcher) matchSource(ctx context.Context, name string, q Query, c gazetteer.Constraints) *domain.Location {
	locs, err := m.store.EntryLocationsByName(ctx, q.Source, name, c)
	if err != nil {
		m.logger.Error("source entry lookup failed", "name", name, "error", err)
	} else if loc := pickCandidate(locs, q.Parent); loc != nil {
		return loc
	}

	locs, err = m.store.EntryLocationsByCode(ctx, q.Source, name, c)
	if err != nil {
		m.logger.Error("source code lookup failed", "name", name, "error", err)
	} else if loc := pickCandidate(locs, q.Parent); loc != nil {
		return loc
	}

	entries, err := m.store.EntriesForSource(ctx, q.Source, c)
	if err != nil {
		m.logger.Error("source entry scan failed", "source", q.Source, "error", err)
		return nil
	}
	var best *gazetteer.EntryWithLocation
	bestScore := 0.0
	for i := range entries {
		score := Similarity(name, entries[i].Entry.Name)
		if score > bestScore {
			best = &entries[i]
			bestScore = score
		}
	}
	if best != nil && bestScore >= SameSourceThreshold {
		loc := best.Location
		return &loc
	}
	return nil
}

// matchCanonical checks the canonical location table: exact name or local
// name, geo_id, then every lexicon variation of the name.
func (m *Matcher) matchCanonical(ctx context.Context, name string, q Query, c gazetteer.Constraints) *domain.Location {
	locs, err := m.store.LocationsByName(ctx, name, c)
	if err != nil {
		m.logger.Error("location name lookup failed", "name", name, "error", err)
	}
	if len(locs) == 0 {
		locs, err = m.store.LocationsByLocalName(ctx, name, c)
		if err != nil {
			m.logger.Error("location local name lookup failed", "name", name, "error", err)
		}
	}
	if loc := pickCandidate(locs, q.Parent); loc != nil {
		return loc
	}

	if loc, err := m.store.LocationByGeoID(ctx, name, c); err == nil && loc != nil {
		return loc
	}

	gen := NewGenerator(m.lexicon.Build(ctx, false))
	type scored struct {
		loc   domain.Location
		level int
		sim   float64
	}
	var hits []scored
	for _, v := range gen.Variations(name) {
		if v == name {
			continue
		}
		for _, lookup := range []func(context.Context, string, gazetteer.Constraints) ([]domain.Location, error){
			m.store.LocationsByName, m.store.LocationsByLocalName,
		} {
			found, err := lookup(ctx, v, c)
			if err != nil {
				m.logger.Error("variation lookup failed", "variation", v, "error", err)
				continue
			}
			for _, loc := range found {
				hits = append(hits, scored{loc: loc, level: loc.AdminLevel.Code, sim: Similarity(name, loc.Name)})
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}

	// Prefer a candidate under the parent constraint before scoring.
	if q.Parent != nil {
		for i := range hits {
			if hits[i].loc.ParentID != nil && *hits[i].loc.ParentID == q.Parent.ID {
				return &hits[i].loc
			}
		}
	}

	best := 0
	for i := 1; i < len(hits); i++ {
		if hits[i].level > hits[best].level ||
			(hits[i].level == hits[best].level && hits[i].sim > hits[best].sim) {
			best = i
		}
	}
	return &hits[best].loc
}

// matchCrossSource checks every other source's gazetteer: exact name first,
// then containment-prefiltered fuzzy per variation.
func (m *Matcher) matchCrossSource(ctx context.Context, name string, q Query, c gazetteer.Constraints) *domain.Location {
	locs, err := m.store.OtherSourceLocationsByName(ctx, q.Source, name, c)
	if err != nil {
		m.logger.Error("cross-source lookup failed", "name", name, "error", err)
	} else if loc := pickCandidate(locs, q.Parent); loc != nil {
		return loc
	}

	gen := NewGenerator(m.lexicon.Build(ctx, false))
	for _, v := range gen.Variations(name) {
		entries, err := m.store.OtherSourceEntriesContaining(ctx, q.Source, v, c, containmentLimit)
		if err != nil {
			m.logger.Error("cross-source containment lookup failed", "variation", v, "error", err)
			continue
		}

		var best *gazetteer.EntryWithLocation
		bestScore := 0.0
		for i := range entries {
			// Score against the original name, not the variation, so a
			// stripped form cannot inflate the match.
			score := Similarity(name, entries[i].Entry.Name)
			if score > bestScore {
				best = &entries[i]
				bestScore = score
			}
		}
		if best != nil && bestScore >= OtherSourceThreshold {
			loc := best.Location
			return &loc
		}
	}
	return nil
}

// pickCandidate chooses among equally ranked candidates: one under the parent
// constraint wins, otherwise the first in gazetteer order.
func pickCandidate(locs []domain.Location, parent *domain.Location) *domain.Location {
	if len(locs) == 0 {
		return nil
	}
	if parent != nil {
		for i := range locs {
			if locs[i].ParentID != nil && *locs[i].ParentID == parent.ID {
				return &locs[i]
			}
		}
	}
	return &locs[0]
}

func (q Query) memoKey(name string) memoKey {
	k := memoKey{name: name, source: q.Source}
	if q.AdminLevel != nil {
		k.adminLevel = *q.AdminLevel
		k.hasLevel = true
	}
	if q.Parent != nil {
		k.parentID = q.Parent.ID
		k.hasParent = true
	}
	return k
}

