package matching_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/lexicon"
	"github.com/couchcryptid/location-resolver/internal/matching"
	"github.com/couchcryptid/location-resolver/internal/observability"
)

// fakeStore serves fixture data in geo_id order, the same contract the SQL
// store provides.
type fakeStore struct {
	locations []domain.Location
	entries   []gazetteer.EntryWithLocation
	calls     map[string]int
}

func (f *fakeStore) count(method string) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[method]++
}

func matchesConstraints(loc domain.Location, c gazetteer.Constraints) bool {
	if c.AdminLevel != nil && loc.AdminLevel.Code != *c.AdminLevel {
		return false
	}
	if c.ParentID != nil && (loc.ParentID == nil || *loc.ParentID != *c.ParentID) {
		return false
	}
	return true
}

func (f *fakeStore) LocationsByName(_ context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error) {
	f.count("LocationsByName")
	var out []domain.Location
	for _, loc := range f.locations {
		if strings.EqualFold(loc.Name, name) && matchesConstraints(loc, c) {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (f *fakeStore) LocationsByLocalName(_ context.Context, name string, c gazetteer.Constraints) ([]domain.Location, error) {
	var out []domain.Location
	for _, loc := range f.locations {
		if loc.LocalName != "" && strings.EqualFold(loc.LocalName, name) && matchesConstraints(loc, c) {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (f *fakeStore) LocationByGeoID(_ context.Context, geoID string, c gazetteer.Constraints) (*domain.Location, error) {
	for _, loc := range f.locations {
		if strings.EqualFold(loc.GeoID, geoID) && matchesConstraints(loc, c) {
			l := loc
			return &l, nil
		}
	}
	return nil, gazetteer.ErrNotFound
}

func (f *fakeStore) EntryLocationsByName(_ context.Context, source, name string, c gazetteer.Constraints) ([]domain.Location, error) {
	var out []domain.Location
	for _, e := range f.entries {
		if e.Entry.Source == source && strings.EqualFold(e.Entry.Name, name) && matchesConstraints(e.Location, c) {
			out = append(out, e.Location)
		}
	}
	return out, nil
}

func (f *fakeStore) EntryLocationsByCode(_ context.Context, source, code string, c gazetteer.Constraints) ([]domain.Location, error) {
	var out []domain.Location
	for _, e := range f.entries {
		if e.Entry.Source == source && e.Entry.Code != "" && strings.EqualFold(e.Entry.Code, code) && matchesConstraints(e.Location, c) {
			out = append(out, e.Location)
		}
	}
	return out, nil
}

func (f *fakeStore) EntriesForSource(_ context.Context, source string, c gazetteer.Constraints) ([]gazetteer.EntryWithLocation, error) {
	var out []gazetteer.EntryWithLocation
	for _, e := range f.entries {
		if e.Entry.Source == source && matchesConstraints(e.Location, c) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) OtherSourceLocationsByName(_ context.Context, excludeSource, name string, c gazetteer.Constraints) ([]domain.Location, error) {
	var out []domain.Location
	for _, e := range f.entries {
		if e.Entry.Source != excludeSource && strings.EqualFold(e.Entry.Name, name) && matchesConstraints(e.Location, c) {
			out = append(out, e.Location)
		}
	}
	return out, nil
}

func (f *fakeStore) OtherSourceEntriesContaining(_ context.Context, excludeSource, fragment string, c gazetteer.Constraints, limit int) ([]gazetteer.EntryWithLocation, error) {
	var out []gazetteer.EntryWithLocation
	for _, e := range f.entries {
		if e.Entry.Source == excludeSource || !matchesConstraints(e.Location, c) {
			continue
		}
		if strings.Contains(strings.ToLower(e.Entry.Name), strings.ToLower(fragment)) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// lexiconSource feeds the lexicon builder the same fixture corpus.
type lexiconSource struct {
	store *fakeStore
}

func (s *lexiconSource) AdminLevels(context.Context) ([]domain.AdminLevel, error) {
	return []domain.AdminLevel{{Code: 0, Name: "Country"}, {Code: 1, Name: "State"}, {Code: 2, Name: "Locality"}}, nil
}

func (s *lexiconSource) UnmatchedNames(context.Context) ([]string, error) { return nil, nil }

func (s *lexiconSource) AllNames(context.Context) ([]string, error) {
	var names []string
	for _, loc := range s.store.locations {
		names = append(names, loc.Name)
	}
	for _, e := range s.store.entries {
		names = append(names, e.Entry.Name)
	}
	return names, nil
}

func (s *lexiconSource) LevelZeroNames(context.Context) ([]string, error) {
	return []string{"Sudan"}, nil
}

func (s *lexiconSource) MaxLocationCreatedAt(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (s *lexiconSource) MaxUnmatchedFirstSeen(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func ptrInt(n int) *int { return &n }

func ptrInt64(n int64) *int64 { return &n }

func loc(id int64, geoID, name string, level int, levelName string, parentID *int64) domain.Location {
	return domain.Location{
		ID: id, GeoID: geoID, Name: name,
		AdminLevel: domain.AdminLevel{Code: level, Name: levelName},
		ParentID:   parentID,
	}
}

func entry(l domain.Location, source, code, name string) gazetteer.EntryWithLocation {
	return gazetteer.EntryWithLocation{
		Entry:    domain.GazetteerEntry{LocationID: l.ID, Source: source, Code: code, Name: name},
		Location: l,
	}
}

func fixtures() *fakeStore {
	sudan := loc(1, "SDN", "Sudan", 0, "Country", nil)
	halfaState := loc(10, "SDN_HA", "Halfa", 1, "State", ptrInt64(1))
	khartoum := loc(4, "SDN_KH", "Khartoum", 1, "State", ptrInt64(1))
	kassala := loc(6, "SDN_KS", "Kassala", 1, "State", ptrInt64(1))
	halfaTown := loc(9, "SDN_KS_HA", "Halfa", 2, "Locality", ptrInt64(6))
	northDarfur := loc(2, "SDN_ND", "North Darfur", 1, "State", ptrInt64(1))
	alFasher := loc(5, "SDN_ND_AF", "Al Fasher", 2, "Locality", ptrInt64(2))
	nyalaNorth := loc(7, "SDN_ND_NY", "Nyala", 2, "Locality", ptrInt64(2))
	southDarfur := loc(3, "SDN_SD", "South Darfur", 1, "State", ptrInt64(1))
	nyalaSouth := loc(8, "SDN_SD_NY", "Nyala", 2, "Locality", ptrInt64(3))

	return &fakeStore{
		// geo_id order, as the SQL store returns rows
		locations: []domain.Location{
			sudan, halfaState, khartoum, kassala, halfaTown,
			northDarfur, alFasher, nyalaNorth, southDarfur, nyalaSouth,
		},
		entries: []gazetteer.EntryWithLocation{
			entry(southDarfur, "UNOCHA", "SD05", "South Darfur"),
			entry(khartoum, "IDMC", "", "Khartoum State"),
			entry(alFasher, "OpenStreetMap", "", "Al Fasher City"),
			entry(alFasher, "OpenStreetMap", "", "Al Fashir Town"),
			entry(kassala, "OpenStreetMap", "", "Kasala Town"),
		},
	}
}

func newTestMatcher(store *fakeStore) *matching.Matcher {
	lex := lexicon.NewBuilder(&lexiconSource{store: store}, clockwork.NewFakeClock(), slog.Default())
	return matching.New(store, lex, slog.Default(), observability.NewMetricsForTesting())
}

func TestMatch_SourceExactName(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "South Darfur", Source: "UNOCHA"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_SD", got.GeoID)
}

func TestMatch_SourceExactCode(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "SD05", Source: "UNOCHA"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_SD", got.GeoID)
}

func TestMatch_SourceFuzzy(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "South Darfor", Source: "UNOCHA"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_SD", got.GeoID)
}

func TestMatch_CanonicalName(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Khartoum", Source: "IDMC"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KH", got.GeoID)
}

func TestMatch_CanonicalNameCaseInsensitive(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "khartoum"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KH", got.GeoID)
}

func TestMatch_GeoID(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "SDN_ND"})

	require.NotNil(t, got)
	assert.Equal(t, "North Darfur", got.Name)
}

func TestMatch_VariationAdminSuffix(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Kassala State"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KS", got.GeoID)
}

func TestMatch_VariationCountrySuffix(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Khartoum, Sudan"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KH", got.GeoID)
}

func TestMatch_VariationChainedSuffixes(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Kassala State, Sudan"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KS", got.GeoID)
}

func TestMatch_VariationPrefersDeeperLevel(t *testing.T) {
	m := newTestMatcher(fixtures())

	// "Halfa" names both a state and a locality; the variation sweep keeps
	// the more specific hit.
	got := m.Match(context.Background(), matching.Query{Name: "Halfa Town"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KS_HA", got.GeoID)
}

func TestMatch_ParentBreaksTies(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)

	southDarfur := store.locations[8]
	require.Equal(t, "SDN_SD", southDarfur.GeoID)

	got := m.Match(context.Background(), matching.Query{Name: "Nyala", Parent: &southDarfur})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_SD_NY", got.GeoID)
}

func TestMatch_ParentFiltersCandidates(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)

	khartoum := store.locations[2]
	require.Equal(t, "SDN_KH", khartoum.GeoID)

	// Both Nyala localities sit under Darfur states; a Khartoum parent leaves
	// no candidate in any tier.
	assert.Nil(t, m.Match(context.Background(), matching.Query{Name: "Nyala", Parent: &khartoum}))
}

func TestMatch_ParentFiltersEveryTier(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)

	southDarfur := store.locations[8]
	require.Equal(t, "SDN_SD", southDarfur.GeoID)

	// "Al Fasher City" is an OpenStreetMap entry for a North Darfur locality.
	// With a South Darfur parent it must not match through the own-source
	// tier nor the cross-source tier.
	assert.Nil(t, m.Match(context.Background(), matching.Query{
		Name: "Al Fasher City", Source: "OpenStreetMap", Parent: &southDarfur,
	}))
	assert.Nil(t, m.Match(context.Background(), matching.Query{
		Name: "Al Fasher City", Source: "IDMC", Parent: &southDarfur,
	}))
}

func TestMatch_NoParentKeepsFirstByGeoID(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Nyala"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_ND_NY", got.GeoID)
}

func TestMatch_AdminLevelFilters(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Nyala", AdminLevel: ptrInt(2)})
	require.NotNil(t, got)
	assert.Equal(t, 2, got.AdminLevel.Code)

	assert.Nil(t, m.Match(context.Background(), matching.Query{Name: "Nyala", AdminLevel: ptrInt(1)}))
}

func TestMatch_CrossSourceExact(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Kasala Town", Source: "IDMC"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_KS", got.GeoID)
}

func TestMatch_CrossSourceFuzzyContainment(t *testing.T) {
	m := newTestMatcher(fixtures())

	got := m.Match(context.Background(), matching.Query{Name: "Al Fashir", Source: "IDMC"})

	require.NotNil(t, got)
	assert.Equal(t, "SDN_ND_AF", got.GeoID)
}

func TestMatch_NoMatch(t *testing.T) {
	m := newTestMatcher(fixtures())

	assert.Nil(t, m.Match(context.Background(), matching.Query{Name: "Atlantis", Source: "UNOCHA"}))
}

func TestMatch_BlankName(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)

	assert.Nil(t, m.Match(context.Background(), matching.Query{Name: "   "}))
	assert.Zero(t, store.calls["LocationsByName"])
}

func TestMatch_Memoized(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)
	q := matching.Query{Name: "Khartoum"}

	first := m.Match(context.Background(), q)
	callsAfterFirst := store.calls["LocationsByName"]
	second := m.Match(context.Background(), q)

	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, store.calls["LocationsByName"])
}

func TestMatch_MemoKeyDistinguishesConstraints(t *testing.T) {
	m := newTestMatcher(fixtures())

	unconstrained := m.Match(context.Background(), matching.Query{Name: "Nyala"})
	constrained := m.Match(context.Background(), matching.Query{Name: "Nyala", AdminLevel: ptrInt(1)})

	require.NotNil(t, unconstrained)
	assert.Nil(t, constrained)
}

func TestMatch_ResetClearsMemo(t *testing.T) {
	store := fixtures()
	m := newTestMatcher(store)
	q := matching.Query{Name: "Khartoum"}

	m.Match(context.Background(), q)
	m.Reset()
	calls := store.calls["LocationsByName"]
	m.Match(context.Background(), q)

	assert.Greater(t, store.calls["LocationsByName"], calls)
}

func TestMatch_Deterministic(t *testing.T) {
	q := matching.Query{Name: "Al Fasher City, North Darfur, Sudan", Source: "IDMC"}

	var geoIDs []string
	for i := 0; i < 3; i++ {
		m := newTestMatcher(fixtures())
		got := m.Match(context.Background(), q)
		require.NotNil(t, got)
		geoIDs = append(geoIDs, got.GeoID)
	}
	assert.Equal(t, geoIDs[0], geoIDs[1])
	assert.Equal(t, geoIDs[1], geoIDs[2])
}
