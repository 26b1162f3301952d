// Package gazetteer persists the administrative-boundary hierarchy, the
// per-source gazetteer, and the unmatched-location review queue in SQLite.
package gazetteer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/location-resolver/internal/domain"
)

// ErrNotFound is returned by single-row lookups with no matching row.
var ErrNotFound = errors.New("gazetteer: not found")

// Store wraps the SQLite database holding locations, gazetteer entries, and
// unmatched locations. Reads dominate; the few writes are idempotent upserts
// keyed by natural unique constraints, so concurrent source adapters need no
// locking beyond SQLite's own.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open gazetteer db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create gazetteer schema: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Constraints narrows location queries to an admin level and/or a direct parent.
type Constraints struct {
	AdminLevel *int
	ParentID   *int64
}

// EntryWithLocation pairs a gazetteer entry with the location it points at,
// used by the fuzzy matching tiers.
type EntryWithLocation struct {
	Entry    domain.GazetteerEntry
	Location domain.Location
}

// --- admin levels ---

// CreateAdminLevel inserts an administrative level. Existing codes are left
// untouched so setup can be re-run safely.
func (s *Store) CreateAdminLevel(ctx context.Context, level domain.AdminLevel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO admin_levels (code, name) VALUES (?, ?)`, level.Code, level.Name)
	if err != nil {
		return fmt.Errorf("create admin level %d: %w", level.Code, err)
	}
	return nil
}

// AdminLevels returns all administrative levels ordered by code.
func (s *Store) AdminLevels(ctx context.Context) ([]domain.AdminLevel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM admin_levels ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list admin levels: %w", err)
	}
	defer rows.Close()

	var levels []domain.AdminLevel
	for rows.Next() {
		var l domain.AdminLevel
		if err := rows.Scan(&l.Code, &l.Name); err != nil {
			return nil, fmt.Errorf("scan admin level: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// --- locations ---

// locationCols is the select list shared by every location query. Joined on
// admin_levels so callers always get the level name.
const locationCols = `l.id, l.geo_id, l.name, l.local_name, l.admin_level, al.name,
	l.parent_id, l.lat, l.lon, l.point_type, l.boundary, l.created_at, l.updated_at`

const locationFrom = ` FROM locations l JOIN admin_levels al ON al.code = l.admin_level `

func scanLocation(row interface{ Scan(...any) error }) (domain.Location, error) {
	var (
		loc                  domain.Location
		createdAt, updatedAt int64
	)
	err := row.Scan(&loc.ID, &loc.GeoID, &loc.Name, &loc.LocalName,
		&loc.AdminLevel.Code, &loc.AdminLevel.Name, &loc.ParentID,
		&loc.Lat, &loc.Lon, &loc.PointType, &loc.Boundary, &createdAt, &updatedAt)
	if err != nil {
		return domain.Location{}, err
	}
	loc.CreatedAt = time.Unix(createdAt, 0).UTC()
	loc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return loc, nil
}

// CreateLocation validates hierarchy invariants and inserts a location,
// populating its ID and timestamps.
func (s *Store) CreateLocation(ctx context.Context, loc *domain.Location) error {
	var parentGeoID string
	if loc.ParentID != nil {
		parent, err := s.LocationByID(ctx, *loc.ParentID)
		if err != nil {
			return fmt.Errorf("create location %s: parent: %w", loc.GeoID, err)
		}
		if parent.AdminLevel.Code != loc.AdminLevel.Code-1 {
			return fmt.Errorf("create location %s: parent level %d, want %d",
				loc.GeoID, parent.AdminLevel.Code, loc.AdminLevel.Code-1)
		}
		parentGeoID = parent.GeoID
	} else if loc.AdminLevel.Code != 0 {
		return fmt.Errorf("create location %s: level %d requires a parent", loc.GeoID, loc.AdminLevel.Code)
	}
	if err := domain.ValidateGeoID(loc.GeoID, parentGeoID); err != nil {
		return fmt.Errorf("create location: %w", err)
	}

	now := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (geo_id, name, local_name, admin_level, parent_id, lat, lon, point_type, boundary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.GeoID, loc.Name, loc.LocalName, loc.AdminLevel.Code, loc.ParentID,
		loc.Lat, loc.Lon, loc.PointType, loc.Boundary, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("create location %s: %w", loc.GeoID, err)
	}
	loc.ID, _ = res.LastInsertId()
	loc.CreatedAt = now
	loc.UpdatedAt = now
	return nil
}

// DeleteLocation removes a location; children and gazetteer entries cascade.
func (s *Store) DeleteLocation(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete location %d: %w", id, err)
	}
	return nil
}

// LocationByID fetches one location by primary key.
func (s *Store) LocationByID(ctx context.Context, id int64) (*domain.Location, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+locationCols+locationFrom+`WHERE l.id = ?`, id)
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("location by id %d: %w", id, err)
	}
	return &loc, nil
}

// LocationByGeoID fetches one location by its geo_id, case-insensitively.
func (s *Store) LocationByGeoID(ctx context.Context, geoID string, c Constraints) (*domain.Location, error) {
	q := `SELECT ` + locationCols + locationFrom + `WHERE l.geo_id = ? COLLATE NOCASE`
	args := []any{geoID}
	q, args = appendLocationConstraints(q, args, c, "l")

	row := s.db.QueryRowContext(ctx, q, args...)
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("location by geo_id %q: %w", geoID, err)
	}
	return &loc, nil
}

// LocationsByName returns locations whose primary name matches
// case-insensitively, ordered by geo_id for deterministic first-match policy.
func (s *Store) LocationsByName(ctx context.Context, name string, c Constraints) ([]domain.Location, error) {
	return s.locationsWhere(ctx, `l.name = ? COLLATE NOCASE`, name, c)
}

// LocationsByLocalName is LocationsByName against the localized name field.
func (s *Store) LocationsByLocalName(ctx context.Context, name string, c Constraints) ([]domain.Location, error) {
	return s.locationsWhere(ctx, `l.local_name != '' AND l.local_name = ? COLLATE NOCASE`, name, c)
}

func (s *Store) locationsWhere(ctx context.Context, cond, arg string, c Constraints) ([]domain.Location, error) {
	q := `SELECT ` + locationCols + locationFrom + `WHERE ` + cond
	args := []any{arg}
	q, args = appendLocationConstraints(q, args, c, "l")
	q += ` ORDER BY l.geo_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("locations by name: %w", err)
	}
	defer rows.Close()
	return collectLocations(rows)
}

// LocationNameCandidates returns up to limit locations whose name contains
// the given prefix or suffix fragment (or starts with the prefix). This is
// the cheap database prefilter run before similarity scoring, so fuzzy passes
// never scan the whole table.
func (s *Store) LocationNameCandidates(ctx context.Context, prefix, suffix string, excludeIDs []int64, limit int) ([]domain.Location, error) {
	q := `SELECT ` + locationCols + locationFrom +
		`WHERE (l.name LIKE '%' || ? || '%' OR l.name LIKE '%' || ? || '%' OR l.name LIKE ? || '%')`
	args := []any{prefix, suffix, prefix}
	if len(excludeIDs) > 0 {
		q += ` AND l.id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY l.geo_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("location name candidates: %w", err)
	}
	defer rows.Close()
	return collectLocations(rows)
}

// LevelZeroNames returns the names of all root (country) locations.
func (s *Store) LevelZeroNames(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT name FROM locations WHERE admin_level = 0 ORDER BY geo_id`)
}

// AllNames returns every location and gazetteer entry name, the corpus the
// lexicon builder scans for suffix and prefix patterns.
func (s *Store) AllNames(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx,
		`SELECT name FROM locations UNION ALL SELECT name FROM gazetteer_entries`)
}

// --- gazetteer entries ---

// CreateGazetteerEntry inserts a source-scoped alternate identity for a
// location. Duplicate (location, source, name) pairs are ignored.
func (s *Store) CreateGazetteerEntry(ctx context.Context, e *domain.GazetteerEntry) error {
	now := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO gazetteer_entries (location_id, source, code, name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.LocationID, e.Source, e.Code, e.Name, now.Unix())
	if err != nil {
		return fmt.Errorf("create gazetteer entry %q [%s]: %w", e.Name, e.Source, err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		e.ID = id
	}
	e.CreatedAt = now
	return nil
}

// EntryLocationsByName returns locations whose gazetteer entry name from the
// given source matches exactly (case-insensitive), ordered by geo_id.
func (s *Store) EntryLocationsByName(ctx context.Context, source, name string, c Constraints) ([]domain.Location, error) {
	return s.entryLocationsWhere(ctx, `g.source = ? AND g.name = ? COLLATE NOCASE`, []any{source, name}, c)
}

// EntryLocationsByCode is EntryLocationsByName against the entry code field.
func (s *Store) EntryLocationsByCode(ctx context.Context, source, code string, c Constraints) ([]domain.Location, error) {
	return s.entryLocationsWhere(ctx, `g.source = ? AND g.code != '' AND g.code = ? COLLATE NOCASE`, []any{source, code}, c)
}

// OtherSourceLocationsByName returns locations matched exactly by a gazetteer
// entry from any source except excludeSource.
func (s *Store) OtherSourceLocationsByName(ctx context.Context, excludeSource, name string, c Constraints) ([]domain.Location, error) {
	cond := `g.name = ? COLLATE NOCASE`
	args := []any{name}
	if excludeSource != "" {
		cond += ` AND g.source != ?`
		args = append(args, excludeSource)
	}
	return s.entryLocationsWhere(ctx, cond, args, c)
}

func (s *Store) entryLocationsWhere(ctx context.Context, cond string, condArgs []any, c Constraints) ([]domain.Location, error) {
	q := `SELECT ` + locationCols + ` FROM gazetteer_entries g
		JOIN locations l ON l.id = g.location_id
		JOIN admin_levels al ON al.code = l.admin_level
		WHERE ` + cond
	args := condArgs
	q, args = appendLocationConstraints(q, args, c, "l")
	q += ` ORDER BY l.geo_id, g.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("gazetteer entry locations: %w", err)
	}
	defer rows.Close()
	return collectLocations(rows)
}

// EntriesForSource lists all entries of one source with their locations, the
// candidate set for same-source fuzzy matching.
func (s *Store) EntriesForSource(ctx context.Context, source string, c Constraints) ([]EntryWithLocation, error) {
	return s.entriesWhere(ctx, `g.source = ?`, []any{source}, c, 0)
}

// OtherSourceEntriesContaining lists entries from every source except
// excludeSource whose name contains fragment, the cheap substring prefilter
// applied before similarity scoring in the fallback tier.
func (s *Store) OtherSourceEntriesContaining(ctx context.Context, excludeSource, fragment string, c Constraints, limit int) ([]EntryWithLocation, error) {
	cond := `g.name LIKE '%' || ? || '%'`
	args := []any{fragment}
	if excludeSource != "" {
		cond += ` AND g.source != ?`
		args = append(args, excludeSource)
	}
	return s.entriesWhere(ctx, cond, args, c, limit)
}

// TrustedEntryCandidates returns entries from the given bulk sources whose
// name contains the prefix or suffix fragment, used by suggestion
// computation.
func (s *Store) TrustedEntryCandidates(ctx context.Context, sources []string, prefix, suffix string, limit int) ([]EntryWithLocation, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	cond := `(g.name LIKE '%' || ? || '%' OR g.name LIKE '%' || ? || '%' OR g.name LIKE ? || '%')
		AND g.source IN (` + placeholders(len(sources)) + `)`
	args := []any{prefix, suffix, prefix}
	for _, src := range sources {
		args = append(args, src)
	}
	return s.entriesWhere(ctx, cond, args, Constraints{}, limit)
}

func (s *Store) entriesWhere(ctx context.Context, cond string, condArgs []any, c Constraints, limit int) ([]EntryWithLocation, error) {
	q := `SELECT g.id, g.location_id, g.source, g.code, g.name, g.created_at, ` + locationCols +
		` FROM gazetteer_entries g
		JOIN locations l ON l.id = g.location_id
		JOIN admin_levels al ON al.code = l.admin_level
		WHERE ` + cond
	args := condArgs
	q, args = appendLocationConstraints(q, args, c, "l")
	q += ` ORDER BY l.geo_id, g.id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("gazetteer entries: %w", err)
	}
	defer rows.Close()

	var out []EntryWithLocation
	for rows.Next() {
		var (
			ewl                    EntryWithLocation
			createdAt              int64
			locCreated, locUpdated int64
		)
		err := rows.Scan(&ewl.Entry.ID, &ewl.Entry.LocationID, &ewl.Entry.Source,
			&ewl.Entry.Code, &ewl.Entry.Name, &createdAt,
			&ewl.Location.ID, &ewl.Location.GeoID, &ewl.Location.Name, &ewl.Location.LocalName,
			&ewl.Location.AdminLevel.Code, &ewl.Location.AdminLevel.Name, &ewl.Location.ParentID,
			&ewl.Location.Lat, &ewl.Location.Lon, &ewl.Location.PointType, &ewl.Location.Boundary,
			&locCreated, &locUpdated)
		if err != nil {
			return nil, fmt.Errorf("scan gazetteer entry: %w", err)
		}
		ewl.Entry.CreatedAt = time.Unix(createdAt, 0).UTC()
		ewl.Location.CreatedAt = time.Unix(locCreated, 0).UTC()
		ewl.Location.UpdatedAt = time.Unix(locUpdated, 0).UTC()
		out = append(out, ewl)
	}
	return out, rows.Err()
}

// --- staleness watermarks ---

// MaxLocationCreatedAt returns the newest location creation time, or zero
// time when the table is empty.
func (s *Store) MaxLocationCreatedAt(ctx context.Context) (time.Time, error) {
	return s.maxUnix(ctx, `SELECT MAX(created_at) FROM locations`)
}

// MaxUnmatchedFirstSeen returns the newest unmatched-location first-seen
// time, or zero time when the table is empty.
func (s *Store) MaxUnmatchedFirstSeen(ctx context.Context) (time.Time, error) {
	return s.maxUnix(ctx, `SELECT MAX(first_seen) FROM unmatched_locations`)
}

func (s *Store) maxUnix(ctx context.Context, q string) (time.Time, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q).Scan(&max); err != nil {
		return time.Time{}, fmt.Errorf("watermark query: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return time.Unix(max.Int64, 0).UTC(), nil
}

// Counts reports table sizes for the status endpoint.
type Counts struct {
	Locations        int `json:"locations"`
	GazetteerEntries int `json:"gazetteer_entries"`
	Unmatched        int `json:"unmatched_locations"`
	UnmatchedPending int `json:"unmatched_pending"`
}

// Count returns row counts across the store's tables.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM locations),
		(SELECT COUNT(*) FROM gazetteer_entries),
		(SELECT COUNT(*) FROM unmatched_locations),
		(SELECT COUNT(*) FROM unmatched_locations WHERE status = 'pending')`)
	if err := row.Scan(&c.Locations, &c.GazetteerEntries, &c.Unmatched, &c.UnmatchedPending); err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

// --- helpers ---

func appendLocationConstraints(q string, args []any, c Constraints, alias string) (string, []any) {
	if c.AdminLevel != nil {
		q += ` AND ` + alias + `.admin_level = ?`
		args = append(args, *c.AdminLevel)
	}
	if c.ParentID != nil {
		q += ` AND ` + alias + `.parent_id = ?`
		args = append(args, *c.ParentID)
	}
	return q, args
}

func collectLocations(rows *sql.Rows) ([]domain.Location, error) {
	var out []domain.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *Store) stringColumn(ctx context.Context, q string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("name scan: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
