package gazetteer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/location-resolver/internal/domain"
)

// Failure describes one resolution failure to record.
type Failure struct {
	Name            string
	Source          string
	AdminLevelGuess string
	// DetectedLevel marks the guess as coming from structured upstream data
	// rather than name-pattern guessing. Detected levels overwrite a stored
	// guess; guessed ones never do.
	DetectedLevel bool
	Context       string
}

// RecordFailure upserts the (name, source) row for a failed resolution:
// first failure creates the row with occurrence_count=1 and status=pending,
// repeats atomically increment the count and refresh last_seen. The insert
// and increment are a single ON CONFLICT statement, so concurrent adapters
// racing on the same pair cannot duplicate rows or lose counts. Returns the
// row and whether this call created it.
func (s *Store) RecordFailure(ctx context.Context, f Failure) (*domain.UnmatchedLocation, bool, error) {
	now := s.clock.Now().UTC().Unix()
	// RETURNING reads this statement's own write, so even with concurrent
	// callers racing on the pair exactly one observes count 1 and owns
	// creation.
	var id, count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO unmatched_locations (name, source, admin_level_guess, context, occurrence_count, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(name, source) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen = excluded.last_seen
		 RETURNING id, occurrence_count`,
		f.Name, f.Source, f.AdminLevelGuess, f.Context, now, now).Scan(&id, &count)
	if err != nil {
		return nil, false, fmt.Errorf("record failure %q [%s]: %w", f.Name, f.Source, err)
	}
	created := count == 1

	row, err := s.UnmatchedByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	// A detected admin level is more trustworthy than whatever was stored
	// from guessing; upgrade, never regress.
	if !created && f.DetectedLevel && f.AdminLevelGuess != "" && row.AdminLevelGuess != f.AdminLevelGuess {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE unmatched_locations SET admin_level_guess = ? WHERE id = ?`,
			f.AdminLevelGuess, row.ID); err != nil {
			return nil, false, fmt.Errorf("update admin level guess for %d: %w", row.ID, err)
		}
		row.AdminLevelGuess = f.AdminLevelGuess
	}
	return row, created, nil
}

// UnmatchedByID fetches one unmatched location by primary key.
func (s *Store) UnmatchedByID(ctx context.Context, id int64) (*domain.UnmatchedLocation, error) {
	return s.unmatchedWhere(ctx, `id = ?`, id)
}

// UnmatchedByName fetches the row for a (name, source) pair.
func (s *Store) UnmatchedByName(ctx context.Context, name, source string) (*domain.UnmatchedLocation, error) {
	return s.unmatchedWhere(ctx, `name = ? AND source = ?`, name, source)
}

const unmatchedCols = `id, name, source, admin_level_guess, context, occurrence_count,
	first_seen, last_seen, status, resolved_location_id,
	potential_matches, potential_matches_computed_at, potential_matches_error`

func (s *Store) unmatchedWhere(ctx context.Context, cond string, args ...any) (*domain.UnmatchedLocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unmatchedCols+` FROM unmatched_locations WHERE `+cond, args...)
	u, err := scanUnmatched(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unmatched location lookup: %w", err)
	}
	return u, nil
}

func scanUnmatched(row interface{ Scan(...any) error }) (*domain.UnmatchedLocation, error) {
	var (
		u                    domain.UnmatchedLocation
		firstSeen, lastSeen  int64
		computedAt           sql.NullInt64
		matchesJSON, statusS string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Source, &u.AdminLevelGuess, &u.Context,
		&u.OccurrenceCount, &firstSeen, &lastSeen, &statusS, &u.ResolvedID,
		&matchesJSON, &computedAt, &u.SuggestionsError)
	if err != nil {
		return nil, err
	}
	u.FirstSeen = time.Unix(firstSeen, 0).UTC()
	u.LastSeen = time.Unix(lastSeen, 0).UTC()
	u.Status = domain.UnmatchedStatus(statusS)
	if computedAt.Valid {
		t := time.Unix(computedAt.Int64, 0).UTC()
		u.SuggestionsAt = &t
	}
	if matchesJSON != "" && matchesJSON != "[]" {
		if err := json.Unmarshal([]byte(matchesJSON), &u.PotentialMatches); err != nil {
			return nil, fmt.Errorf("decode potential matches for %d: %w", u.ID, err)
		}
	}
	return &u, nil
}

// PendingWithoutSuggestions lists rows awaiting their first suggestion
// computation, ordered by occurrence count so frequent failures surface first.
func (s *Store) PendingWithoutSuggestions(ctx context.Context) ([]domain.UnmatchedLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unmatchedCols+` FROM unmatched_locations
		 WHERE status = 'pending' AND potential_matches_computed_at IS NULL
		 ORDER BY occurrence_count DESC, last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("pending unmatched locations: %w", err)
	}
	defer rows.Close()

	var out []domain.UnmatchedLocation
	for rows.Next() {
		u, err := scanUnmatched(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unmatched location: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// SaveSuggestions persists computed potential matches with their timestamp
// and clears any previous error.
func (s *Store) SaveSuggestions(ctx context.Context, id int64, matches []domain.Suggestion, computedAt time.Time) error {
	if matches == nil {
		matches = []domain.Suggestion{}
	}
	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("encode potential matches for %d: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE unmatched_locations SET
			potential_matches = ?,
			potential_matches_computed_at = ?,
			potential_matches_error = ''
		 WHERE id = ?`,
		string(data), computedAt.UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("save potential matches for %d: %w", id, err)
	}
	return nil
}

// SaveSuggestionsError records a terminal computation failure on the row. The
// computed-at timestamp stays NULL so a later maintenance pass retries it.
func (s *Store) SaveSuggestionsError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE unmatched_locations SET potential_matches_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("save suggestion error for %d: %w", id, err)
	}
	return nil
}

// ResolveUnmatched links an unmatched row to a canonical location and
// backfills a gazetteer entry for the failed spelling, so the next identical
// string resolves immediately through the source gazetteer tier.
func (s *Store) ResolveUnmatched(ctx context.Context, unmatchedID, locationID int64) error {
	u, err := s.UnmatchedByID(ctx, unmatchedID)
	if err != nil {
		return err
	}
	if _, err := s.LocationByID(ctx, locationID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolve unmatched %d: %w", unmatchedID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE unmatched_locations SET status = 'resolved', resolved_location_id = ? WHERE id = ?`,
		locationID, unmatchedID); err != nil {
		return fmt.Errorf("resolve unmatched %d: %w", unmatchedID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO gazetteer_entries (location_id, source, code, name, created_at)
		 VALUES (?, ?, '', ?, ?)`,
		locationID, u.Source, u.Name, s.clock.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("backfill gazetteer for unmatched %d: %w", unmatchedID, err)
	}
	return tx.Commit()
}

// SetUnmatchedStatus moves a row to ignored/deferred/pending without linking
// a location.
func (s *Store) SetUnmatchedStatus(ctx context.Context, id int64, status domain.UnmatchedStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE unmatched_locations SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set unmatched status for %d: %w", id, err)
	}
	return nil
}

// UnmatchedNames returns every unmatched location name, the corpus the
// lexicon builder mines for country-suffix patterns.
func (s *Store) UnmatchedNames(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT name FROM unmatched_locations`)
}
