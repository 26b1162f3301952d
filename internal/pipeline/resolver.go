package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/matching"
	"github.com/couchcryptid/location-resolver/internal/observability"
)

// Matcher resolves one location query to a canonical location or nil.
type Matcher interface {
	Match(ctx context.Context, q matching.Query) *domain.Location
}

// FailureStore records match failures and looks up parent constraints.
type FailureStore interface {
	LocationByGeoID(ctx context.Context, geoID string, c gazetteer.Constraints) (*domain.Location, error)
	RecordFailure(ctx context.Context, f gazetteer.Failure) (*domain.UnmatchedLocation, bool, error)
}

// Enqueuer schedules background suggestion computation for an unmatched row.
type Enqueuer interface {
	Enqueue(id int64, force bool) bool
}

// ReportResolver implements Resolver: it parses the feed record, matches its
// location, and tracks failures without ever dropping the record.
type ReportResolver struct {
	matcher  Matcher
	store    FailureStore
	enqueuer Enqueuer
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a ReportResolver. Pass a nil enqueuer to disable
// background suggestion computation.
func NewResolver(matcher Matcher, store FailureStore, enqueuer Enqueuer, logger *slog.Logger, metrics *observability.Metrics) *ReportResolver {
	return &ReportResolver{
		matcher:  matcher,
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve parses raw, matches its location, and returns the serialized
// resolved report. Only a parse failure returns an error; an unmatched
// location is recorded for review and the report still flows downstream.
func (r *ReportResolver) Resolve(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	rec, err := domain.ParseRawReport(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	q := matching.Query{
		Name:       rec.Location,
		Source:     rec.Source,
		AdminLevel: domain.ParseAdminLevelHint(rec.AdminLevel),
		Parent:     r.parent(ctx, rec),
		Context:    rec.MatchContext(),
	}
	loc := r.matcher.Match(ctx, q)

	var unmatchedID *int64
	if loc == nil && rec.Location != "" {
		unmatchedID = r.recordFailure(ctx, rec)
	}

	resolved := domain.NewResolvedReport(rec, raw, loc, unmatchedID)
	value, err := json.Marshal(resolved)
	if err != nil {
		return domain.OutputEvent{}, fmt.Errorf("encode resolved report: %w", err)
	}

	return domain.OutputEvent{
		Key:   []byte(rec.Source + "/" + rec.RecordID),
		Value: value,
		Headers: map[string]string{
			"source": rec.Source,
		},
	}, nil
}

// parent resolves the optional parent hierarchy hint. A bad hint degrades to
// no constraint rather than failing the record.
func (r *ReportResolver) parent(ctx context.Context, rec domain.RawReport) *domain.Location {
	if rec.ParentGeoID == "" {
		return nil
	}
	parent, err := r.store.LocationByGeoID(ctx, rec.ParentGeoID, gazetteer.Constraints{})
	if err != nil {
		r.logger.Warn("parent hint lookup failed", "parent_geo_id", rec.ParentGeoID, "error", err)
		return nil
	}
	return parent
}

// recordFailure upserts the unmatched row and schedules suggestion
// computation for newly created rows. Returns the row id, or nil when the
// write itself failed.
func (r *ReportResolver) recordFailure(ctx context.Context, rec domain.RawReport) *int64 {
	f := gazetteer.Failure{
		Name:    rec.Location,
		Source:  rec.Source,
		Context: domain.ContextString(rec.Source, rec.MatchContext()),
	}
	if domain.ParseAdminLevelHint(rec.AdminLevel) != nil {
		f.AdminLevelGuess = rec.AdminLevel
		f.DetectedLevel = true
	} else {
		f.AdminLevelGuess = domain.GuessAdminLevel(rec.Location)
	}

	u, created, err := r.store.RecordFailure(ctx, f)
	if err != nil {
		r.logger.Error("recording unmatched location failed",
			"name", rec.Location, "source", rec.Source, "error", err)
		return nil
	}
	r.metrics.UnmatchedRecorded.Inc()

	if created && r.enqueuer != nil {
		r.enqueuer.Enqueue(u.ID, false)
	}
	return &u.ID
}
