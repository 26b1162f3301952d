package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// RawReport is the flat JSON structure published by the per-source collector
// services, one object per feed record.
type RawReport struct {
	Source      string  `json:"source"`
	RecordID    string  `json:"record_id"`
	Event       string  `json:"event,omitempty"`
	Location    string  `json:"location"`
	AdminLevel  string  `json:"admin_level,omitempty"`   // ordinal or level name, optional hint
	ParentGeoID string  `json:"parent_geo_id,omitempty"` // optional hierarchy hint
	Date        string  `json:"date,omitempty"`
	Figure      float64 `json:"figure,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// ResolvedReport is the domain-rich representation after location resolution.
// Resolution is advisory: a report with no match still flows downstream with
// UnmatchedID set so it can be reconciled later.
type ResolvedReport struct {
	Source      string  `json:"source"`
	RecordID    string  `json:"record_id"`
	Event       string  `json:"event,omitempty"`
	RawLocation string  `json:"raw_location"`
	Date        string  `json:"date,omitempty"`
	Figure      float64 `json:"figure,omitempty"`

	// Resolution outcome. Exactly one of GeoID or UnmatchedID is set.
	GeoID        string `json:"geo_id,omitempty"`
	LocationID   *int64 `json:"location_id,omitempty"`
	LocationName string `json:"location_name,omitempty"`
	AdminLevel   string `json:"admin_level,omitempty"`
	UnmatchedID  *int64 `json:"unmatched_id,omitempty"`

	RawPayload  []byte    `json:"-"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Resolved reports whether the report's location was matched to a canonical entry.
func (r ResolvedReport) Resolved() bool {
	return r.GeoID != ""
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ParseRawReport deserializes a RawEvent's value into a RawReport.
func ParseRawReport(raw RawEvent) (RawReport, error) {
	var rec RawReport
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return RawReport{}, fmt.Errorf("parse raw report: %w", err)
	}
	if rec.Source == "" {
		return RawReport{}, fmt.Errorf("parse raw report: missing source")
	}
	rec.Location = strings.TrimSpace(rec.Location)
	return rec, nil
}

// MatchContext builds the context map handed to the matcher and stored with
// unmatched rows. Values are truncated so review rows stay readable.
func (r RawReport) MatchContext() map[string]string {
	ctx := map[string]string{
		"original_location": r.Location,
		"record_id":         r.RecordID,
	}
	if r.Event != "" {
		ctx["event_name"] = truncate(r.Event, 100)
	}
	if r.AdminLevel != "" {
		if lvl := ParseAdminLevelHint(r.AdminLevel); lvl != nil {
			ctx["detected_admin_level"] = r.AdminLevel
		} else {
			ctx["admin_level"] = r.AdminLevel
		}
	}
	if r.Notes != "" {
		ctx["additional_info"] = truncate(r.Notes, 100)
	}
	return ctx
}

// ContextString flattens a match context map into the free-text form stored
// alongside unmatched locations.
func ContextString(source string, ctx map[string]string) string {
	parts := []string{fmt.Sprintf("Source: %s", source)}
	for _, f := range []struct{ key, label string }{
		{"original_location", "Original location"},
		{"event_name", "Event"},
		{"record_id", "Record ID"},
		{"additional_info", "Additional info"},
	} {
		if v := ctx[f.key]; v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f.label, v))
		}
	}
	return strings.Join(parts, " | ")
}

// NewResolvedReport builds the output representation for a parsed report. loc
// may be nil (no match), in which case unmatchedID links the report to its
// review row.
func NewResolvedReport(rec RawReport, raw RawEvent, loc *Location, unmatchedID *int64) ResolvedReport {
	out := ResolvedReport{
		Source:      rec.Source,
		RecordID:    rec.RecordID,
		Event:       rec.Event,
		RawLocation: rec.Location,
		Date:        rec.Date,
		Figure:      rec.Figure,
		RawPayload:  raw.Value,
		ProcessedAt: clock.Now(),
	}
	if loc != nil {
		out.GeoID = loc.GeoID
		out.LocationID = &loc.ID
		out.LocationName = loc.Name
		out.AdminLevel = loc.AdminLevel.Name
	} else {
		out.UnmatchedID = unmatchedID
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
