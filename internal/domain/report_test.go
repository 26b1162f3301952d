package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawReport(t *testing.T) {
	raw := RawEvent{Value: []byte(`{"source":"dtm","record_id":"r-1","location":"  Al Fasher  ","figure":250}`)}
	rec, err := ParseRawReport(raw)
	require.NoError(t, err)
	assert.Equal(t, "dtm", rec.Source)
	assert.Equal(t, "r-1", rec.RecordID)
	assert.Equal(t, "Al Fasher", rec.Location, "location should be trimmed")
	assert.Equal(t, 250.0, rec.Figure)
}

func TestParseRawReport_Invalid(t *testing.T) {
	_, err := ParseRawReport(RawEvent{Value: []byte("not json")})
	assert.ErrorContains(t, err, "parse raw report")

	_, err = ParseRawReport(RawEvent{Value: []byte(`{"record_id":"r-1","location":"Juba"}`)})
	assert.ErrorContains(t, err, "missing source")
}

func TestMatchContext(t *testing.T) {
	rec := RawReport{
		Source:   "dtm",
		RecordID: "r-1",
		Event:    "Flooding in " + strings.Repeat("x", 100),
		Location: "Al Fasher",
		Notes:    "displacement figures are preliminary",
	}

	ctx := rec.MatchContext()
	assert.Equal(t, "Al Fasher", ctx["original_location"])
	assert.Equal(t, "r-1", ctx["record_id"])
	assert.Len(t, ctx["event_name"], 100, "event name should be truncated")
	assert.Equal(t, "displacement figures are preliminary", ctx["additional_info"])
}

func TestMatchContext_AdminLevelKeys(t *testing.T) {
	// An ordinal hint is a detected level, anything else is a raw guess.
	ctx := RawReport{Source: "dtm", Location: "Juba", AdminLevel: "2"}.MatchContext()
	assert.Equal(t, "2", ctx["detected_admin_level"])
	assert.NotContains(t, ctx, "admin_level")

	ctx = RawReport{Source: "dtm", Location: "Juba", AdminLevel: "state"}.MatchContext()
	assert.Equal(t, "state", ctx["admin_level"])
	assert.NotContains(t, ctx, "detected_admin_level")
}

func TestContextString(t *testing.T) {
	got := ContextString("dtm", map[string]string{
		"original_location": "Al Fasher",
		"event_name":        "Flooding",
		"record_id":         "r-1",
	})
	assert.Equal(t, "Source: dtm | Original location: Al Fasher | Event: Flooding | Record ID: r-1", got)

	assert.Equal(t, "Source: dtm", ContextString("dtm", nil))
}

func TestNewResolvedReport_Matched(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	defer SetClock(nil)

	rec := RawReport{Source: "dtm", RecordID: "r-1", Location: "Al Fasher", Date: "2026-02-27", Figure: 250}
	raw := RawEvent{Value: []byte(`{"source":"dtm"}`)}
	loc := &Location{ID: 5, GeoID: "SDN_ND_AF", Name: "Al Fasher", AdminLevel: AdminLevel{Code: 2, Name: "Locality"}}

	out := NewResolvedReport(rec, raw, loc, nil)
	assert.Equal(t, "SDN_ND_AF", out.GeoID)
	require.NotNil(t, out.LocationID)
	assert.Equal(t, int64(5), *out.LocationID)
	assert.Equal(t, "Al Fasher", out.LocationName)
	assert.Equal(t, "Locality", out.AdminLevel)
	assert.Nil(t, out.UnmatchedID)
	assert.Equal(t, now, out.ProcessedAt)
	assert.Equal(t, raw.Value, out.RawPayload)
	assert.True(t, out.Resolved())
}

func TestNewResolvedReport_Unmatched(t *testing.T) {
	unmatchedID := int64(17)
	rec := RawReport{Source: "dtm", RecordID: "r-2", Location: "Darfour"}

	out := NewResolvedReport(rec, RawEvent{}, nil, &unmatchedID)
	assert.Empty(t, out.GeoID)
	assert.Nil(t, out.LocationID)
	require.NotNil(t, out.UnmatchedID)
	assert.Equal(t, int64(17), *out.UnmatchedID)
	assert.Equal(t, "Darfour", out.RawLocation)
	assert.False(t, out.Resolved())
}
