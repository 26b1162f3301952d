package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AdminLevel is one rung of the administrative hierarchy. Code is the ordinal
// depth: 0 is the root (country), each child level is one greater.
type AdminLevel struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// Point type values for Location.PointType.
const (
	PointTypeCentroid = "centroid"
	PointTypeGPS      = "gps"
)

// Location is a canonical entry in the administrative-boundary hierarchy.
type Location struct {
	ID         int64      `json:"id"`
	GeoID      string     `json:"geo_id"`
	Name       string     `json:"name"`
	LocalName  string     `json:"local_name,omitempty"` // localized spelling, e.g. Arabic
	AdminLevel AdminLevel `json:"admin_level"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lon        *float64   `json:"lon,omitempty"`
	PointType  string     `json:"point_type,omitempty"` // "centroid" or "gps"
	Boundary   []byte     `json:"-"`                    // opaque geometry blob (GeoJSON)
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (l *Location) String() string {
	return fmt.Sprintf("%s: %s", l.GeoID, l.Name)
}

// GazetteerEntry is a source-scoped alternate name or code for a Location.
type GazetteerEntry struct {
	ID         int64     `json:"id"`
	LocationID int64     `json:"location_id"`
	Source     string    `json:"source"`
	Code       string    `json:"code,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// UnmatchedStatus is the review state of an UnmatchedLocation.
type UnmatchedStatus string

const (
	UnmatchedPending  UnmatchedStatus = "pending"
	UnmatchedResolved UnmatchedStatus = "resolved"
	UnmatchedIgnored  UnmatchedStatus = "ignored"
	UnmatchedDeferred UnmatchedStatus = "deferred"
)

// UnmatchedLocation tracks a location string that failed to resolve, unique
// per (name, source). Repeated failures increment OccurrenceCount instead of
// creating new rows.
type UnmatchedLocation struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Source          string          `json:"source"`
	AdminLevelGuess string          `json:"admin_level_guess,omitempty"`
	Context         string          `json:"context,omitempty"`
	OccurrenceCount int             `json:"occurrence_count"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
	Status          UnmatchedStatus `json:"status"`
	ResolvedID      *int64          `json:"resolved_location_id,omitempty"`

	// Precomputed review suggestions, populated asynchronously at most once
	// unless recomputation is forced.
	PotentialMatches []Suggestion `json:"potential_matches,omitempty"`
	SuggestionsAt    *time.Time   `json:"potential_matches_computed_at,omitempty"`
	SuggestionsError string       `json:"potential_matches_error,omitempty"`
}

// Suggestion is one ranked candidate for resolving an unmatched location.
type Suggestion struct {
	LocationID     int64   `json:"location_id"`
	LocationName   string  `json:"location_name"`
	AdminLevel     string  `json:"admin_level"`
	AdminLevelCode int     `json:"admin_level_code"`
	GeoID          string  `json:"geo_id"`
	MatchedName    string  `json:"matched_name"`
	Similarity     float64 `json:"similarity_score"`
	MatchSource    string  `json:"match_source"`
}

// geoIDRe validates the segment structure of a geo_id: an uppercase country
// code followed by underscore-joined uppercase/numeric segments.
var geoIDRe = regexp.MustCompile(`^[A-Z]{2,3}(_[A-Z0-9]{1,10})*$`)

// ValidateGeoID checks a geo_id's format and, when a parent geo_id is given,
// the hierarchy invariant that the child's geo_id extends the parent's.
func ValidateGeoID(geoID, parentGeoID string) error {
	if !geoIDRe.MatchString(geoID) {
		return fmt.Errorf("geo_id %q: must be segments like SD, SD_001, SD_001_002", geoID)
	}
	if parentGeoID != "" && !strings.HasPrefix(geoID, parentGeoID+"_") {
		return fmt.Errorf("geo_id %q: must be prefixed by parent geo_id %q", geoID, parentGeoID)
	}
	return nil
}

// ParseAdminLevelHint interprets a free-form admin level hint from a feed
// record. Ordinal strings ("0", "1", ...) become a usable matching
// constraint; anything else returns nil so the raw hint is stored only as a
// guess for reviewers.
func ParseAdminLevelHint(hint string) *int {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil
	}
	n, err := strconv.Atoi(hint)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// GuessAdminLevel infers a coarse admin level label from name patterns, used
// only to annotate unmatched rows for reviewers.
func GuessAdminLevel(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "state"):
		return "State"
	case strings.Contains(lower, "locality"), strings.Contains(lower, "town"), strings.Contains(lower, "city"):
		return "Locality"
	case strings.Contains(lower, "county"), strings.Contains(lower, "district"):
		return "County"
	}
	return ""
}
