// Package domain models the administrative-boundary hierarchy and the raw
// humanitarian feed records resolved against it.
//
// # Hierarchy
//
// Locations form a strict tree keyed by geo_id:
//
//	SD           admin level 0 (country)
//	SD_001       admin level 1 (state)
//	SD_001_002   admin level 2 (locality)
//
// A child's geo_id is always prefixed by its parent's geo_id, and a child's
// admin level is always exactly one deeper than its parent's. Level-0
// locations have no parent. Administrative levels are defined once at setup
// ("0" country, "1" state, "2" locality, ...) and carry an ordinal code used
// for specificity comparisons during matching.
//
// # Gazetteer
//
// External sources (ACLED, IDMC, UNOCHA, OpenStreetMap, ...) each spell and
// code places their own way. A GazetteerEntry records one source-scoped
// alternate identity for a canonical Location; many entries from different
// sources may point at the same Location.
//
// # Raw feed records
//
// Upstream collectors publish one JSON object per record to the source topic:
//
//	{"source":"ACLED","record_id":"9912044","event":"Armed clash",
//	 "location":"Al Fasher, North Darfur, Sudan","admin_level":"2",
//	 "parent_geo_id":"SD_001","date":"2024-04-26","figure":12}
//
// The location field is free text as reported, so it may carry country
// suffixes ("..., Sudan"), administrative suffixes ("Khartoum State"),
// generic geographic terms ("Al Fasher City"), or transliteration variants.
// admin_level is an optional hint: either an ordinal ("2") or a level name
// ("Locality"); unparseable hints are kept only as the stored guess for
// review, never as a matching constraint.
//
// # Unmatched locations
//
// Strings the matcher cannot resolve are tracked per (name, source) pair with
// an occurrence count, so reviewers triage by frequency rather than wading
// through duplicates. Suggestions for these rows are precomputed in the
// background; see the suggest package.
package domain
