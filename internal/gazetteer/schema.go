package gazetteer

const schema = `
CREATE TABLE IF NOT EXISTS admin_levels (
	code INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	geo_id      TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	local_name  TEXT NOT NULL DEFAULT '',
	admin_level INTEGER NOT NULL REFERENCES admin_levels(code),
	parent_id   INTEGER REFERENCES locations(id) ON DELETE CASCADE,
	lat         REAL,
	lon         REAL,
	point_type  TEXT NOT NULL DEFAULT '',
	boundary    BLOB,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_locations_name ON locations(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_locations_parent ON locations(parent_id);
CREATE INDEX IF NOT EXISTS idx_locations_level ON locations(admin_level);

CREATE TABLE IF NOT EXISTS gazetteer_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id INTEGER NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
	source      TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE(location_id, source, name)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_loc_source_code
	ON gazetteer_entries(location_id, source, code) WHERE code != '';
CREATE INDEX IF NOT EXISTS idx_entries_name ON gazetteer_entries(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_entries_source ON gazetteer_entries(source);

CREATE TABLE IF NOT EXISTS unmatched_locations (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	source             TEXT NOT NULL,
	admin_level_guess  TEXT NOT NULL DEFAULT '',
	context            TEXT NOT NULL DEFAULT '',
	occurrence_count   INTEGER NOT NULL DEFAULT 1,
	first_seen         INTEGER NOT NULL,
	last_seen          INTEGER NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	resolved_location_id INTEGER REFERENCES locations(id) ON DELETE SET NULL,
	potential_matches  TEXT NOT NULL DEFAULT '[]',
	potential_matches_computed_at INTEGER,
	potential_matches_error       TEXT NOT NULL DEFAULT '',
	UNIQUE(name, source)
);
CREATE INDEX IF NOT EXISTS idx_unmatched_status ON unmatched_locations(status);
CREATE INDEX IF NOT EXISTS idx_unmatched_source ON unmatched_locations(source);
`
