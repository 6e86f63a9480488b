package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "records: knowledge records with retention state",
		SQL: `
CREATE TABLE records (
    id                TEXT PRIMARY KEY,
    kind              TEXT NOT NULL CHECK (kind IN ('error', 'decision', 'pattern', 'doc', 'learning', 'context')),
    content           TEXT NOT NULL,
    project           TEXT,

    -- Retention state
    importance        REAL NOT NULL DEFAULT -1.0,
    strength          REAL NOT NULL DEFAULT 1.0,
    decay_rate        REAL NOT NULL DEFAULT 0.0,
    last_decay_update INTEGER NOT NULL,
    pinned            INTEGER NOT NULL DEFAULT 0,

    -- Quality state
    tier              TEXT NOT NULL DEFAULT 'episodic' CHECK (tier IN ('episodic', 'staging', 'semantic', 'procedural', 'archived', 'purged')),
    quality_score     REAL NOT NULL DEFAULT 0.0,
    rating_avg        REAL NOT NULL DEFAULT 0.0,
    rating_count      INTEGER NOT NULL DEFAULT 0,

    -- Usage counters
    access_count      INTEGER NOT NULL DEFAULT 0,
    edit_count        INTEGER NOT NULL DEFAULT 1,
    last_accessed_at  INTEGER,
    relationship_count INTEGER NOT NULL DEFAULT 0,

    -- Session grouping
    session_id        TEXT,
    session_seq       INTEGER,
    session_context   TEXT,

    created_at        INTEGER NOT NULL
);

CREATE INDEX idx_records_tier     ON records(tier);
CREATE INDEX idx_records_kind     ON records(kind);
CREATE INDEX idx_records_session  ON records(session_id);
CREATE INDEX idx_records_strength ON records(strength);
CREATE INDEX idx_records_created  ON records(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "record_edges: typed directed relationships between records",
		SQL: `
CREATE TABLE record_edges (
    id          INTEGER PRIMARY KEY,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    edge_type   TEXT NOT NULL CHECK (edge_type IN ('fixes', 'related', 'temporal', 'causes', 'supports', 'part_of', 'supersedes')),
    confidence  REAL NOT NULL DEFAULT 1.0,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (source_id) REFERENCES records(id),
    FOREIGN KEY (target_id) REFERENCES records(id)
);

CREATE UNIQUE INDEX idx_edges_unique ON record_edges(source_id, target_id, edge_type);
CREATE INDEX idx_edges_source ON record_edges(source_id);
CREATE INDEX idx_edges_target ON record_edges(target_id);
`,
	},
	{
		Version:     3,
		Description: "sessions: consolidation registry per session id",
		SQL: `
CREATE TABLE sessions (
    id              INTEGER PRIMARY KEY,
    session_id      TEXT NOT NULL UNIQUE,
    project         TEXT,
    summary_record  TEXT,
    consolidated_at INTEGER,

    FOREIGN KEY (summary_record) REFERENCES records(id)
);

CREATE INDEX idx_sessions_consolidated ON sessions(consolidated_at);
`,
	},
	{
		Version:     4,
		Description: "record_vectors: embedding cache for relationship inference",
		SQL: `
CREATE TABLE record_vectors (
    record_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
