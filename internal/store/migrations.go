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
		Description: "episodes: raw observations awaiting consolidation",
		SQL: `
CREATE TABLE episodes (
    id             TEXT PRIMARY KEY,
    scope          TEXT NOT NULL,
    content        TEXT NOT NULL,
    embedding      BLOB,
    lexical        TEXT,
    source_session TEXT,
    created_at     INTEGER NOT NULL,
    expires_at     INTEGER NOT NULL,
    consolidated   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_episodes_scope        ON episodes(scope);
CREATE INDEX idx_episodes_consolidated ON episodes(consolidated, created_at);
CREATE INDEX idx_episodes_expires      ON episodes(expires_at);
`,
	},
	{
		Version:     2,
		Description: "facts: subject-predicate knowledge with supersession",
		SQL: `
CREATE TABLE facts (
    id                 TEXT PRIMARY KEY,
    subject            TEXT NOT NULL,
    predicate          TEXT NOT NULL,
    content            TEXT NOT NULL,
    embedding          BLOB,
    lexical            TEXT,
    scope              TEXT NOT NULL DEFAULT 'global',
    confidence         REAL NOT NULL,
    permanence         TEXT NOT NULL CHECK (permanence IN ('permanent', 'stable', 'standard', 'volatile', 'ephemeral')),
    decay_rate         REAL NOT NULL DEFAULT 0,
    validity           TEXT NOT NULL DEFAULT 'active' CHECK (validity IN ('active', 'fading', 'expired', 'superseded', 'forgotten')),
    ref_count          INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    last_referenced_at INTEGER NOT NULL,
    last_confirmed_at  INTEGER NOT NULL,
    supersedes_id      TEXT REFERENCES facts(id),
    source_episode_id  TEXT,
    tags               TEXT
);

-- The storage-level supersession guard: at most one active-or-fading fact
-- per (subject, predicate, scope). Concurrent writers cannot race past it.
CREATE UNIQUE INDEX idx_facts_live_key ON facts(subject, predicate, scope)
    WHERE validity IN ('active', 'fading');

CREATE INDEX idx_facts_scope    ON facts(scope);
CREATE INDEX idx_facts_validity ON facts(validity);
`,
	},
	{
		Version:     3,
		Description: "rules: behavioral patterns with trust maturity",
		SQL: `
CREATE TABLE rules (
    id                 TEXT PRIMARY KEY,
    content            TEXT NOT NULL,
    embedding          BLOB,
    lexical            TEXT,
    scope              TEXT NOT NULL DEFAULT 'global',
    confidence         REAL NOT NULL DEFAULT 0.5,
    maturity           TEXT NOT NULL DEFAULT 'candidate' CHECK (maturity IN ('candidate', 'established', 'proven', 'anti-pattern')),
    validity           TEXT NOT NULL DEFAULT 'active' CHECK (validity IN ('active', 'fading', 'expired', 'forgotten')),
    applied_count      INTEGER NOT NULL DEFAULT 0,
    success_count      INTEGER NOT NULL DEFAULT 0,
    harmful_count      INTEGER NOT NULL DEFAULT 0,
    effectiveness      REAL NOT NULL DEFAULT 0,
    ref_count          INTEGER NOT NULL DEFAULT 0,
    harmful_reasons    TEXT,
    created_at         INTEGER NOT NULL,
    last_applied_at    INTEGER,
    last_referenced_at INTEGER NOT NULL,
    last_confirmed_at  INTEGER NOT NULL,
    tags               TEXT
);

CREATE INDEX idx_rules_scope    ON rules(scope);
CREATE INDEX idx_rules_validity ON rules(validity);
`,
	},
	{
		Version:     4,
		Description: "memory_links: directed provenance edges",
		SQL: `
CREATE TABLE memory_links (
    source_type TEXT NOT NULL CHECK (source_type IN ('episode', 'fact', 'rule')),
    source_id   TEXT NOT NULL,
    target_type TEXT NOT NULL CHECK (target_type IN ('episode', 'fact', 'rule')),
    target_id   TEXT NOT NULL,
    relation    TEXT NOT NULL CHECK (relation IN ('derived_from', 'supports', 'contradicts', 'supersedes')),
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (source_type, source_id, target_type, target_id, relation)
);

CREATE INDEX idx_links_target ON memory_links(target_type, target_id);
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
