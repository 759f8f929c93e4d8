// Package store persists wave runs, their mappings, issues and reports, and
// the remembered reviewer decisions, in SQLite.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id                   TEXT PRIMARY KEY,
	status               TEXT NOT NULL,
	termination          TEXT NOT NULL DEFAULT '',
	source_file          TEXT NOT NULL DEFAULT '',
	destination_file     TEXT NOT NULL DEFAULT '',
	source_checksum      TEXT NOT NULL DEFAULT '',
	destination_checksum TEXT NOT NULL DEFAULT '',
	source_anchor        TEXT NOT NULL DEFAULT '',
	destination_anchor   TEXT NOT NULL DEFAULT '',
	options              TEXT NOT NULL DEFAULT '{}',
	statistics           TEXT NOT NULL DEFAULT '{}',
	output_dir           TEXT NOT NULL DEFAULT '',
	error                TEXT NOT NULL DEFAULT '',
	started_at           DATETIME NOT NULL,
	finished_at          DATETIME
);

CREATE TABLE IF NOT EXISTS mappings (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	source_id      TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	match_score    INTEGER NOT NULL,
	level          INTEGER NOT NULL,
	found_via      TEXT NOT NULL,
	from_family_id TEXT NOT NULL DEFAULT '',
	from_person_id TEXT NOT NULL DEFAULT '',
	confirmed      INTEGER NOT NULL DEFAULT 0,
	mapped_at      DATETIME NOT NULL,
	UNIQUE(run_id, source_id, destination_id)
);

CREATE INDEX IF NOT EXISTS idx_mappings_source ON mappings(run_id, source_id);
CREATE INDEX IF NOT EXISTS idx_mappings_destination ON mappings(run_id, destination_id);

CREATE TABLE IF NOT EXISTS unmatched (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	side              TEXT NOT NULL,
	person_id         TEXT NOT NULL,
	label             TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL,
	nearest_person_id TEXT NOT NULL DEFAULT '',
	nearest_level     INTEGER NOT NULL DEFAULT -1,
	UNIQUE(run_id, side, person_id)
);

CREATE TABLE IF NOT EXISTS issues (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	severity       TEXT NOT NULL,
	type           TEXT NOT NULL,
	source_id      TEXT NOT NULL DEFAULT '',
	destination_id TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issues_run ON issues(run_id, seq);

CREATE TABLE IF NOT EXISTS reports (
	run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	body   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	source_id      TEXT PRIMARY KEY,
	decision       TEXT NOT NULL,
	destination_id TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL
);
`

// DB wraps a sql.DB with run-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks the connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
