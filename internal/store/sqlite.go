// Package store provides SQLite-backed persistence for newsletter runs.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	phase           TEXT NOT NULL DEFAULT 'planning',
	state_version   INTEGER NOT NULL DEFAULT 1,
	degraded        INTEGER NOT NULL DEFAULT 0,
	transcript      TEXT NOT NULL DEFAULT '',
	config_json     TEXT NOT NULL DEFAULT '{}',
	user_id         TEXT NOT NULL DEFAULT '',
	session_id      TEXT NOT NULL DEFAULT '',
	last_error      TEXT NOT NULL DEFAULT '',
	last_event_seq  INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at_unix);

CREATE TABLE IF NOT EXISTS run_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	seq_no     INTEGER NOT NULL,
	phase      TEXT NOT NULL,
	event_type TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_events_run_seq ON run_events(run_id, seq_no);

CREATE TABLE IF NOT EXISTS quality_reports (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	overall_score INTEGER NOT NULL DEFAULT 0,
	report_json   TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_run ON quality_reports(run_id);

CREATE TABLE IF NOT EXISTS notifications (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL,
	severity         TEXT NOT NULL DEFAULT 'info',
	message          TEXT NOT NULL DEFAULT '',
	suggestions_json TEXT NOT NULL DEFAULT '[]',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_run ON notifications(run_id);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id          TEXT NOT NULL,
	name            TEXT NOT NULL,
	data            BLOB NOT NULL,
	updated_at_unix INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, name)
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
