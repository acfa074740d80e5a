// Package store persists results and a child lifecycle audit trail to
// SQLite. Work queues themselves stay purely in memory — a crash
// still loses whatever was sitting in a bucket's queue — but when
// store.enabled is set, every bucket's results and fork/exit events are
// written here, surviving a supervisor restart. This is separate from
// the store_result knob, which only governs the in-memory results. Uses modernc.org/sqlite
// with a pragma set and local-filesystem guard against network mounts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at path and
// ensures the results/child_events tables exist. It refuses to open a
// database on a network filesystem, since SQLite's locking is unsafe
// there.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the results and child_events tables and their
// indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS results (
  pid           INTEGER NOT NULL,
  fork_sequence INTEGER NOT NULL,
  bucket        TEXT NOT NULL,
  identifier    TEXT,
  value         JSON NOT NULL,
  created_at    TEXT NOT NULL,
  PRIMARY KEY (pid, fork_sequence)
);`,
		`CREATE TABLE IF NOT EXISTS child_events (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  pid           INTEGER NOT NULL,
  fork_sequence INTEGER NOT NULL,
  bucket        TEXT NOT NULL,
  identifier    TEXT,
  kind          TEXT NOT NULL,
  detail        TEXT,
  created_at    TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS results_bucket_idx ON results(bucket);`,
		`CREATE INDEX IF NOT EXISTS child_events_pid_seq_idx ON child_events(pid, fork_sequence);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}
