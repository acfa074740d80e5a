package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind labels a row in child_events.
type EventKind string

const (
	EventForked  EventKind = "forked"
	EventExited  EventKind = "exited"
	EventTimeout EventKind = "timeout"
	EventRespawn EventKind = "respawn"
)

// Store persists results and child lifecycle events, keyed by
// (pid, forkSequence) rather than bare pid: fork sequence is a
// monotonic counter (dispatch.Dispatcher.NextForkSequence), never
// reused, so two children that happen to share a recycled pid (a
// pid-wrap collision) never collide in this table.
type Store struct {
	db *sql.DB
}

// New wraps an already-open, already-bootstrapped database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// PutResult records one result frame for (pid, forkSequence).
func (s *Store) PutResult(ctx context.Context, pid int, forkSequence uint64, bucket, identifier string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (pid, fork_sequence, bucket, identifier, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pid, forkSequence, bucket, identifier, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: put result: %w", err)
	}
	return nil
}

// Result is one persisted result row.
type Result struct {
	PID          int
	ForkSequence uint64
	Bucket       string
	Identifier   string
	Value        json.RawMessage
	CreatedAt    time.Time
}

// ResultsForBucket returns every persisted result for bucket, oldest
// first.
func (s *Store) ResultsForBucket(ctx context.Context, bucket string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, fork_sequence, bucket, identifier, value, created_at
		 FROM results WHERE bucket = ? ORDER BY created_at ASC`, bucket)
	if err != nil {
		return nil, fmt.Errorf("store: query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var createdAt string
		if err := rows.Scan(&r.PID, &r.ForkSequence, &r.Bucket, &r.Identifier, &r.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultsForPID returns every persisted result for pid across every
// fork sequence it has ever held, oldest first.
func (s *Store) ResultsForPID(ctx context.Context, pid int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, fork_sequence, bucket, identifier, value, created_at
		 FROM results WHERE pid = ? ORDER BY created_at ASC`, pid)
	if err != nil {
		return nil, fmt.Errorf("store: query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var createdAt string
		if err := rows.Scan(&r.PID, &r.ForkSequence, &r.Bucket, &r.Identifier, &r.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutEvent appends one child lifecycle event.
func (s *Store) PutEvent(ctx context.Context, pid int, forkSequence uint64, bucket, identifier string, kind EventKind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO child_events (pid, fork_sequence, bucket, identifier, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pid, forkSequence, bucket, identifier, string(kind), detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: put event: %w", err)
	}
	return nil
}

// Event is one persisted child_events row.
type Event struct {
	PID          int
	ForkSequence uint64
	Bucket       string
	Identifier   string
	Kind         EventKind
	Detail       string
	CreatedAt    time.Time
}

// EventsForPID returns every lifecycle event recorded for pid across
// every fork sequence it has ever held, oldest first — the lineage
// report internal/inspect renders.
func (s *Store) EventsForPID(ctx context.Context, pid int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, fork_sequence, bucket, identifier, kind, detail, created_at
		 FROM child_events WHERE pid = ? ORDER BY created_at ASC`, pid)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.PID, &e.ForkSequence, &e.Bucket, &e.Identifier, &e.Kind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
