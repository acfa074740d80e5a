package child

import "sync"

// Table is the supervisor's single source of truth for every child it
// has forked. It is mutex-guarded as defense-in-depth; in normal
// operation all mutation is routed through the supervisor's mailbox
// goroutine, so the lock is rarely contended.
type Table struct {
	mu    sync.Mutex
	byPID map[int]*Record
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byPID: make(map[int]*Record)}
}

// Insert adds rec, indexed by rec.PID. A second Insert for the same pid
// overwrites the first — callers are expected to Remove a pid before it
// can be reused by the OS, so this should never happen in practice.
func (t *Table) Insert(rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPID[rec.PID] = rec
}

// Lookup returns the record for pid, or (nil, false) if unknown.
func (t *Table) Lookup(pid int) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byPID[pid]
	return rec, ok
}

// MarkStopped transitions pid's record to Stopped without removing it
// from the table. The reaper keeps a stopped record around until its
// channel has been fully drained, so a child whose last result frame
// hasn't been read yet still counts as pending.
func (t *Table) MarkStopped(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byPID[pid]
	if !ok {
		return ErrUnknownPID
	}
	rec.Status = Stopped
	return nil
}

// Remove deletes pid's record entirely. Callers must have drained its
// channel first; Remove does not close anything.
func (t *Table) Remove(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byPID[pid]; !ok {
		return ErrUnknownPID
	}
	delete(t.byPID, pid)
	return nil
}

// Iterate calls fn once per record currently in the table. fn must not
// call back into the Table — Iterate holds the lock for its duration.
func (t *Table) Iterate(fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.byPID {
		fn(rec)
	}
}

// CountActive returns the number of live (non-Stopped) children. If
// bucket is non-empty, only that bucket's children are counted.
func (t *Table) CountActive(bucket string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.byPID {
		if rec.Status == Stopped {
			continue
		}
		if bucket != "" && rec.Bucket != bucket {
			continue
		}
		n++
	}
	return n
}

// CountPending returns the number of children that still occupy a slot
// against a bucket's concurrency limit: live children, plus Stopped
// children whose channel may still hold an unread result frame. A
// Stopped record stops counting as soon as its channel has no buffered
// data, whether or not Remove has been called yet.
func (t *Table) CountPending(bucket string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.byPID {
		if bucket != "" && rec.Bucket != bucket {
			continue
		}
		if rec.Status != Stopped {
			n++
			continue
		}
		if rec.Channel != nil && rec.Channel.HasBufferedData() {
			n++
		}
	}
	return n
}
