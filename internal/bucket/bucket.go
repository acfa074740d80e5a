// Package bucket implements the bucket registry: named partitions of
// work, each with its own queue and per-child policy knobs,
// defaulting from the implicit DEFAULT bucket.
package bucket

import (
	"sync"

	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// DefaultID is the sentinel identifier for the always-present default
// bucket.
const DefaultID = "DEFAULT"

// WorkItem is one unit of work sitting in a bucket's queue, paired
// with the caller-supplied identifier used for IsWorkRunning lookups.
type WorkItem struct {
	Identifier string
	Item       any
}

// Bucket holds one partition's configuration, queue, and callback
// slots.
type Bucket struct {
	ID string

	MaxChildren        int
	MaxWorkPerChild     int
	ChildMaxRunTime     int // seconds; -1 = unlimited
	SingleWorkItem      bool
	PersistentMode      bool
	PersistentModeData  any

	// Command, when set, is the external executable internal/runner
	// shells out to for this bucket's child_run callback — the concrete
	// default worker.
	Command        []string
	CommandTimeout int // seconds; 0 = unbounded beyond ChildMaxRunTime

	Queue          []WorkItem
	PendingResults []any

	// Seven per-bucket callback slots.
	OnChildRun          callback.Ref
	OnChildExit         callback.Ref
	OnChildSighup       callback.Ref
	OnChildTimeout      callback.Ref
	OnParentFork        callback.Ref
	OnParentChildExited callback.Ref
	OnParentResults     callback.Ref
}

// clone returns a deep-enough copy of b suitable for seeding a new
// bucket: callback refs and scalar knobs are copied, but the queue and
// pending results start empty (Invariant B1 — a new bucket inherits
// DEFAULT's knobs, not its backlog).
func (b *Bucket) clone(id string) *Bucket {
	nb := *b
	nb.ID = id
	nb.Queue = nil
	nb.PendingResults = nil
	return &nb
}

// newDefault returns a DEFAULT bucket with conservative knobs. Callers
// that load configuration from YAML (internal/config) overwrite these
// before the registry starts dispatching.
func newDefault() *Bucket {
	return &Bucket{
		ID:              DefaultID,
		MaxChildren:     1,
		MaxWorkPerChild: 1,
		ChildMaxRunTime: -1,
	}
}

// Registry is the parent's exclusive owner of every bucket. All
// mutation is expected to happen from the
// supervisor's single mailbox-consuming goroutine; the mutex here is
// defense-in-depth, matching the discipline in internal/child.Table.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	resizer Resizer

	// storeResult is the global store_result knob: whether PostResult
	// retains a result in a bucket's in-memory pending_results sequence
	// at all. Separate from internal/store's SQLite persistence, which
	// is gated by config.StoreConfig.Enabled.
	storeResult bool
}

// Resizer lets the registry ask its owning supervisor to request exit
// of surplus persistent-mode workers without importing internal/supervisor
// directly.
type Resizer interface {
	RequestExitSurplus(bucket string, count int)
}

// NewRegistry returns a registry seeded with the DEFAULT bucket.
func NewRegistry(resizer Resizer) *Registry {
	return &Registry{
		buckets:     map[string]*Bucket{DefaultID: newDefault()},
		resizer:     resizer,
		storeResult: true,
	}
}

// SetResizer wires the resizer after construction, for callers that
// need a *Registry to build the very object (e.g. a *supervisor.Supervisor)
// that will act as its resizer.
func (r *Registry) SetResizer(resizer Resizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizer = resizer
}

// ensure returns the bucket for id, auto-creating it as a clone of
// DEFAULT if it doesn't exist yet. Caller must hold mu.
func (r *Registry) ensure(id string) *Bucket {
	if id == "" {
		id = DefaultID
	}
	if b, ok := r.buckets[id]; ok {
		return b
	}
	b := r.buckets[DefaultID].clone(id)
	r.buckets[id] = b
	log.Info("bucket created", "bucket", id)
	return b
}

// AddBucket creates bucket id if it does not already exist.
func (r *Registry) AddBucket(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(id)
}

// BucketExists reports whether id has been created.
func (r *Registry) BucketExists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buckets[id]
	return ok
}

// BucketList returns known bucket ids. If includeDefault is false,
// DEFAULT is omitted from the result.
func (r *Registry) BucketList(includeDefault bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.buckets))
	for id := range r.buckets {
		if !includeDefault && id == DefaultID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Get returns the bucket for id without creating it.
func (r *Registry) Get(id string) (*Bucket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[id]
	return b, ok
}

// AddWork appends items to bucket id's queue in order, auto-creating
// the bucket if needed. Each item is tagged with the
// caller-supplied identifier so IsWorkRunning can find it later.
func (r *Registry) AddWork(id, identifier string, item any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensure(id)
	b.Queue = append(b.Queue, WorkItem{Identifier: identifier, Item: item})
}

// IsWorkRunning reports whether identifier is still queued in bucket
// id (it does not inspect children already dispatched a batch
// containing it — that tracking lives in the child table).
func (r *Registry) IsWorkRunning(id, identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[id]
	if !ok {
		return false
	}
	for _, w := range b.Queue {
		if w.Identifier == identifier {
			return true
		}
	}
	return false
}

// WorkRunning reports whether bucket id's queue currently holds any
// work.
func (r *Registry) WorkRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[id]
	return ok && len(b.Queue) > 0
}

// WorkSets returns the identifiers currently queued in bucket id, in
// queue order.
func (r *Registry) WorkSets(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[id]
	if !ok {
		return nil
	}
	out := make([]string, len(b.Queue))
	for i, w := range b.Queue {
		out[i] = w.Identifier
	}
	return out
}

// WorkSetsCount returns the queue depth of bucket id, or across all
// buckets when all is true.
func (r *Registry) WorkSetsCount(id string, all bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if all {
		n := 0
		for _, b := range r.buckets {
			n += len(b.Queue)
		}
		return n
	}
	b, ok := r.buckets[id]
	if !ok {
		return 0
	}
	return len(b.Queue)
}
