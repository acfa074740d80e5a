package bucket

import "github.com/mattjoyce/dispatchd/internal/log"

// SetMaxChildren sets bucket id's concurrency limit, clamping negative
// values to 0 (max_children disables the bucket entirely at 0). When
// the bucket is in persistent mode and the new limit is lower than the
// old one, the registry asks its resizer to request exit of the
// surplus workers.
func (r *Registry) SetMaxChildren(id string, n int) {
	r.mu.Lock()
	b := r.ensure(id)
	if n < 0 {
		log.Warn("max_children clamped to 0", "bucket", id, "requested", n)
		n = 0
	}
	old := b.MaxChildren
	b.MaxChildren = n
	persistent := b.PersistentMode
	r.mu.Unlock()

	if persistent && n < old && r.resizer != nil {
		r.resizer.RequestExitSurplus(id, old-n)
	}
}

// SetMaxWorkPerChild sets the per-fork batch size, clamping values
// below 1 up to 1 — a bucket always forks for at least one item.
func (r *Registry) SetMaxWorkPerChild(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensure(id)
	if n < 1 {
		log.Warn("max_work_per_child clamped to 1", "bucket", id, "requested", n)
		n = 1
	}
	b.MaxWorkPerChild = n
}

// SetChildMaxRunTime sets the per-child wall-clock deadline in
// seconds. -1 means unlimited; 0 is accepted as-is with a warning,
// since it gives the housekeeper no grace period before declaring a
// timeout.
func (r *Registry) SetChildMaxRunTime(id string, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensure(id)
	if seconds == 0 {
		log.Warn("child_max_run_time set to 0, children will be killed almost immediately", "bucket", id)
	} else if seconds < -1 {
		log.Warn("child_max_run_time clamped to -1 (unlimited)", "bucket", id, "requested", seconds)
		seconds = -1
	}
	b.ChildMaxRunTime = seconds
}

// SetSingleWorkItem toggles single-item batch mode.
func (r *Registry) SetSingleWorkItem(id string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(id).SingleWorkItem = on
}

// SetPersistentMode toggles persistent-mode and its payload together,
// since a persistent bucket without data is a configuration mistake
// the registry should surface rather than silently accept.
func (r *Registry) SetPersistentMode(id string, on bool, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensure(id)
	if on && data == nil {
		log.Warn("persistent_mode enabled with no payload", "bucket", id)
	}
	b.PersistentMode = on
	b.PersistentModeData = data
}

// SetStoreResult toggles the global store_result knob. Disabling it
// does not clear results already queued, but while it is disabled
// PostResult retains nothing new and HasResult, GetResult and
// GetAllResults report no results; re-enabling it makes the queued
// ones visible again.
func (r *Registry) SetStoreResult(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeResult = on
}

// StoreResult reports the current store_result knob value.
func (r *Registry) StoreResult() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storeResult
}

// HasResult reports whether bucket id has a pending result ready to
// be pulled by GetResult. Always false once store_result is disabled,
// since PostResult stops retaining results at that point.
func (r *Registry) HasResult(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.storeResult {
		return false
	}
	b, ok := r.buckets[id]
	return ok && len(b.PendingResults) > 0
}

// GetResult pops the oldest pending result for bucket id, or returns
// (nil, false) if none is queued or store_result is disabled.
func (r *Registry) GetResult(id string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.storeResult {
		return nil, false
	}
	b, ok := r.buckets[id]
	if !ok || len(b.PendingResults) == 0 {
		return nil, false
	}
	v := b.PendingResults[0]
	b.PendingResults = b.PendingResults[1:]
	return v, true
}

// GetAllResults drains every pending result for bucket id, or returns
// nil if store_result is disabled.
func (r *Registry) GetAllResults(id string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.storeResult {
		return nil
	}
	b, ok := r.buckets[id]
	if !ok {
		return nil
	}
	out := b.PendingResults
	b.PendingResults = nil
	return out
}

// PostResult appends a result frame to bucket id's pending queue,
// unless the store_result knob is disabled, in which case the result
// is dropped. It is called by the reaper as frames arrive on a
// child's channel, and by post-results draining at reap time.
func (r *Registry) PostResult(id string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.storeResult {
		return
	}
	b := r.ensure(id)
	b.PendingResults = append(b.PendingResults, v)
}

// PopBatch removes up to n items from the head of bucket id's queue.
// In single-item mode, n is ignored and at most one item is returned.
func (r *Registry) PopBatch(id string, n int) []WorkItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[id]
	if !ok || len(b.Queue) == 0 {
		return nil
	}
	if b.SingleWorkItem {
		n = 1
	}
	if n > len(b.Queue) {
		n = len(b.Queue)
	}
	batch := b.Queue[:n]
	b.Queue = b.Queue[n:]
	return batch
}

// RequeueBatch restores items to the head of bucket id's queue, ahead
// of anything added since they were popped. Used when PopBatch already
// removed a batch but the fork attempt for it then failed, so the
// batch goes back to the front instead of being lost.
func (r *Registry) RequeueBatch(id string, items []WorkItem) {
	if len(items) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensure(id)
	b.Queue = append(items, b.Queue...)
}
