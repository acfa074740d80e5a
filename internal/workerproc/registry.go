package workerproc

import (
	"fmt"
	"sync"

	"github.com/mattjoyce/dispatchd/internal/callback"
)

// HelperRegistry maps helper ids to their run function. Both the
// supervisor process and every re-exec'd worker process build their
// own instance of this registry by running the same application
// setup code at startup, before branching on IsChild — the registry
// never itself crosses fd 3, only the id naming an entry in it does.
type HelperRegistry struct {
	mu   sync.RWMutex
	refs map[string]callback.Ref
}

// NewHelperRegistry returns an empty registry.
func NewHelperRegistry() *HelperRegistry {
	return &HelperRegistry{refs: make(map[string]callback.Ref)}
}

// Register records fn under id. Registering the same id twice
// overwrites the previous entry.
func (h *HelperRegistry) Register(id string, fn callback.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs[id] = fn
}

// Resolve looks up id.
func (h *HelperRegistry) Resolve(id string) (callback.Ref, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.refs[id]
	if !ok {
		return callback.Ref{}, fmt.Errorf("workerproc: no helper registered with id %q", id)
	}
	return fn, nil
}
