package supervisor

import (
	"context"
	"time"

	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// childEventPayload is the JSON shape published to Events for every
// fork/reap/timeout/respawn, mirrored into Store's child_events table
// when persistence is enabled.
type childEventPayload struct {
	PID          int    `json:"pid"`
	ForkSequence uint64 `json:"fork_sequence"`
	Bucket       string `json:"bucket"`
	Identifier   string `json:"identifier"`
	Detail       string `json:"detail,omitempty"`
}

// recordEvent publishes ev to the event hub (if wired) and persists it
// to the store (if one is set; persistence is not chosen per bucket).
// The hub never blocks on a slow subscriber; a store write is bounded
// by a two-second timeout.
func (s *Supervisor) recordEvent(kind store.EventKind, rec *child.Record, detail string) {
	if s.Events != nil {
		s.Events.Publish(string(kind), childEventPayload{
			PID:          rec.PID,
			ForkSequence: rec.ForkSequence,
			Bucket:       rec.Bucket,
			Identifier:   rec.Identifier,
			Detail:       detail,
		})
	}
	if s.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.PutEvent(ctx, rec.PID, rec.ForkSequence, rec.Bucket, rec.Identifier, kind, detail); err != nil {
		log.Warn("store: put event failed", "pid", rec.PID, "kind", kind, "error", err)
	}
}
