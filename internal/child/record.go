// Package child implements the per-child record and table: one record
// per live or recently-exited child, indexed by OS process id.
package child

import (
	"errors"
	"os"
	"time"

	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/channel"
)

// Status is the lifecycle state of a tracked child.
type Status string

const (
	Worker  Status = "worker"
	Helper  Status = "helper"
	Stopped Status = "stopped"
)

// Record is one child's bookkeeping entry.
type Record struct {
	PID        int
	CreatedAt  time.Time
	Identifier string
	Bucket     string
	Status     Status
	Channel    *channel.Channel
	LastActive time.Time
	Process    *os.Process

	// ForkSequence disambiguates this record from any earlier child that
	// happened to reuse the same pid. Assigned once at Fork/SpawnHelper
	// time from dispatch.Dispatcher.NextForkSequence.
	ForkSequence uint64

	// Helper-only fields.
	Respawn bool
	Fn      callback.Ref
	Args    []any
}

// ErrUnknownPID is returned when the reaper or safeKill is asked about a
// pid the table has never seen.
var ErrUnknownPID = errors.New("child: unknown pid")
