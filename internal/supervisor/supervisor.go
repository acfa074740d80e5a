// Package supervisor implements the parent-side state machine: the
// signal router, reaper, main dispatch loop, housekeeper, and
// shutdown coordinator.
//
// OS signals and per-child process-exit events are converted into
// typed values sent on a single owned mailbox channel and consumed
// exclusively by whichever goroutine is currently calling ProcessWork,
// RunDaemon, or Shutdown. This replaces the async-signal-safety
// discipline a C-style fork/signal implementation would need (masking
// signals around multi-step mutations) with Go's ordinary channel
// semantics: nothing touches the child table or bucket registry
// except this one consumer, so no additional locking discipline is
// needed beyond what internal/child.Table and internal/bucket.Registry
// already do as defense-in-depth.
package supervisor

import (
	"os"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/dispatch"
	"github.com/mattjoyce/dispatchd/internal/events"
	"github.com/mattjoyce/dispatchd/internal/selfcheck"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// event is the mailbox's sum type. Concrete cases live alongside the
// code that produces or consumes them.
type event interface{ isSupervisorEvent() }

type childExitedEvent struct {
	pid int
	err error
}

func (childExitedEvent) isSupervisorEvent() {}

type signalEvent struct{ sig os.Signal }

func (signalEvent) isSupervisorEvent() {}

type requestExitSurplusEvent struct {
	bucket string
	count  int
}

func (requestExitSurplusEvent) isSupervisorEvent() {}

// Supervisor ties together the bucket registry, child table, and
// dispatcher into one state machine. It is not safe to call
// ProcessWork, RunDaemon, and Shutdown concurrently from different
// goroutines — the mailbox discipline assumes one caller at a time,
// a single-writer ownership rule.
type Supervisor struct {
	// *bucket.Registry is embedded rather than named so AddBucket,
	// AddWork, IsWorkRunning, WorkRunning, WorkSets, WorkSetsCount,
	// BucketList, BucketExists, HasResult, GetResult, GetAllResults,
	// and friends promote directly onto *Supervisor. The embedded
	// field's name is still Registry, so existing sup.Registry.X call
	// sites keep working unchanged.
	*bucket.Registry
	Table    *child.Table
	Dispatch *dispatch.Dispatcher

	ParentPID int

	// CheckInterval is the housekeeping cadence used both for the
	// blocking ProcessWork spin-wait and for timeout-deadline slack.
	CheckInterval time.Duration
	// ShutdownDeadline bounds how long Shutdown waits for children to
	// exit voluntarily before force-killing them.
	ShutdownDeadline time.Duration

	// OnParentExit is invoked once, with (parentPID) in the blocking
	// ProcessWork path or (parentPID, signal) from Shutdown.
	OnParentExit callback.Ref
	// OnSighup is the parent-level SIGHUP callback (as opposed to each
	// bucket's per-bucket child-sighup slot).
	OnSighup callback.Ref
	// SighupCascade mirrors register_parent_sighup(fn, cascade): when
	// true, a SIGHUP additionally fans out to every tracked child.
	SighupCascade bool

	// SelfCheck, when set, is re-verified on every Housekeep pass so an
	// in-place binary upgrade underneath a running supervisor is
	// logged at CRIT instead of silently forking mismatched workers.
	SelfCheck *selfcheck.Baseline

	// Store, when non-nil, persists results and a fork/exit/timeout
	// audit trail so a bucket's history survives a supervisor restart.
	Store *store.Store
	// Events, when non-nil, is published to on every fork, reap, timeout
	// and helper respawn, for `dispatchd monitor` and the admin API to
	// subscribe to.
	Events *events.Hub

	// OnLog is an optional sink registered via RegisterLogging,
	// invoked with (severity, message) alongside the normal
	// internal/log output for every event at or above LogSeverity.
	OnLog       callback.Ref
	LogSeverity string

	// exitRequested is set once an interrupt or terminate has been
	// observed by this supervisor. Only touched from the mailbox's
	// single consumer goroutine.
	exitRequested bool

	mailbox chan event
}

// New returns a Supervisor with a ready mailbox. Callers wire Dispatch
// with this Supervisor as its ExitNotifier and Registry with it as its
// bucket.Resizer after construction, since both need a pointer to a
// fully-allocated Supervisor.
func New(reg *bucket.Registry, tbl *child.Table, disp *dispatch.Dispatcher) *Supervisor {
	return &Supervisor{
		Registry:         reg,
		Table:            tbl,
		Dispatch:         disp,
		ParentPID:        os.Getpid(),
		CheckInterval:    time.Second,
		ShutdownDeadline: 3 * time.Second,
		mailbox:          make(chan event, 64),
	}
}

// NotifyExited implements dispatch.ExitNotifier. It is called from the
// per-child waiter goroutine dispatch.Dispatcher.Fork/SpawnHelper
// starts, never from the mailbox-consuming goroutine itself.
func (s *Supervisor) NotifyExited(pid int, err error) {
	s.mailbox <- childExitedEvent{pid: pid, err: err}
}

// RequestExitSurplus implements bucket.Resizer. It is called by the
// registry when SetMaxChildren lowers a persistent bucket's limit.
func (s *Supervisor) RequestExitSurplus(bucketID string, count int) {
	s.mailbox <- requestExitSurplusEvent{bucket: bucketID, count: count}
}

// Poll handles every event currently queued in the mailbox without
// blocking. Embedders that drive their own loop (rather than calling
// ProcessWork in blocking mode) should call this on the same cadence
// as Housekeep to reap exited children and service cascade signals.
func (s *Supervisor) Poll() {
	s.drainMailbox()
}

// drainMailbox handles every event currently queued without blocking,
// giving a non-blocking drain of exited children for free: an exited
// child's event is already sitting in the channel buffer by the time
// anyone calls this.
func (s *Supervisor) drainMailbox() {
	for {
		select {
		case ev := <-s.mailbox:
			s.handle(ev)
		default:
			return
		}
	}
}

func (s *Supervisor) handle(ev event) {
	switch e := ev.(type) {
	case childExitedEvent:
		s.reapChild(e.pid, e.err)
	case signalEvent:
		s.handleSignal(e.sig)
	case requestExitSurplusEvent:
		s.handleRequestExitSurplus(e.bucket, e.count)
	}
}
