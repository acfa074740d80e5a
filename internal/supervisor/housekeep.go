package supervisor

import (
	"syscall"
	"time"

	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// Housekeep force-kills any non-Stopped worker that has overrun its
// bucket's child_max_run_time, with the
// configured check-interval as slack against a housekeeper that isn't
// polled continuously.
func (s *Supervisor) Housekeep() {
	if s.SelfCheck != nil {
		if err := s.SelfCheck.Verify(); err != nil {
			log.Crit("worker executable changed since startup", "path", s.SelfCheck.Path, "error", err)
		}
	}

	now := time.Now()

	var timedOut []*child.Record
	s.Table.Iterate(func(rec *child.Record) {
		if rec.Status != child.Worker {
			return
		}
		b, ok := s.Registry.Get(rec.Bucket)
		if !ok || b.ChildMaxRunTime < 0 {
			return
		}
		deadline := time.Duration(b.ChildMaxRunTime)*time.Second + s.CheckInterval
		if now.Sub(rec.CreatedAt) > deadline {
			timedOut = append(timedOut, rec)
		}
	})

	if len(timedOut) == 0 {
		return
	}

	for _, rec := range timedOut {
		if b, ok := s.Registry.Get(rec.Bucket); ok {
			if _, err := b.OnChildTimeout.Invoke(false, rec.PID, rec.Identifier); err != nil {
				log.Warn("child_function_timeout failed", "pid", rec.PID, "error", err)
			}
		}
		s.recordEvent(store.EventTimeout, rec, "")
		if err := s.safeKill(rec.PID, syscall.SIGKILL); err != nil {
			log.Warn("housekeeper: force-kill failed", "pid", rec.PID, "error", err)
		}
	}

	// Each force-killed pid's waiter goroutine posts a childExitedEvent
	// to the mailbox as soon as cmd.Wait() returns, so there's nothing
	// to sleep for here.
	s.drainMailbox()
}
