package supervisor

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// ignoredSignals are explicitly discarded rather than left at Go's
// default disposition. A bucket's child_run subprocess runs in the
// same process group as the parent; without an explicit Ignore, one
// of these landing on the parent falls back to whatever the runtime
// does by default (terminate, for several of these), which is not a
// documented or intended dispatchd behavior.
var ignoredSignals = []os.Signal{
	syscall.SIGALRM,
	syscall.SIGUSR2,
	syscall.SIGBUS,
	syscall.SIGPIPE,
	syscall.SIGABRT,
	syscall.SIGFPE,
	syscall.SIGILL,
	syscall.SIGQUIT,
	syscall.SIGTRAP,
	syscall.SIGSYS,
}

// StartSignalRelay subscribes to SIGHUP/SIGINT/SIGTERM and forwards
// each one onto the mailbox as a signalEvent. This is the entire
// signal handler: by the time application code sees the value, it is
// an ordinary channel send handled on an ordinary goroutine, so no
// async-signal-safety precautions are needed anywhere else. It also
// puts the parent's disposition for ignoredSignals into Ignore, so a
// stray signal from a child never reaches the parent's default
// handling.
func (s *Supervisor) StartSignalRelay() {
	signal.Ignore(ignoredSignals...)

	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range ch {
			s.mailbox <- signalEvent{sig: sig}
		}
	}()
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		s.handleHangup()
	case syscall.SIGINT, syscall.SIGTERM:
		s.Shutdown(sig)
	default:
		log.Info("ignoring unhandled signal", "signal", sig)
	}
}

// handleHangup invokes the parent-level SIGHUP callback, and if
// cascade is enabled, relays
// SIGHUP to every non-Stopped tracked child via safeKill.
func (s *Supervisor) handleHangup() {
	if _, err := s.OnSighup.Invoke(false, s.ParentPID); err != nil {
		log.Warn("parent sighup callback failed", "error", err)
	}
	if !s.SighupCascade {
		return
	}
	var pids []int
	s.Table.Iterate(func(rec *child.Record) {
		if rec.Status != child.Stopped {
			pids = append(pids, rec.PID)
		}
	})
	for _, pid := range pids {
		if err := s.safeKill(pid, syscall.SIGHUP); err != nil {
			log.Warn("cascade sighup failed", "pid", pid, "error", err)
		}
	}
}

func (s *Supervisor) handleRequestExitSurplus(bucketID string, count int) {
	var pids []int
	s.Table.Iterate(func(rec *child.Record) {
		if rec.Bucket == bucketID && rec.Status == child.Worker {
			pids = append(pids, rec.PID)
		}
	})
	for i := 0; i < count && i < len(pids); i++ {
		if err := s.safeKill(pids[i], syscall.SIGINT); err != nil {
			log.Warn("surplus exit request failed", "pid", pids[i], "error", err)
		}
	}
}
