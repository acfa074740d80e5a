package supervisor

import (
	"os"
	"syscall"
	"time"

	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// Shutdown asks every non-Stopped child to exit, waits up to
// ShutdownDeadline, force-kills stragglers, invokes the parent-exit
// callback, then terminates the process with exit code -1 (Go masks
// this to 255 on POSIX, same as any other process).
func (s *Supervisor) Shutdown(sig os.Signal) {
	s.drain(sig)
	os.Exit(-1)
}

// drain runs Shutdown's logic without the final os.Exit, so tests can
// exercise it directly.
func (s *Supervisor) drain(sig os.Signal) {
	s.exitRequested = true
	requestExit(s, syscall.SIGINT)

	deadlineAt := time.Now().Add(s.ShutdownDeadline)
	for time.Now().Before(deadlineAt) && s.Table.CountActive("") > 0 {
		s.drainMailbox()
		time.Sleep(100 * time.Millisecond)
	}
	s.drainMailbox()

	if s.Table.CountActive("") > 0 {
		requestExit(s, syscall.SIGKILL)
		time.Sleep(200 * time.Millisecond)
		s.drainMailbox()
	}

	if _, err := s.OnParentExit.Invoke(false, s.ParentPID, sig); err != nil {
		log.Warn("parent_function_exit failed", "error", err)
	}
}

func requestExit(s *Supervisor, sig syscall.Signal) {
	var pids []int
	s.Table.Iterate(func(rec *child.Record) {
		if rec.Status == child.Stopped {
			return
		}
		if rec.Status == child.Helper {
			// Clear the respawn flag before signalling, so reapChild
			// doesn't immediately relaunch a helper that shutdown is
			// trying to drain.
			rec.Respawn = false
		}
		pids = append(pids, rec.PID)
	})
	for _, pid := range pids {
		if err := s.safeKill(pid, sig); err != nil {
			log.Warn("shutdown: signal failed", "pid", pid, "signal", sig, "error", err)
		}
	}
}
