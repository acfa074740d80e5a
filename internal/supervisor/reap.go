package supervisor

import (
	"context"
	"time"

	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// reapChild handles one childExitedEvent. There is no separate
// non-blocking waitpid poll: every forked child already has its own
// waiter goroutine (dispatch.Dispatcher.waitInBackground), so by the
// time this runs, the OS has already returned the pid — the
// non-blocking drain this provides is just draining the mailbox.
func (s *Supervisor) reapChild(pid int, waitErr error) {
	rec, ok := s.Table.Lookup(pid)
	if !ok {
		log.Info("reap: unknown pid, dropping", "pid", pid)
		return
	}

	detail := ""
	if waitErr != nil {
		detail = waitErr.Error()
	}
	s.recordEvent(store.EventExited, rec, detail)

	wasWorker := rec.Status == child.Worker
	wasHelper := rec.Status == child.Helper
	if wasWorker {
		if b, ok := s.Registry.Get(rec.Bucket); ok {
			if _, err := b.OnParentChildExited.Invoke(false, pid, rec.Identifier); err != nil {
				log.Warn("parent_function_child_exited failed", "pid", pid, "error", err)
			}
		}
	}

	if err := s.Table.MarkStopped(pid); err != nil {
		log.Warn("reap: mark stopped failed", "pid", pid, "error", err)
	}

	// Invariant R1: frames may have arrived before or after this exit
	// notification. postResults drains whatever is left regardless of
	// ordering — it does not assume the child sent nothing after its
	// last frame before exiting.
	s.postResults(rec)

	if wasHelper && rec.Respawn {
		if newPID, err := s.Dispatch.RespawnHelper(rec); err != nil {
			log.Error("helper respawn failed", "identifier", rec.Identifier, "error", err)
		} else if newRec, ok := s.Table.Lookup(newPID); ok {
			s.recordEvent(store.EventRespawn, newRec, "")
		}
	}

	if err := s.Table.Remove(pid); err != nil {
		log.Warn("reap: remove failed", "pid", pid, "error", err)
	}
	rec.Channel.Close()

	s.logEvent("INFO", "reaped child", "pid", pid, "bucket", rec.Bucket, "wait_error", waitErr)
}

// postResults drains every buffered frame from rec's channel into its
// bucket's pending-results queue, invoking the bucket's
// parent_function_results callback for each one. Because rec's
// process has already exited, Receive returning an error
// means the channel is fully drained, not that more data is coming.
func (s *Supervisor) postResults(rec *child.Record) {
	for {
		frame, err := rec.Channel.Receive()
		if err != nil {
			return
		}
		v, ok := frame["result"]
		if !ok {
			continue
		}
		s.Registry.PostResult(rec.Bucket, v)
		if s.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.Store.PutResult(ctx, rec.PID, rec.ForkSequence, rec.Bucket, rec.Identifier, v); err != nil {
				log.Warn("store: put result failed", "pid", rec.PID, "error", err)
			}
			cancel()
		}
		if b, ok := s.Registry.Get(rec.Bucket); ok {
			if _, err := b.OnParentResults.Invoke(false, v); err != nil {
				log.Warn("parent_function_results failed", "bucket", rec.Bucket, "error", err)
			}
		}
	}
}
