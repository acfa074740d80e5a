package supervisor

import (
	"syscall"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// Callback registration: each Register* method returns false if fn
// does not resolve or the bucket it targets is unknown, mirroring
// register_child_run et al.'s "success/failure based on whether the
// reference resolves" contract.

func (s *Supervisor) registerBucketCallback(id string, fn callback.Ref, set func(*bucket.Bucket, callback.Ref)) bool {
	if fn.Empty() {
		return false
	}
	b, ok := s.Registry.Get(id)
	if !ok {
		return false
	}
	set(b, fn)
	return true
}

// RegisterChildRun sets bucket id's child-run callback.
func (s *Supervisor) RegisterChildRun(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnChildRun = r })
}

// RegisterChildExit sets bucket id's child-exit callback, invoked in
// the child on interrupt (internal/workerproc.Run's signal handler).
func (s *Supervisor) RegisterChildExit(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnChildExit = r })
}

// RegisterChildSighup sets bucket id's child-sighup callback, invoked
// in the child on SIGHUP.
func (s *Supervisor) RegisterChildSighup(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnChildSighup = r })
}

// RegisterChildTimeout sets bucket id's child-timeout callback,
// invoked by Housekeep when a child overruns child_max_run_time.
func (s *Supervisor) RegisterChildTimeout(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnChildTimeout = r })
}

// RegisterParentFork sets bucket id's parent-fork callback, invoked
// before starting a child for that bucket.
func (s *Supervisor) RegisterParentFork(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnParentFork = r })
}

// RegisterParentChildExit sets bucket id's parent-child-exited
// callback, invoked by the reaper for that bucket's workers.
func (s *Supervisor) RegisterParentChildExit(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnParentChildExited = r })
}

// RegisterParentResults sets bucket id's parent-results callback,
// invoked once per frame drained from that bucket's children.
func (s *Supervisor) RegisterParentResults(id string, fn callback.Ref) bool {
	return s.registerBucketCallback(id, fn, func(b *bucket.Bucket, r callback.Ref) { b.OnParentResults = r })
}

// RegisterParentPrefork appends fn to the list of prefork callbacks
// run, in registration order, immediately before every fork (any
// bucket).
func (s *Supervisor) RegisterParentPrefork(fn callback.Ref) bool {
	if fn.Empty() || s.Dispatch == nil {
		return false
	}
	s.Dispatch.Prefork = append(s.Dispatch.Prefork, fn)
	return true
}

// RegisterParentSighup sets the process-wide SIGHUP callback and
// whether it cascades to tracked children.
func (s *Supervisor) RegisterParentSighup(fn callback.Ref, cascade bool) bool {
	if fn.Empty() {
		return false
	}
	s.OnSighup = fn
	s.SighupCascade = cascade
	return true
}

// RegisterParentExit sets the process-wide parent-exit callback,
// invoked once from Shutdown or from the blocking ProcessWork path.
func (s *Supervisor) RegisterParentExit(fn callback.Ref) bool {
	if fn.Empty() {
		return false
	}
	s.OnParentExit = fn
	return true
}

// RegisterLogging sets an additional sink invoked alongside the
// normal internal/log output for every event at or above severity
// ("DEBUG", "INFO", "WARN", "ERROR", "CRIT").
func (s *Supervisor) RegisterLogging(fn callback.Ref, severity string) bool {
	if fn.Empty() {
		return false
	}
	s.OnLog = fn
	s.LogSeverity = severity
	return true
}

var severityRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"CRIT":  4,
}

// logEvent writes msg through internal/log at severity and also
// invokes OnLog, if registered and severity clears the LogSeverity
// floor.
func (s *Supervisor) logEvent(severity, msg string, args ...any) {
	switch severity {
	case "DEBUG":
		log.Debug(msg, args...)
	case "WARN":
		log.Warn(msg, args...)
	case "ERROR":
		log.Error(msg, args...)
	case "CRIT":
		log.Crit(msg, args...)
	default:
		log.Info(msg, args...)
	}
	if s.OnLog.Empty() {
		return
	}
	if severityRank[severity] < severityRank[s.LogSeverity] {
		return
	}
	if _, err := s.OnLog.Invoke(false, severity, msg); err != nil {
		log.Warn("logging callback failed", "error", err)
	}
}

// ReceivedExitRequest reports whether an interrupt or terminate has
// been observed by this supervisor. An optional argument lets a
// caller force the flag, mirroring received_exit_request([bool]);
// with no argument it is a pure read.
func (s *Supervisor) ReceivedExitRequest(set ...bool) bool {
	if len(set) > 0 {
		s.exitRequested = set[0]
	}
	return s.exitRequested
}

// KillChildPID asks each pid in pids to exit via interrupt, waits up
// to delay, then force-kills whichever are still tracked and active.
func (s *Supervisor) KillChildPID(pids []int, delay time.Duration) {
	for _, pid := range pids {
		if err := s.safeKill(pid, syscall.SIGINT); err != nil {
			log.Warn("kill_child_pid: interrupt failed", "pid", pid, "error", err)
		}
	}
	time.Sleep(delay)
	s.drainMailbox()
	for _, pid := range pids {
		rec, ok := s.Table.Lookup(pid)
		if !ok || rec.Status == child.Stopped {
			continue
		}
		if err := s.safeKill(pid, syscall.SIGKILL); err != nil {
			log.Warn("kill_child_pid: force-kill failed", "pid", pid, "error", err)
		}
	}
}
