package supervisor

import (
	"os/exec"
	"testing"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/channel"
	"github.com/mattjoyce/dispatchd/internal/child"
)

// TestHousekeepForceKillsOverrunChild grounds P6 (timeout kill) using
// a real "sleep" subprocess rather than a dispatchd worker, since only
// safeKill's /proc-based ppid check needs a genuine child process —
// the run-callback path itself is exercised by dispatch_test.go.
func TestHousekeepForceKillsOverrunChild(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	sup := newTestSupervisor(t)
	sup.CheckInterval = 10 * time.Millisecond
	reg := sup.Registry
	reg.SetChildMaxRunTime(bucket.DefaultID, 0)

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer cmd.Process.Kill()

	parentCh, childFile, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	childFile.Close()

	var timedOutArgs []any
	b, _ := reg.Get(bucket.DefaultID)
	b.OnChildTimeout = callback.New("timeout", func(args ...any) (any, error) {
		timedOutArgs = args
		return nil, nil
	})

	rec := &child.Record{
		PID:        cmd.Process.Pid,
		CreatedAt:  time.Now().Add(-time.Hour),
		Identifier: "long-job",
		Bucket:     bucket.DefaultID,
		Status:     child.Worker,
		Channel:    parentCh,
		Process:    cmd.Process,
	}
	sup.Table.Insert(rec)

	sup.Housekeep()

	if len(timedOutArgs) != 2 || timedOutArgs[0] != cmd.Process.Pid {
		t.Fatalf("child_function_timeout args = %v", timedOutArgs)
	}

	state, err := cmd.Process.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state.Success() {
		t.Error("expected sleep to have been killed, not to exit cleanly")
	}
}
