package supervisor_test

import (
	"os"
	"testing"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/dispatch"
	"github.com/mattjoyce/dispatchd/internal/supervisor"
	"github.com/mattjoyce/dispatchd/internal/workerproc"
)

// TestMain re-execs this test binary as a worker, mirroring the
// GO_WANT_HELPER_PROCESS idiom, so ProcessWork/Fork can be exercised
// against real child processes without a separate test fixture binary.
func TestMain(m *testing.M) {
	if os.Getenv("DISPATCHD_TEST_WORKER") == "1" {
		workerproc.Run(testRegistry(nil), testHelpers())
		return
	}
	os.Exit(m.Run())
}

func testRegistry(resizer bucket.Resizer) *bucket.Registry {
	reg := bucket.NewRegistry(resizer)
	b, _ := reg.Get(bucket.DefaultID)
	b.OnChildRun = callback.New("run", func(args ...any) (any, error) {
		if len(args) < 2 {
			return nil, nil
		}
		return args[1], nil
	})
	return reg
}

func testHelpers() *workerproc.HelperRegistry {
	h := workerproc.NewHelperRegistry()
	h.Register("echo", callback.New("echo", func(args ...any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return args[0], nil
	}))
	return h
}

func newHarness(t *testing.T) (*supervisor.Supervisor, *bucket.Registry) {
	t.Helper()
	reg := testRegistry(nil)
	tbl := child.NewTable()

	sup := supervisor.New(reg, tbl, nil)
	sup.CheckInterval = 50 * time.Millisecond

	d, err := dispatch.New(reg, tbl, workerproc.NewHelperRegistry(), sup)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	d.ExtraEnv = []string{"DISPATCHD_TEST_WORKER=1"}
	sup.Dispatch = d
	reg.SetResizer(sup)

	return sup, reg
}

func TestProcessWorkBlockingDrainsQueueAndInvokesExitCallback(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real subprocesses")
	}

	sup, reg := newHarness(t)
	reg.SetMaxChildren(bucket.DefaultID, 2)
	reg.SetMaxWorkPerChild(bucket.DefaultID, 3)
	for i := 1; i <= 7; i++ {
		reg.AddWork(bucket.DefaultID, "id", i)
	}

	exited := make(chan int, 1)
	sup.OnParentExit = callback.New("exit", func(args ...any) (any, error) {
		exited <- args[0].(int)
		return nil, nil
	})

	if err := sup.ProcessWork(true, bucket.DefaultID, false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	select {
	case pid := <-exited:
		if pid != sup.ParentPID {
			t.Errorf("exit callback got pid %d, want %d", pid, sup.ParentPID)
		}
	default:
		t.Fatal("parent_function_exit was not invoked")
	}

	if got := reg.WorkSetsCount(bucket.DefaultID, false); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if got := sup.Table.CountActive(bucket.DefaultID); got != 0 {
		t.Errorf("active count = %d, want 0", got)
	}
}

func TestProcessWorkNonBlockingReturnsImmediately(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real subprocesses")
	}

	sup, reg := newHarness(t)
	reg.SetMaxChildren(bucket.DefaultID, 5)
	reg.SetMaxWorkPerChild(bucket.DefaultID, 1)
	for i := 1; i <= 3; i++ {
		reg.AddWork(bucket.DefaultID, "id", i)
	}

	if err := sup.ProcessWork(false, bucket.DefaultID, false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	// Non-blocking mode only tops children up to max_children; it
	// does not wait for them to finish, so at this point some may
	// still be active.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sup.Poll()
		sup.Housekeep()
		if sup.Table.CountActive(bucket.DefaultID) == 0 && reg.WorkSetsCount(bucket.DefaultID, false) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("children never finished")
}
