package dispatch_test

import (
	"os"
	"testing"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/dispatch"
	"github.com/mattjoyce/dispatchd/internal/workerproc"
)

// TestMain lets this test binary re-exec itself as a worker, mirroring
// the GO_WANT_HELPER_PROCESS idiom os/exec's own tests use. When
// DISPATCHD_TEST_WORKER is set, the process never runs any tests — it
// reads its launch frame off fd 3 and behaves exactly like a real
// dispatchd worker would.
func TestMain(m *testing.M) {
	if os.Getenv("DISPATCHD_TEST_WORKER") == "1" {
		workerproc.Run(testRegistry(), testHelpers())
		return
	}
	os.Exit(m.Run())
}

func testRegistry() *bucket.Registry {
	reg := bucket.NewRegistry(nil)
	b, _ := reg.Get(bucket.DefaultID)
	b.OnChildRun = callback.New("run", func(args ...any) (any, error) {
		// args[0] is the batch identifier, the rest are the items.
		out := ""
		for _, a := range args[1:] {
			out += a.(string)
		}
		return out, nil
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

type capturedExit struct {
	pid int
	err error
}

type captureNotifier struct{ ch chan capturedExit }

func (c *captureNotifier) NotifyExited(pid int, err error) {
	c.ch <- capturedExit{pid: pid, err: err}
}

func newTestDispatcher(t *testing.T, reg *bucket.Registry) (*dispatch.Dispatcher, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{ch: make(chan capturedExit, 4)}
	d, err := dispatch.New(reg, child.NewTable(), testHelpers(), notifier)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	d.ExtraEnv = []string{"DISPATCHD_TEST_WORKER=1"}
	return d, notifier
}

func TestExtractBatchPopsInFIFOOrder(t *testing.T) {
	reg := testRegistry()
	reg.SetMaxWorkPerChild(bucket.DefaultID, 2)
	reg.AddWork(bucket.DefaultID, "id-1", "a")
	reg.AddWork(bucket.DefaultID, "id-2", "b")
	reg.AddWork(bucket.DefaultID, "id-3", "c")

	d, _ := newTestDispatcher(t, reg)

	first, ok := d.ExtractBatch(bucket.DefaultID)
	if !ok || first.Identifier != "id-1" || len(first.Items) != 2 {
		t.Fatalf("first batch = %+v, ok=%v", first, ok)
	}

	second, ok := d.ExtractBatch(bucket.DefaultID)
	if !ok || second.Identifier != "id-3" || len(second.Items) != 1 {
		t.Fatalf("second batch = %+v, ok=%v", second, ok)
	}

	if _, ok := d.ExtractBatch(bucket.DefaultID); ok {
		t.Fatal("expected no more batches once queue drains")
	}
}

func TestExtractBatchPersistentModeReturnsPayload(t *testing.T) {
	reg := testRegistry()
	reg.SetPersistentMode(bucket.DefaultID, true, "cfg-payload")

	d, _ := newTestDispatcher(t, reg)

	launch, ok := d.ExtractBatch(bucket.DefaultID)
	if !ok || !launch.Persistent || len(launch.Items) != 1 || launch.Items[0] != "cfg-payload" {
		t.Fatalf("launch = %+v, ok=%v", launch, ok)
	}
}

func TestForkRunsRealChildAndReturnsResult(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	reg := testRegistry()
	reg.AddWork(bucket.DefaultID, "id-1", "hello-")
	reg.AddWork(bucket.DefaultID, "id-1", "world")
	reg.SetMaxWorkPerChild(bucket.DefaultID, 2)

	d, notifier := newTestDispatcher(t, reg)

	launch, ok := d.ExtractBatch(bucket.DefaultID)
	if !ok {
		t.Fatal("expected a batch")
	}

	pid, err := d.Fork(launch)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	rec, ok := d.Table.Lookup(pid)
	if !ok {
		t.Fatalf("no child record for pid %d", pid)
	}
	if rec.Status != child.Worker || rec.Bucket != bucket.DefaultID {
		t.Fatalf("record = %+v", rec)
	}

	frame, err := rec.Channel.Receive()
	if err != nil {
		t.Fatalf("receive result: %v", err)
	}
	if frame["result"] != "hello-world" {
		t.Fatalf("result = %v, want hello-world", frame["result"])
	}

	select {
	case exit := <-notifier.ch:
		if exit.pid != pid {
			t.Errorf("exit notification pid = %d, want %d", exit.pid, pid)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}
}

func TestForkRequeuesBatchOnStartFailure(t *testing.T) {
	reg := testRegistry()
	reg.AddWork(bucket.DefaultID, "id-1", "a")
	reg.AddWork(bucket.DefaultID, "id-2", "b")
	reg.SetMaxWorkPerChild(bucket.DefaultID, 1)

	d, _ := newTestDispatcher(t, reg)
	d.SelfExe = "/nonexistent/dispatchd-binary-for-test"

	launch, ok := d.ExtractBatch(bucket.DefaultID)
	if !ok {
		t.Fatal("expected a batch")
	}
	if reg.WorkSetsCount(bucket.DefaultID, false) != 1 {
		t.Fatalf("queue depth after extract = %d, want 1", reg.WorkSetsCount(bucket.DefaultID, false))
	}

	if _, err := d.Fork(launch); err == nil {
		t.Fatal("expected Fork to fail for a nonexistent executable")
	}

	if got := reg.WorkSetsCount(bucket.DefaultID, false); got != 2 {
		t.Fatalf("queue depth after failed fork = %d, want 2 (batch requeued)", got)
	}

	requeued := reg.PopBatch(bucket.DefaultID, 1)
	if len(requeued) != 1 || requeued[0].Item != "a" {
		t.Fatalf("requeued head = %v, want the original batch back in order", requeued)
	}
}

func TestSpawnHelperRejectsUnresolvedFn(t *testing.T) {
	reg := testRegistry()
	d, _ := newTestDispatcher(t, reg)

	if _, err := d.SpawnHelper(dispatch.HelperSpec{ID: "watchdog"}); err == nil {
		t.Fatal("expected error for helper spec with no Fn")
	}
}

func TestSpawnHelperRunsRealChild(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	reg := testRegistry()
	d, notifier := newTestDispatcher(t, reg)

	// Fn is only consulted in-process (existence check + respawn
	// bookkeeping); the spawned child resolves "echo" from its own
	// HelperRegistry built by testHelpers() in TestMain, so the
	// expected result comes from that registration, not this closure.
	fn := callback.New("echo", func(args ...any) (any, error) { return nil, nil })
	pid, err := d.SpawnHelper(dispatch.HelperSpec{ID: "echo", Fn: fn, Args: []any{"ping"}, Respawn: false})
	if err != nil {
		t.Fatalf("SpawnHelper: %v", err)
	}

	rec, ok := d.Table.Lookup(pid)
	if !ok || rec.Status != child.Helper {
		t.Fatalf("record = %+v, ok=%v", rec, ok)
	}

	frame, err := rec.Channel.Receive()
	if err != nil {
		t.Fatalf("receive result: %v", err)
	}
	if frame["result"] != "ping" {
		t.Fatalf("result = %v, want ping", frame["result"])
	}

	select {
	case <-notifier.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}
}
