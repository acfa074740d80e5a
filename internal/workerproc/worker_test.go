package workerproc

import (
	"syscall"
	"testing"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/channel"
)

func TestRunOnceWorkerSendsResult(t *testing.T) {
	parent, childFile, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer parent.Close()
	childCh := channel.New(childFile)
	defer childCh.Close()

	reg := bucket.NewRegistry(nil)
	b, _ := reg.Get(bucket.DefaultID)
	b.OnChildRun = callback.New("run", func(args ...any) (any, error) {
		return "ok:" + args[0].(string), nil
	})

	done := make(chan error, 1)
	go func() { done <- runOnce(childCh, reg, NewHelperRegistry()) }()

	if err := parent.Send((Launch{
		Kind:       KindWorker,
		Bucket:     bucket.DefaultID,
		Identifier: "job-1",
	}).ToFrame()); err != nil {
		t.Fatalf("Send launch: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	frame, err := parent.Receive()
	if err != nil {
		t.Fatalf("Receive result: %v", err)
	}
	if frame["result"] != "ok:job-1" {
		t.Errorf("result = %v, want ok:job-1", frame["result"])
	}
}

func TestRunOnceHelperResolvesByID(t *testing.T) {
	parent, childFile, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer parent.Close()
	childCh := channel.New(childFile)
	defer childCh.Close()

	helpers := NewHelperRegistry()
	helpers.Register("watchdog", callback.New("watchdog", func(args ...any) (any, error) {
		return "alive", nil
	}))

	done := make(chan error, 1)
	go func() { done <- runOnce(childCh, bucket.NewRegistry(nil), helpers) }()

	if err := parent.Send((Launch{Kind: KindHelper, HelperID: "watchdog"}).ToFrame()); err != nil {
		t.Fatalf("Send launch: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	frame, err := parent.Receive()
	if err != nil {
		t.Fatalf("Receive result: %v", err)
	}
	if frame["result"] != "alive" {
		t.Errorf("result = %v, want alive", frame["result"])
	}
}

func TestHandleChildSignalSighupInvokesBucketCallback(t *testing.T) {
	reg := bucket.NewRegistry(nil)
	b, _ := reg.Get(bucket.DefaultID)
	called := make(chan string, 1)
	b.OnChildSighup = callback.New("sighup", func(args ...any) (any, error) {
		called <- args[0].(string)
		return nil, nil
	})

	mu.Lock()
	activeBucket = bucket.DefaultID
	mu.Unlock()
	defer func() {
		mu.Lock()
		activeBucket = ""
		mu.Unlock()
	}()

	handleChildSignal(reg, syscall.SIGHUP)

	select {
	case id := <-called:
		if id != bucket.DefaultID {
			t.Errorf("child_function_sighup arg = %q, want %q", id, bucket.DefaultID)
		}
	default:
		t.Fatal("child_function_sighup was not invoked")
	}
}

func TestHandleChildSignalBeforeLaunchIsNoop(t *testing.T) {
	reg := bucket.NewRegistry(nil)
	b, _ := reg.Get(bucket.DefaultID)
	b.OnChildSighup = callback.New("sighup", func(args ...any) (any, error) {
		t.Fatal("callback should not fire before a bucket has been assigned")
		return nil, nil
	})
	handleChildSignal(reg, syscall.SIGHUP) // activeBucket is "" at package init
}

func TestRunOnceUnknownHelperReturnsError(t *testing.T) {
	parent, childFile, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer parent.Close()
	childCh := channel.New(childFile)
	defer childCh.Close()

	done := make(chan error, 1)
	go func() { done <- runOnce(childCh, bucket.NewRegistry(nil), NewHelperRegistry()) }()

	if err := parent.Send((Launch{Kind: KindHelper, HelperID: "nope"}).ToFrame()); err != nil {
		t.Fatalf("Send launch: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatal("expected error for unresolvable helper id")
	}
}
