package workerproc

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/channel"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// WorkerFlag is the hidden CLI argument that tells a freshly re-exec'd
// dispatchd binary to behave as a child instead of starting a second
// supervisor.
const WorkerFlag = "--supervisor-worker"

// IsChild reports whether the current process was launched as a
// worker/helper child rather than invoked directly by the operator.
func IsChild() bool {
	for _, a := range os.Args[1:] {
		if a == WorkerFlag {
			return true
		}
	}
	return false
}

var (
	mu            sync.Mutex
	activeChannel *channel.Channel
	activeBucket  string
)

// Bucket returns the bucket id this child was launched for, or "" for
// a helper or before Run has read its launch frame.
func Bucket() string {
	mu.Lock()
	defer mu.Unlock()
	return activeBucket
}

// SendResultToParent lets a run-callback push an extra result frame
// mid-run, in addition to (or instead of) returning a value.
func SendResultToParent(v any) error {
	mu.Lock()
	ch := activeChannel
	mu.Unlock()
	if ch == nil {
		return fmt.Errorf("workerproc: no active channel")
	}
	return ch.Send(map[string]any{"result": v})
}

// Run reads this child's launch frame off fd 3, executes the
// registered callback, sends a final result frame if the callback
// produced one, and exits. It never returns — once the callback has
// finished the child exits 0, even after a callback error, logging the
// error instead of propagating it to an exit code. An interrupt or
// terminate received while running exits -1 (see startSignalHandling).
func Run(reg *bucket.Registry, helpers *HelperRegistry) {
	f := os.NewFile(3, "workerproc-channel")
	ch := channel.New(f)

	startSignalHandling(reg)

	if err := runOnce(ch, reg, helpers); err != nil {
		log.Error("worker run failed", "error", err)
	}

	// Race mitigation: give the parent's waiter goroutine a moment to
	// be scheduled before this process disappears.
	time.Sleep(500 * time.Microsecond)
	os.Exit(0)
}

// startSignalHandling subscribes to SIGHUP/SIGINT/SIGTERM on the
// child side. SIGHUP invokes the active bucket's child-sighup
// callback; interrupt or terminate invokes its child-exit callback
// and then exits -1, the child half of the shutdown coordinator
// (the parent already signalled this child and is waiting for it to
// leave on its own before force-killing).
func startSignalHandling(reg *bucket.Registry) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			handleChildSignal(reg, sig)
		}
	}()
}

func handleChildSignal(reg *bucket.Registry, sig os.Signal) {
	b := activeBucketRef(reg)
	switch sig {
	case syscall.SIGHUP:
		if b == nil {
			return
		}
		if _, err := b.OnChildSighup.Invoke(false, Bucket()); err != nil {
			log.Warn("child_function_sighup failed", "bucket", Bucket(), "error", err)
		}
	case syscall.SIGINT, syscall.SIGTERM:
		if b != nil {
			if _, err := b.OnChildExit.Invoke(false, Bucket()); err != nil {
				log.Warn("child_function_exit failed", "bucket", Bucket(), "error", err)
			}
		}
		os.Exit(-1)
	}
}

// activeBucketRef resolves the bucket this child was launched for, or
// nil before the launch frame has been read.
func activeBucketRef(reg *bucket.Registry) *bucket.Bucket {
	id := Bucket()
	if id == "" {
		return nil
	}
	b, ok := reg.Get(id)
	if !ok {
		return nil
	}
	return b
}

func runOnce(ch *channel.Channel, reg *bucket.Registry, helpers *HelperRegistry) error {
	frame, err := ch.Receive()
	if err != nil {
		return fmt.Errorf("receive launch frame: %w", err)
	}
	launch := LaunchFromFrame(frame)

	mu.Lock()
	activeChannel = ch
	activeBucket = launch.Bucket
	mu.Unlock()

	switch launch.Kind {
	case KindWorker:
		return runWorker(ch, reg, launch)
	case KindHelper:
		return runHelper(ch, helpers, launch)
	default:
		return fmt.Errorf("unknown launch kind %q", launch.Kind)
	}
}

func runWorker(ch *channel.Channel, reg *bucket.Registry, launch Launch) error {
	b, ok := reg.Get(launch.Bucket)
	if !ok {
		return fmt.Errorf("unknown bucket %q", launch.Bucket)
	}

	var args []any
	if launch.Persistent {
		args = launch.Items
	} else {
		args = append([]any{launch.Identifier}, launch.Items...)
	}

	result, err := b.OnChildRun.Invoke(true, args...)
	if err != nil {
		log.Error("child run callback failed", "bucket", launch.Bucket, "error", err)
	}
	if result != nil {
		return ch.Send(map[string]any{"result": result})
	}
	return nil
}

func runHelper(ch *channel.Channel, helpers *HelperRegistry, launch Launch) error {
	fn, err := helpers.Resolve(launch.HelperID)
	if err != nil {
		log.Crit("helper id not registered in child process", "helper_id", launch.HelperID)
		return err
	}
	result, err := fn.Invoke(true, launch.Args...)
	if err != nil {
		log.Error("helper run callback failed", "helper_id", launch.HelperID, "error", err)
	}
	if result != nil {
		return ch.Send(map[string]any{"result": result})
	}
	return nil
}
