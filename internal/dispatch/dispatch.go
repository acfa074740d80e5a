// Package dispatch implements the fork transaction: extract a batch
// from a bucket's queue, launch a worker child, install its channel,
// and record it in the child table. Go's process model has no
// fork(); this package resolves that by re-executing the current
// binary with a socketpair passed through exec.Cmd.ExtraFiles
// instead.
package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/channel"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/workerproc"
)

// ExitNotifier receives one notification per child whose Wait()
// returned, so the reaper's mailbox loop (internal/supervisor) is fed
// without the dispatcher importing the supervisor package (that
// import would run the other way and create a cycle).
type ExitNotifier interface {
	NotifyExited(pid int, waitErr error)
}

// Dispatcher owns the mechanics of turning a bucket batch into a
// running OS process. It holds no bucket or child state of its own —
// Registry and Table are shared with the rest of the supervisor.
type Dispatcher struct {
	Registry *bucket.Registry
	Table    *child.Table
	Helpers  *workerproc.HelperRegistry
	Notifier ExitNotifier

	// Prefork callbacks run, in registration order, immediately before
	// every fork, as resource-cleanup hooks.
	Prefork []callback.Ref

	// SelfExe is the executable re-exec'd for every child. Defaults to
	// the running binary; tests point it at a helper binary instead.
	SelfExe string
	// ExtraArgs is appended after workerproc.WorkerFlag on every
	// child's argv. Tests use it to carry a marker flag; production
	// leaves it empty.
	ExtraArgs []string
	// ExtraEnv is appended to the child's environment.
	ExtraEnv []string

	forkSeq uint64
}

// New returns a Dispatcher wired to the current executable.
func New(reg *bucket.Registry, tbl *child.Table, helpers *workerproc.HelperRegistry, notifier ExitNotifier) (*Dispatcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve self executable: %w", err)
	}
	return &Dispatcher{
		Registry: reg,
		Table:    tbl,
		Helpers:  helpers,
		Notifier: notifier,
		SelfExe:  exe,
	}, nil
}

// NextForkSequence returns a monotonically increasing counter used to
// disambiguate results across a pid-wrap.
func (d *Dispatcher) NextForkSequence() uint64 {
	return atomic.AddUint64(&d.forkSeq, 1)
}

// ExtractBatch pulls the next unit of work for bucketID off its queue,
// or the persistent-mode payload if the bucket is in that mode. ok is
// false when there is nothing to do.
func (d *Dispatcher) ExtractBatch(bucketID string) (launch workerproc.Launch, ok bool) {
	b, exists := d.Registry.Get(bucketID)
	if !exists {
		return workerproc.Launch{}, false
	}

	if b.PersistentMode {
		return workerproc.Launch{
			Kind:       workerproc.KindWorker,
			Bucket:     bucketID,
			Persistent: true,
			Items:      []any{b.PersistentModeData},
		}, true
	}

	batch := d.Registry.PopBatch(bucketID, b.MaxWorkPerChild)
	if len(batch) == 0 {
		return workerproc.Launch{}, false
	}

	items := make([]any, 0, len(batch))
	identifier := batch[0].Identifier
	for _, w := range batch {
		items = append(items, w.Item)
	}

	return workerproc.Launch{
		Kind:       workerproc.KindWorker,
		Bucket:     bucketID,
		Identifier: identifier,
		Items:      items,
	}, true
}

// Fork runs the prefork callbacks, starts a new child process for
// launch, records it in the table, and returns its pid.
func (d *Dispatcher) Fork(launch workerproc.Launch) (int, error) {
	for _, cb := range d.Prefork {
		if _, err := cb.Invoke(false); err != nil {
			log.Warn("prefork callback failed", "callback", cb.Name(), "error", err)
		}
	}

	cmd, parentCh, err := d.startChild()
	if err != nil {
		log.Crit("fork failed", "bucket", launch.Bucket, "identifier", launch.Identifier, "error", err)
		d.requeueOnForkFailure(launch)
		return 0, err
	}

	now := time.Now()
	rec := &child.Record{
		PID:          cmd.Process.Pid,
		CreatedAt:    now,
		Identifier:   launch.Identifier,
		Bucket:       launch.Bucket,
		Status:       child.Worker,
		Channel:      parentCh,
		LastActive:   now,
		Process:      cmd.Process,
		ForkSequence: d.NextForkSequence(),
	}
	d.Table.Insert(rec)

	if err := parentCh.Send(launch.ToFrame()); err != nil {
		log.Error("failed to send launch frame", "pid", rec.PID, "error", err)
	}

	d.waitInBackground(cmd, rec.PID)

	log.Info("forked worker", "pid", rec.PID, "bucket", launch.Bucket, "identifier", launch.Identifier)

	if b, ok := d.Registry.Get(launch.Bucket); ok {
		if _, err := b.OnParentFork.Invoke(false, rec.PID, launch.Identifier); err != nil {
			log.Warn("parent_function_fork callback failed", "bucket", launch.Bucket, "error", err)
		}
	}

	return rec.PID, nil
}

// requeueOnForkFailure restores a batch ExtractBatch already popped to
// the head of its bucket's queue when starting the child failed, so a
// fork failure costs a retry rather than the batch's data. Persistent
// mode has nothing to requeue: its "batch" is the bucket's standing
// payload, never popped off a queue.
func (d *Dispatcher) requeueOnForkFailure(launch workerproc.Launch) {
	if launch.Persistent || len(launch.Items) == 0 {
		return
	}
	items := make([]bucket.WorkItem, len(launch.Items))
	for i, it := range launch.Items {
		items[i] = bucket.WorkItem{Identifier: launch.Identifier, Item: it}
	}
	d.Registry.RequeueBatch(launch.Bucket, items)
}

// startChild runs the mechanical half of a fork shared by Fork and
// SpawnHelper: build the channel pair, start the re-exec'd binary with
// the child's end on fd 3, and close the parent's dup of that end.
func (d *Dispatcher) startChild() (*exec.Cmd, *channel.Channel, error) {
	parentCh, childFile, err := channel.NewPair()
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: create channel: %w", err)
	}

	cmd := exec.Command(d.SelfExe, append([]string{workerproc.WorkerFlag}, d.ExtraArgs...)...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), d.ExtraEnv...)

	if err := cmd.Start(); err != nil {
		childFile.Close()
		parentCh.Close()
		return nil, nil, fmt.Errorf("dispatch: start child: %w", err)
	}
	// The child inherited its own dup of childFile; the parent's copy
	// must close so EOF propagates correctly once the child exits.
	childFile.Close()

	return cmd, parentCh, nil
}

// waitInBackground gives every forked child its own waiter goroutine:
// there is no separate non-blocking waitpid poll, the mailbox simply
// already has the exit event queued by the time the supervisor's loop
// reaches it.
func (d *Dispatcher) waitInBackground(cmd *exec.Cmd, pid int) {
	go func() {
		err := cmd.Wait()
		if d.Notifier != nil {
			d.Notifier.NotifyExited(pid, err)
		}
	}()
}
