package dispatch

import (
	"fmt"
	"time"

	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/workerproc"
)

// HelperSpec describes a long-lived helper process. Fn is only
// meaningful in the process that calls SpawnHelper — the launched
// child resolves its own copy of the function by ID from its own
// HelperRegistry, since a Go closure cannot cross a fork substitute's
// process boundary.
type HelperSpec struct {
	ID      string
	Fn      callback.Ref
	Args    []any
	Respawn bool
}

// SpawnHelper starts spec as a child process running under the
// KindHelper protocol. Unlike Fork, the resulting record has no
// Bucket and carries Respawn/Fn/Args so the reaper can call
// SpawnHelper again on exit.
func (d *Dispatcher) SpawnHelper(spec HelperSpec) (int, error) {
	if spec.Fn.Empty() {
		return 0, fmt.Errorf("dispatch: helper %q has no registered function", spec.ID)
	}

	cmd, parentCh, err := d.startChild()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	rec := &child.Record{
		PID:          cmd.Process.Pid,
		CreatedAt:    now,
		Identifier:   spec.ID,
		Status:       child.Helper,
		Channel:      parentCh,
		LastActive:   now,
		Process:      cmd.Process,
		Respawn:      spec.Respawn,
		Fn:           spec.Fn,
		Args:         spec.Args,
		ForkSequence: d.NextForkSequence(),
	}
	d.Table.Insert(rec)

	launch := workerproc.Launch{Kind: workerproc.KindHelper, HelperID: spec.ID, Args: spec.Args}
	if err := parentCh.Send(launch.ToFrame()); err != nil {
		log.Error("failed to send helper launch frame", "pid", rec.PID, "helper_id", spec.ID, "error", err)
	}

	d.waitInBackground(cmd, rec.PID)

	log.Info("spawned helper", "pid", rec.PID, "helper_id", spec.ID, "respawn", spec.Respawn)

	return rec.PID, nil
}

// RespawnHelper re-derives a HelperSpec from a Stopped helper record
// and calls SpawnHelper again, exactly reproducing its original
// function and arguments.
func (d *Dispatcher) RespawnHelper(rec *child.Record) (int, error) {
	return d.SpawnHelper(HelperSpec{
		ID:      rec.Identifier,
		Fn:      rec.Fn,
		Args:    rec.Args,
		Respawn: rec.Respawn,
	})
}
