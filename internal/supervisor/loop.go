package supervisor

import (
	"time"

	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// ProcessWork dispatches batches for one bucket, or (allBuckets) every
// known bucket in turn, either draining
// the queue to completion (blocking) or topping up active children by
// one pass (non-blocking).
func (s *Supervisor) ProcessWork(blocking bool, bucketID string, allBuckets bool) error {
	if allBuckets {
		for _, id := range s.Registry.BucketList(true) {
			if err := s.ProcessWork(blocking, id, false); err != nil {
				return err
			}
		}
		return nil
	}

	b, ok := s.Registry.Get(bucketID)
	if !ok {
		return nil
	}

	if blocking {
		return s.processWorkBlocking(bucketID, b.MaxChildren)
	}
	s.processWorkNonBlocking(bucketID)
	return nil
}

func (s *Supervisor) processWorkBlocking(bucketID string, maxChildren int) error {
	for s.Registry.WorkSetsCount(bucketID, false) > 0 {
		for s.Table.CountActive(bucketID) >= maxChildren {
			time.Sleep(s.CheckInterval)
			s.drainMailbox()
			s.Housekeep()
		}
		launch, ok := s.Dispatch.ExtractBatch(bucketID)
		if !ok {
			break
		}
		pid, err := s.Dispatch.Fork(launch)
		if err != nil {
			return err
		}
		s.recordForkEvent(pid)
	}

	for s.Table.CountActive(bucketID) > 0 {
		time.Sleep(s.CheckInterval)
		s.drainMailbox()
		s.Housekeep()
	}

	if _, err := s.OnParentExit.Invoke(false, s.ParentPID); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) processWorkNonBlocking(bucketID string) {
	s.drainMailbox()
	s.Housekeep()

	b, ok := s.Registry.Get(bucketID)
	if !ok {
		return
	}
	for s.Table.CountActive(bucketID) < b.MaxChildren &&
		(b.PersistentMode || s.Registry.WorkSetsCount(bucketID, false) > 0) {
		launch, ok := s.Dispatch.ExtractBatch(bucketID)
		if !ok {
			return
		}
		pid, err := s.Dispatch.Fork(launch)
		if err != nil {
			return
		}
		s.recordForkEvent(pid)
	}
}

// recordForkEvent looks up the just-forked pid in the child table and
// publishes/persists its fork event. Called right after Fork returns,
// so the lookup always succeeds.
func (s *Supervisor) recordForkEvent(pid int) {
	rec, ok := s.Table.Lookup(pid)
	if !ok {
		log.Warn("recordForkEvent: pid vanished before lookup", "pid", pid)
		return
	}
	s.recordEvent(store.EventForked, rec, "")
}

// RunDaemon drives housekeeping and mailbox draining on a fixed
// cadence until stop is closed. It does not start any workers itself;
// "dispatchd system start" uses its own loop (dispatchLoop in
// cmd/dispatchd), which also calls ProcessWork to top up buckets as
// work arrives via AddWork from the admin API or a webhook.
func (s *Supervisor) RunDaemon(stop <-chan struct{}) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case ev := <-s.mailbox:
			s.handle(ev)
		case <-ticker.C:
			s.Housekeep()
		}
	}
}
