package child

import (
	"testing"

	"github.com/mattjoyce/dispatchd/internal/channel"
)

func newRecord(pid int, bucket string, status Status) *Record {
	return &Record{PID: pid, Bucket: bucket, Status: status}
}

func TestInsertLookupRemove(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newRecord(100, "ingest", Worker))

	rec, ok := tbl.Lookup(100)
	if !ok || rec.Bucket != "ingest" {
		t.Fatalf("Lookup(100) = (%v, %v)", rec, ok)
	}

	if err := tbl.Remove(100); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := tbl.Lookup(100); ok {
		t.Fatal("record still present after Remove")
	}
}

func TestLookupUnknownPID(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Lookup(999); ok {
		t.Fatal("expected unknown pid to be absent")
	}
}

func TestRemoveUnknownPIDReturnsErrUnknownPID(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Remove(999); err != ErrUnknownPID {
		t.Fatalf("Remove(999) = %v, want ErrUnknownPID", err)
	}
}

func TestMarkStopped(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newRecord(1, "DEFAULT", Worker))

	if err := tbl.MarkStopped(1); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	rec, _ := tbl.Lookup(1)
	if rec.Status != Stopped {
		t.Errorf("status = %v, want Stopped", rec.Status)
	}

	if err := tbl.MarkStopped(999); err != ErrUnknownPID {
		t.Fatalf("MarkStopped(999) = %v, want ErrUnknownPID", err)
	}
}

func TestCountActiveFiltersByBucketAndExcludesStopped(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newRecord(1, "ingest", Worker))
	tbl.Insert(newRecord(2, "ingest", Worker))
	tbl.Insert(newRecord(3, "other", Worker))
	tbl.Insert(newRecord(4, "ingest", Stopped))

	if got := tbl.CountActive("ingest"); got != 2 {
		t.Errorf("CountActive(ingest) = %d, want 2", got)
	}
	if got := tbl.CountActive(""); got != 3 {
		t.Errorf("CountActive(\"\") = %d, want 3", got)
	}
}

func TestCountPendingIncludesLiveChildren(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newRecord(1, "ingest", Worker))
	tbl.Insert(newRecord(2, "ingest", Helper))

	if got := tbl.CountPending("ingest"); got != 2 {
		t.Errorf("CountPending(ingest) = %d, want 2", got)
	}
}

func TestCountPendingIncludesStoppedWithBufferedData(t *testing.T) {
	parentCh, childFile, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer parentCh.Close()
	childCh := channel.New(childFile)

	if err := childCh.Send(map[string]any{"result": "last gasp"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	childCh.Close()

	tbl := NewTable()
	rec := newRecord(1, "ingest", Stopped)
	rec.Channel = parentCh
	tbl.Insert(rec)

	if got := tbl.CountPending("ingest"); got != 1 {
		t.Errorf("CountPending(ingest) = %d, want 1 (buffered frame not yet drained)", got)
	}

	if _, err := parentCh.Receive(); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if got := tbl.CountPending("ingest"); got != 0 {
		t.Errorf("CountPending(ingest) = %d, want 0 once drained", got)
	}
}

func TestIterateVisitsEveryRecord(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newRecord(1, "a", Worker))
	tbl.Insert(newRecord(2, "b", Worker))

	seen := map[int]bool{}
	tbl.Iterate(func(rec *Record) { seen[rec.PID] = true })

	if len(seen) != 2 || !seen[1] || !seen[2] {
		t.Errorf("seen = %v", seen)
	}
}
