package bucket

import "testing"

type fakeResizer struct {
	bucket string
	count  int
}

func (f *fakeResizer) RequestExitSurplus(bucket string, count int) {
	f.bucket, f.count = bucket, count
}

func TestAddWorkAutoCreatesBucket(t *testing.T) {
	r := NewRegistry(nil)
	r.AddWork("ingest", "id-1", "payload")

	if !r.BucketExists("ingest") {
		t.Fatal("bucket was not auto-created")
	}
	if got := r.WorkSetsCount("ingest", false); got != 1 {
		t.Errorf("WorkSetsCount = %d, want 1", got)
	}
}

func TestWorkRunningAndWorkSets(t *testing.T) {
	r := NewRegistry(nil)

	if r.WorkRunning("ingest") {
		t.Error("WorkRunning on an unknown bucket should be false")
	}

	r.AddWork("ingest", "id-1", "a")
	r.AddWork("ingest", "id-2", "b")

	if !r.WorkRunning("ingest") {
		t.Error("WorkRunning should be true once work is queued")
	}
	if got, want := r.WorkSets("ingest"), []string{"id-1", "id-2"}; !equalStrings(got, want) {
		t.Errorf("WorkSets = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNonDefaultBucketClonesDefaultKnobsAtCreation(t *testing.T) {
	r := NewRegistry(nil)
	r.SetMaxChildren(DefaultID, 5)

	r.AddBucket("ingest")
	b, _ := r.Get("ingest")
	if b.MaxChildren != 5 {
		t.Fatalf("cloned MaxChildren = %d, want 5", b.MaxChildren)
	}

	// Invariant B1: later DEFAULT edits must not propagate.
	r.SetMaxChildren(DefaultID, 99)
	b, _ = r.Get("ingest")
	if b.MaxChildren != 5 {
		t.Errorf("MaxChildren changed to %d after editing DEFAULT, want unchanged 5", b.MaxChildren)
	}
}

func TestSetMaxChildrenClampsNegative(t *testing.T) {
	r := NewRegistry(nil)
	r.SetMaxChildren(DefaultID, -3)
	b, _ := r.Get(DefaultID)
	if b.MaxChildren != 0 {
		t.Errorf("MaxChildren = %d, want 0", b.MaxChildren)
	}
}

func TestLoweringMaxChildrenUnderPersistentModeRequestsSurplusExit(t *testing.T) {
	resizer := &fakeResizer{}
	r := NewRegistry(resizer)
	r.SetPersistentMode(DefaultID, true, map[string]int{"cfg": 1})
	r.SetMaxChildren(DefaultID, 3)

	r.SetMaxChildren(DefaultID, 1)

	if resizer.bucket != DefaultID || resizer.count != 2 {
		t.Errorf("resizer got (%q, %d), want (%q, 2)", resizer.bucket, resizer.count, DefaultID)
	}
}

func TestPopBatchRespectsSingleWorkItemMode(t *testing.T) {
	r := NewRegistry(nil)
	r.SetSingleWorkItem(DefaultID, true)
	r.AddWork(DefaultID, "id-1", 1)
	r.AddWork(DefaultID, "id-2", 2)

	batch := r.PopBatch(DefaultID, 10)
	if len(batch) != 1 || batch[0].Identifier != "id-1" {
		t.Fatalf("batch = %v, want single item id-1", batch)
	}
}

func TestPopBatchPreservesFIFOOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.SetMaxWorkPerChild(DefaultID, 10)
	for i := 1; i <= 7; i++ {
		r.AddWork(DefaultID, "id", i)
	}

	first := r.PopBatch(DefaultID, 3)
	second := r.PopBatch(DefaultID, 3)
	third := r.PopBatch(DefaultID, 3)

	var got []int
	for _, batch := range [][]WorkItem{first, second, third} {
		for _, w := range batch {
			got = append(got, w.Item.(int))
		}
	}
	want := []int{1, 2, 3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRequeueBatchRestoresToHead(t *testing.T) {
	r := NewRegistry(nil)
	r.AddWork(DefaultID, "id-1", 1)
	r.AddWork(DefaultID, "id-2", 2)

	batch := r.PopBatch(DefaultID, 1)
	r.AddWork(DefaultID, "id-3", 3)
	r.RequeueBatch(DefaultID, batch)

	var got []int
	for _, batch := range [][]WorkItem{
		r.PopBatch(DefaultID, 1),
		r.PopBatch(DefaultID, 1),
		r.PopBatch(DefaultID, 1),
	} {
		for _, w := range batch {
			got = append(got, w.Item.(int))
		}
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRequeueBatchOnEmptyIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	r.RequeueBatch(DefaultID, nil)
	if r.WorkSetsCount(DefaultID, false) != 0 {
		t.Fatal("RequeueBatch with no items should not create a queue entry")
	}
}

func TestResultQueueFIFO(t *testing.T) {
	r := NewRegistry(nil)
	r.PostResult(DefaultID, "first")
	r.PostResult(DefaultID, "second")

	if !r.HasResult(DefaultID) {
		t.Fatal("expected HasResult true")
	}
	v, ok := r.GetResult(DefaultID)
	if !ok || v != "first" {
		t.Fatalf("GetResult = (%v, %v), want (first, true)", v, ok)
	}

	all := r.GetAllResults(DefaultID)
	if len(all) != 1 || all[0] != "second" {
		t.Fatalf("GetAllResults = %v, want [second]", all)
	}
	if r.HasResult(DefaultID) {
		t.Error("expected HasResult false after draining")
	}
}

func TestStoreResultKnobGatesPendingResults(t *testing.T) {
	r := NewRegistry(nil)
	if !r.StoreResult() {
		t.Fatal("a directly-constructed Registry should default store_result to true")
	}

	r.SetStoreResult(false)
	r.PostResult(DefaultID, "dropped")

	if r.HasResult(DefaultID) {
		t.Error("HasResult should be false while store_result is disabled")
	}
	if v, ok := r.GetResult(DefaultID); ok {
		t.Errorf("GetResult = (%v, true), want (nil, false)", v)
	}
	if all := r.GetAllResults(DefaultID); all != nil {
		t.Errorf("GetAllResults = %v, want nil", all)
	}

	r.SetStoreResult(true)
	r.PostResult(DefaultID, "kept")
	if !r.HasResult(DefaultID) {
		t.Fatal("expected HasResult true once store_result is re-enabled")
	}
}

func TestBucketListIncludeDefault(t *testing.T) {
	r := NewRegistry(nil)
	r.AddBucket("ingest")

	withDefault := r.BucketList(true)
	withoutDefault := r.BucketList(false)

	if len(withDefault) != 2 {
		t.Errorf("BucketList(true) = %v, want 2 entries", withDefault)
	}
	if len(withoutDefault) != 1 || withoutDefault[0] != "ingest" {
		t.Errorf("BucketList(false) = %v, want [ingest]", withoutDefault)
	}
}
