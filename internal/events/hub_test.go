package events

import "testing"

func TestPublishAndSnapshotSince(t *testing.T) {
	h := NewHub(10)
	h.Publish("forked", map[string]any{"pid": 1})
	h.Publish("exited", map[string]any{"pid": 1})

	all := h.SnapshotSince(0)
	if len(all) != 2 {
		t.Fatalf("SnapshotSince(0) len = %d, want 2", len(all))
	}

	since := h.SnapshotSince(all[0].ID)
	if len(since) != 1 || since[0].Type != "exited" {
		t.Fatalf("SnapshotSince(%d) = %v, want [exited]", all[0].ID, since)
	}
}

func TestSnapshotSinceFilteredByType(t *testing.T) {
	h := NewHub(10)
	h.Publish("forked", nil)
	h.Publish("exited", nil)
	h.Publish("timeout", nil)

	got := h.SnapshotSinceFiltered(0, "forked", "timeout")
	if len(got) != 2 {
		t.Fatalf("filtered snapshot len = %d, want 2", len(got))
	}
	for _, ev := range got {
		if ev.Type == "exited" {
			t.Fatalf("filtered snapshot leaked an excluded type: %v", got)
		}
	}
}

func TestSubscribeFilteredOnlyReceivesMatchingTypes(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.SubscribeFiltered("respawn")
	defer cancel()

	h.Publish("forked", nil)
	h.Publish("respawn", nil)

	select {
	case ev := <-ch:
		if ev.Type != "respawn" {
			t.Fatalf("delivered event type = %q, want respawn", ev.Type)
		}
	default:
		t.Fatal("expected the respawn event to be delivered")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event delivered: %v", ev)
	default:
	}
}

func TestSubscribeReceivesEveryType(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("forked", nil)
	h.Publish("respawn", nil)

	n := 0
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
			n++
		default:
		}
	}
	if n != 2 {
		t.Fatalf("unfiltered subscriber received %d events, want 2", n)
	}
}
