package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/dispatchd/internal/store"
)

func TestBuildReportRendersStepsAndResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := store.New(db)
	const pid = 4242

	if err := s.PutEvent(ctx, pid, 1, "builds", "item-1", store.EventForked, ""); err != nil {
		t.Fatalf("PutEvent(forked): %v", err)
	}
	if err := s.PutResult(ctx, pid, 1, "builds", "item-1", map[string]any{"ok": true}); err != nil {
		t.Fatalf("PutResult: %v", err)
	}
	if err := s.PutEvent(ctx, pid, 1, "builds", "item-1", store.EventExited, "exit status 0"); err != nil {
		t.Fatalf("PutEvent(exited): %v", err)
	}

	out, err := BuildReport(ctx, db, pid)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, needle := range []string{
		"pid 4242",
		"builds",
		"item-1",
		"forked",
		"exited",
		"exit status 0",
		`"ok":true`,
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := store.New(db)
	const pid = 99

	if err := s.PutEvent(ctx, pid, 1, "ingest", "item-a", store.EventForked, ""); err != nil {
		t.Fatalf("PutEvent(forked): %v", err)
	}
	if err := s.PutEvent(ctx, pid, 1, "ingest", "item-a", store.EventRespawn, "helper respawned"); err != nil {
		t.Fatalf("PutEvent(respawn): %v", err)
	}

	out, err := BuildJSONReport(ctx, db, pid)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to unmarshal JSON output: %v", err)
	}

	if report.PID != pid {
		t.Errorf("pid = %d, want %d", report.PID, pid)
	}
	if len(report.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(report.Steps))
	}
	if report.Steps[0].Status != string(store.EventRespawn) {
		t.Errorf("status = %s, want %s", report.Steps[0].Status, store.EventRespawn)
	}
}

func TestBuildReportUnknownPID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := BuildReport(ctx, db, 1); err == nil {
		t.Fatal("expected error for pid with no history")
	}
}
