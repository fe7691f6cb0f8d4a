package db

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "runs", "item_events", "gate_runs"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)

	if err := d.LogRunStart("run-1"); err != nil {
		t.Fatalf("log run start: %v", err)
	}
	if err := d.LogRunEnd("run-1", 5, 3, 1, 2); err != nil {
		t.Fatalf("log run end: %v", err)
	}

	runs, err := d.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.RunID != "run-1" || r.Iterations != 5 || r.Completed != 3 || r.Failed != 1 || r.GateFailures != 2 {
		t.Errorf("unexpected run row: %+v", r)
	}
	if r.FinishedAt == "" {
		t.Error("expected finished_at set")
	}
}

func TestItemEvents(t *testing.T) {
	d := testDB(t)

	if err := d.LogItemEvent("run-1", "im-7", "claimed", ""); err != nil {
		t.Fatalf("log claimed: %v", err)
	}
	if err := d.LogItemEvent("run-1", "im-7", "closed", "completed by agent"); err != nil {
		t.Fatalf("log closed: %v", err)
	}

	events, err := d.ItemHistory("im-7")
	if err != nil {
		t.Fatalf("item history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "claimed" || events[1].Event != "closed" {
		t.Errorf("unexpected event order: %+v", events)
	}
	if events[1].Detail != "completed by agent" {
		t.Errorf("unexpected detail: %q", events[1].Detail)
	}
}

func TestItemEvents_RejectsUnknownEvent(t *testing.T) {
	d := testDB(t)

	if err := d.LogItemEvent("run-1", "im-7", "exploded", ""); err == nil {
		t.Error("expected CHECK constraint to reject unknown event")
	}
}

func TestGateRuns(t *testing.T) {
	d := testDB(t)

	if err := d.LogGateRun("run-1", "im-7", 0, "test", false, 1, 8200); err != nil {
		t.Fatalf("log gate run: %v", err)
	}
	if err := d.LogGateRun("run-1", "im-7", 1, "test", true, 0, 7900); err != nil {
		t.Fatalf("log gate run: %v", err)
	}

	var count int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM gate_runs WHERE item_id = 'im-7'").Scan(&count); err != nil {
		t.Fatalf("count gate runs: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 gate runs, got %d", count)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.LogRunStart("run-1"); err != nil {
		t.Fatalf("log run start: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	runs, err := d.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty runs table after reset, got %d", len(runs))
	}
}
