package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/timing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func testEvents(base time.Time) []timing.Event {
	return []timing.Event{
		{
			Seq:       1,
			Timestamp: base,
			Type:      timing.EventJobCreated,
			JobID:     "j1",
			BatchID:   "b1",
			Success:   true,
		},
		{
			Seq:       2,
			Timestamp: base.Add(5 * time.Millisecond),
			Type:      timing.EventTokenAssigned,
			JobID:     "j1",
			TokenID:   "token-1",
			Success:   true,
		},
		{
			Seq:       3,
			Timestamp: base.Add(150 * time.Millisecond),
			Type:      timing.EventJobFailed,
			JobID:     "j1",
			BatchID:   "b1",
			TokenID:   "token-1",
			Tier:      1,
			Duration:  145 * time.Millisecond,
			Error:     "nonzero_exit",
			Metadata:  map[string]string{"exit_code": "3"},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestArchiveAndLoadRun(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Microsecond)
	finished := base.Add(time.Second)

	run := Run{ID: "run-1", Label: "build the thing", StartedAt: base, FinishedAt: &finished}
	if err := db.ArchiveRun(run, testEvents(base)); err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}

	loaded, err := db.LoadRun("run-1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.Label != "build the thing" || loaded.Events != 3 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.FinishedAt == nil || !loaded.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", loaded.FinishedAt, finished)
	}

	events, err := db.LoadEvents("run-1")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	got := events[2]
	if got.Type != timing.EventJobFailed || got.Error != "nonzero_exit" {
		t.Errorf("event = %+v", got)
	}
	if got.Duration != 145*time.Millisecond {
		t.Errorf("Duration = %s", got.Duration)
	}
	if got.Metadata["exit_code"] != "3" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	// The archived log must survive re-analysis.
	report := timing.NewAnalyzer(events).Report()
	if report.Events != 3 {
		t.Errorf("report.Events = %d", report.Events)
	}
}

func TestLoadUnknownRun(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LoadRun("missing"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		run := Run{ID: id, Label: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.ArchiveRun(run, nil); err != nil {
			t.Fatalf("ArchiveRun %s: %v", id, err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestPurgeOldRunsCascades(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC()

	stale := Run{ID: "stale", Label: "stale", StartedAt: base.Add(-48 * time.Hour)}
	if err := db.ArchiveRun(stale, testEvents(stale.StartedAt)); err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}
	fresh := Run{ID: "fresh", Label: "fresh", StartedAt: base}
	if err := db.ArchiveRun(fresh, nil); err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}

	deleted, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	events, err := db.LoadEvents("stale")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events should cascade on delete, got %d", len(events))
	}
	if _, err := db.LoadRun("fresh"); err != nil {
		t.Errorf("fresh run should survive: %v", err)
	}
}
