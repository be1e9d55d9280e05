package store

import (
	"context"
	"testing"
)

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	// Second write with different fields is ignored.
	if err := s.WriteRun(ctx, Run{ID: "run-1", Workspace: "/other", StartedSeq: 9}); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Workspace != "/ws" || run.StartedSeq != 1 || run.Status != RunRunning {
		t.Errorf("run overwritten: %+v", run)
	}
}

func TestFinishRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	if err := s.FinishRun(ctx, "run-1", RunSucceeded, 12); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Status != RunSucceeded || run.EndedSeq != 12 {
		t.Errorf("got status %q ended %d", run.Status, run.EndedSeq)
	}

	if err := s.FinishRun(ctx, "missing", RunFailed, 1); err == nil {
		t.Error("FinishRun() on unknown run should fail")
	}
}

func TestWriteEvent_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	e := Event{
		RunID:    "run-1",
		Seq:      2,
		Kind:     EventJobScheduled,
		JobID:    "job-a",
		Module:   "trim",
		Manifest: map[string][]string{"reads": {"inputs/a.fq"}},
	}
	id, err := s.WriteEvent(ctx, e)
	if err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if len(id) != 64 {
		t.Errorf("event id %q is not a hex sha256", id)
	}

	var manifest string
	if err := s.db.QueryRow("SELECT manifest FROM events WHERE id = ?", id).Scan(&manifest); err != nil {
		t.Fatalf("query event: %v", err)
	}
	if manifest != `{"reads":["inputs/a.fq"]}` {
		t.Errorf("manifest = %s", manifest)
	}
}

func TestWriteEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	e := Event{RunID: "run-1", Seq: 2, Kind: EventJobCompleted, JobID: "job-a", Module: "trim"}
	first, err := s.WriteEvent(ctx, e)
	if err != nil {
		t.Fatalf("first WriteEvent() failed: %v", err)
	}
	second, err := s.WriteEvent(ctx, e)
	if err != nil {
		t.Fatalf("second WriteEvent() failed: %v", err)
	}
	if first != second {
		t.Errorf("ids differ: %s vs %s", first, second)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestWriteEvent_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteEvent(context.Background(), Event{RunID: "nope", Seq: 1, Kind: EventJobFailed})
	if err == nil {
		t.Fatal("WriteEvent() should fail on foreign key violation")
	}
}

func TestWriteEvent_SeqCollision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	if _, err := s.WriteEvent(ctx, Event{RunID: "run-1", Seq: 2, Kind: EventJobScheduled, JobID: "a"}); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if _, err := s.WriteEvent(ctx, Event{RunID: "run-1", Seq: 2, Kind: EventJobScheduled, JobID: "b"}); err == nil {
		t.Fatal("two different events with one seq should fail")
	}
}

func TestEventID_Content(t *testing.T) {
	base := Event{RunID: "r", Seq: 1, Kind: EventJobFailed, JobID: "j", Module: "m", Message: "boom"}
	id1, err := EventID(base)
	if err != nil {
		t.Fatalf("EventID() failed: %v", err)
	}

	withID := base
	withID.ID = "ignored"
	id2, _ := EventID(withID)
	if id1 != id2 {
		t.Error("ID field must not affect the digest")
	}

	changed := base
	changed.Message = "other"
	id3, _ := EventID(changed)
	if id1 == id3 {
		t.Error("message must affect the digest")
	}
}

func TestWriteArchive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	records := []ArchiveRecord{
		{
			RunID: "run-1", Seq: 3, Location: "previous_run_001", Kind: RecordJob,
			RecordID: "job-a", Name: "trim",
			Inputs:  map[string][]string{"reads": {"i001"}},
			Outputs: map[string][]string{"trimmed": {"i002"}},
		},
		{
			RunID: "run-1", Seq: 3, Location: "previous_run_001", Kind: RecordItem,
			RecordID: "i002", Name: "trimmed", Value: "trim--job-a/out.fq", MadeBy: "job-a",
		},
	}
	if err := s.WriteArchive(ctx, records); err != nil {
		t.Fatalf("WriteArchive() failed: %v", err)
	}
	// Duplicates are ignored.
	if err := s.WriteArchive(ctx, records); err != nil {
		t.Fatalf("second WriteArchive() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM archive").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 archive rows, got %d", count)
	}
}

func TestWriteArchive_Empty(t *testing.T) {
	s := createTestStore(t)
	if err := s.WriteArchive(context.Background(), nil); err != nil {
		t.Fatalf("WriteArchive(nil) failed: %v", err)
	}
}
