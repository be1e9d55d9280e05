package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadRuns_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ReadRuns(ctx)
	if err != nil {
		t.Fatalf("ReadRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", runs)
	}

	createTestRun(t, s, "run-b", 10)
	createTestRun(t, s, "run-a", 1)

	runs, err = s.ReadRuns(ctx)
	if err != nil {
		t.Fatalf("ReadRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-a" || runs[1].ID != "run-b" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if !reflect.DeepEqual(runs[0].Targets, []string{"summary"}) {
		t.Errorf("targets = %v", runs[0].Targets)
	}
}

func TestReadEvents_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	written := []Event{
		{RunID: "run-1", Seq: 4, Kind: EventJobFailed, JobID: "job-b", Module: "trim", Message: "exit status 1"},
		{RunID: "run-1", Seq: 2, Kind: EventJobScheduled, JobID: "job-a", Module: "trim",
			Manifest: map[string][]string{"reads": {"inputs/a.fq", "inputs/b.fq"}}},
		{RunID: "run-1", Seq: 3, Kind: EventJobCompleted, JobID: "job-a", Module: "trim",
			Manifest: map[string][]string{"trimmed": {"trim--job-a/out.fq"}}},
	}
	for i := range written {
		id, err := s.WriteEvent(ctx, written[i])
		if err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
		written[i].ID = id
	}

	events, err := s.ReadEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	want := []Event{written[1], written[2], written[0]}
	want[2].Manifest = map[string][]string{}
	for i := range want {
		if !reflect.DeepEqual(events[i], want[i]) {
			t.Errorf("event %d:\n got %+v\nwant %+v", i, events[i], want[i])
		}
	}
}

func TestReadJobEvents_AcrossRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)
	createTestRun(t, s, "run-2", 20)

	for _, e := range []Event{
		{RunID: "run-2", Seq: 21, Kind: EventJobCompleted, JobID: "job-a", Module: "trim"},
		{RunID: "run-1", Seq: 2, Kind: EventJobScheduled, JobID: "job-a", Module: "trim"},
		{RunID: "run-1", Seq: 3, Kind: EventJobScheduled, JobID: "job-b", Module: "trim"},
		{RunID: "run-1", Seq: 5, Kind: EventJobFailed, JobID: "job-a", Module: "trim", Message: "boom"},
	} {
		if _, err := s.WriteEvent(ctx, e); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	events, err := s.ReadJobEvents(ctx, "job-a")
	if err != nil {
		t.Fatalf("ReadJobEvents() failed: %v", err)
	}
	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventJobScheduled, EventJobFailed, EventJobCompleted}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestReadArchive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)
	createTestRun(t, s, "run-2", 10)

	job := ArchiveRecord{
		RunID: "run-1", Seq: 5, Location: "previous_run_001", Kind: RecordJob,
		RecordID: "job-a", Name: "trim",
		Inputs:  map[string][]string{"reads": {"i001"}},
		Outputs: map[string][]string{"trimmed": {"i002"}},
	}
	again := job
	again.RunID = "run-2"
	again.Seq = 11
	again.Location = "previous_run_002"

	if err := s.WriteArchive(ctx, []ArchiveRecord{job}); err != nil {
		t.Fatalf("WriteArchive() failed: %v", err)
	}
	if err := s.WriteArchive(ctx, []ArchiveRecord{again}); err != nil {
		t.Fatalf("WriteArchive() failed: %v", err)
	}

	records, err := s.ReadArchive(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadArchive() failed: %v", err)
	}
	if len(records) != 1 || !reflect.DeepEqual(records[0], job) {
		t.Fatalf("ReadArchive() = %+v", records)
	}

	history, err := s.ReadArchivedRecord(ctx, "job-a")
	if err != nil {
		t.Fatalf("ReadArchivedRecord() failed: %v", err)
	}
	if len(history) != 2 || history[1].Location != "previous_run_002" {
		t.Errorf("history = %+v", history)
	}
}
