package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSummarizeRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", 1)

	for _, e := range []Event{
		{RunID: "run-1", Seq: 2, Kind: EventJobScheduled, JobID: "a", Module: "trim"},
		{RunID: "run-1", Seq: 3, Kind: EventJobScheduled, JobID: "b", Module: "trim"},
		{RunID: "run-1", Seq: 4, Kind: EventJobScheduled, JobID: "c", Module: "trim"},
		{RunID: "run-1", Seq: 5, Kind: EventJobCompleted, JobID: "b", Module: "trim"},
		{RunID: "run-1", Seq: 6, Kind: EventJobFailed, JobID: "c", Module: "trim", Message: "boom"},
	} {
		if _, err := s.WriteEvent(ctx, e); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	summary, err := s.SummarizeRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("SummarizeRun() failed: %v", err)
	}
	if !reflect.DeepEqual(summary.Scheduled, []string{"a", "b", "c"}) {
		t.Errorf("scheduled = %v", summary.Scheduled)
	}
	if !reflect.DeepEqual(summary.Completed, []string{"b"}) {
		t.Errorf("completed = %v", summary.Completed)
	}
	if summary.Failed["c"] != "boom" {
		t.Errorf("failed = %v", summary.Failed)
	}
	if !reflect.DeepEqual(summary.Outstanding(), []string{"a"}) {
		t.Errorf("outstanding = %v", summary.Outstanding())
	}
	if summary.LastSeq != 6 {
		t.Errorf("last seq = %d", summary.LastSeq)
	}
}

func TestSummarizeRun_Unknown(t *testing.T) {
	s := createTestStore(t)
	_, err := s.SummarizeRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestRun(ctx, "/ws"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	createTestRun(t, s, "run-1", 1)
	createTestRun(t, s, "run-2", 30)
	if err := s.WriteRun(ctx, Run{ID: "elsewhere", Workspace: "/other", StartedSeq: 99}); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}

	run, err := s.LatestRun(ctx, "/ws")
	if err != nil {
		t.Fatalf("LatestRun() failed: %v", err)
	}
	if run.ID != "run-2" {
		t.Errorf("latest = %s", run.ID)
	}
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty journal seq = %d", seq)
	}

	createTestRun(t, s, "run-1", 1)
	if _, err := s.WriteEvent(ctx, Event{RunID: "run-1", Seq: 7, Kind: EventJobScheduled}); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if err := s.FinishRun(ctx, "run-1", RunSucceeded, 9); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	seq, err = s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("seq = %d, want 9", seq)
	}
}
