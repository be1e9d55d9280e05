package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a journal on a temp path.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun writes a run so events and archive rows can reference it.
func createTestRun(t *testing.T, s *Store, id string, startedSeq int64) Run {
	t.Helper()
	run := Run{
		ID:          id,
		Workspace:   "/ws",
		Fingerprint: "0123456789abcdef",
		Targets:     []string{"summary"},
		StartedSeq:  startedSeq,
	}
	if err := s.WriteRun(context.Background(), run); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	return run
}
