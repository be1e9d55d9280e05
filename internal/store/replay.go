package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// RunSummary condenses a run's events into per-job outcomes.
type RunSummary struct {
	Run       Run
	Scheduled []string          // job ids in scheduling order
	Completed []string          // job ids in completion order
	Failed    map[string]string // job id -> failure message
	LastSeq   int64
}

// Outstanding returns jobs scheduled in the run that neither completed nor
// failed, sorted.
func (s RunSummary) Outstanding() []string {
	done := make(map[string]bool, len(s.Completed)+len(s.Failed))
	for _, id := range s.Completed {
		done[id] = true
	}
	for id := range s.Failed {
		done[id] = true
	}
	var out []string
	for _, id := range s.Scheduled {
		if !done[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SummarizeRun replays a run's events.
func (s *Store) SummarizeRun(ctx context.Context, runID string) (RunSummary, error) {
	run, err := s.ReadRun(ctx, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("summarize run: %w", err)
	}
	events, err := s.ReadEvents(ctx, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("summarize run: %w", err)
	}

	summary := RunSummary{Run: run, Failed: map[string]string{}, LastSeq: run.StartedSeq}
	for _, e := range events {
		switch e.Kind {
		case EventJobScheduled:
			summary.Scheduled = append(summary.Scheduled, e.JobID)
		case EventJobCompleted:
			summary.Completed = append(summary.Completed, e.JobID)
		case EventJobFailed:
			summary.Failed[e.JobID] = e.Message
		}
		summary.LastSeq = max(summary.LastSeq, e.Seq)
	}
	return summary, nil
}

// LatestRun returns the most recently started run against workspace.
// Returns ErrNotFound if there is none.
func (s *Store) LatestRun(ctx context.Context, workspace string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace, fingerprint, targets, started_seq, status, ended_seq
		FROM runs
		WHERE workspace = ?
		ORDER BY started_seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`, workspace)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run for %s: %w", workspace, ErrNotFound)
	}
	return run, err
}

// LastSeq returns the highest seq recorded anywhere in the journal, or 0 for
// an empty journal. The dispatch loop resumes its clock from here so seqs
// stay monotonic across runs.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM events
			UNION ALL SELECT started_seq FROM runs
			UNION ALL SELECT ended_seq FROM runs WHERE ended_seq IS NOT NULL
			UNION ALL SELECT seq FROM archive
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}
