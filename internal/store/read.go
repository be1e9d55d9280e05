package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadRun returns a single run by id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace, fingerprint, targets, started_seq, status, ended_seq
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ReadRuns returns every run, oldest first.
// Returns an empty slice (not nil) if the journal has no runs.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, fingerprint, targets, started_seq, status, ended_seq
		FROM runs
		ORDER BY started_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadEvents returns all events of a run ordered by seq.
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, run_id, seq, kind, job_id, module, manifest, message
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
}

// ReadJobEvents returns every event recorded for a job across runs.
func (s *Store) ReadJobEvents(ctx context.Context, jobID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT e.id, e.run_id, e.seq, e.kind, e.job_id, e.module, e.manifest, e.message
		FROM events e
		JOIN runs r ON e.run_id = r.id
		WHERE e.job_id = ?
		ORDER BY r.started_seq ASC, e.seq ASC, e.id COLLATE BINARY ASC
	`, jobID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ReadArchive returns the records archived during a run, in archive order.
func (s *Store) ReadArchive(ctx context.Context, runID string) ([]ArchiveRecord, error) {
	return s.queryArchive(ctx, `
		SELECT run_id, seq, location, kind, record_id, name, value, made_by, inputs, outputs
		FROM archive
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
}

// ReadArchivedRecord returns every archived version of a job or item id.
func (s *Store) ReadArchivedRecord(ctx context.Context, recordID string) ([]ArchiveRecord, error) {
	return s.queryArchive(ctx, `
		SELECT run_id, seq, location, kind, record_id, name, value, made_by, inputs, outputs
		FROM archive
		WHERE record_id = ?
		ORDER BY id ASC
	`, recordID)
}

func (s *Store) queryArchive(ctx context.Context, query string, args ...any) ([]ArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	records := []ArchiveRecord{}
	for rows.Next() {
		r, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	return records, nil
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var targets string
	var ended sql.NullInt64
	if err := row.Scan(
		&run.ID,
		&run.Workspace,
		&run.Fingerprint,
		&targets,
		&run.StartedSeq,
		&run.Status,
		&ended,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.EndedSeq = ended.Int64

	var err error
	if run.Targets, err = unmarshalTargets(targets); err != nil {
		return Run{}, err
	}
	return run, nil
}

func scanEvent(row rowScanner) (Event, error) {
	var e Event
	var kind, manifest string
	if err := row.Scan(
		&e.ID,
		&e.RunID,
		&e.Seq,
		&kind,
		&e.JobID,
		&e.Module,
		&manifest,
		&e.Message,
	); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = EventKind(kind)

	var err error
	if e.Manifest, err = unmarshalManifest(manifest); err != nil {
		return Event{}, err
	}
	return e, nil
}

func scanArchive(row rowScanner) (ArchiveRecord, error) {
	var r ArchiveRecord
	var kind, inputs, outputs string
	if err := row.Scan(
		&r.RunID,
		&r.Seq,
		&r.Location,
		&kind,
		&r.RecordID,
		&r.Name,
		&r.Value,
		&r.MadeBy,
		&inputs,
		&outputs,
	); err != nil {
		return ArchiveRecord{}, fmt.Errorf("scan archive: %w", err)
	}
	r.Kind = RecordKind(kind)

	var err error
	if r.Inputs, err = unmarshalManifest(inputs); err != nil {
		return ArchiveRecord{}, err
	}
	if r.Outputs, err = unmarshalManifest(outputs); err != nil {
		return ArchiveRecord{}, err
	}
	return r, nil
}
