package store

import (
	"context"
	"fmt"
)

// WriteRun inserts a run record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	targets, err := marshalTargets(run.Targets)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	status := run.Status
	if status == "" {
		status = RunRunning
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, workspace, fingerprint, targets, started_seq, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Workspace,
		run.Fingerprint,
		targets,
		run.StartedSeq,
		status,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal status and last seq.
func (s *Store) FinishRun(ctx context.Context, runID, status string, seq int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_seq = ? WHERE id = ?
	`, status, seq, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %s", runID)
	}
	return nil
}

// WriteEvent appends an event and returns its id. The id is computed from
// the event content; writing an identical event twice is silently ignored.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, e Event) (string, error) {
	id, err := EventID(e)
	if err != nil {
		return "", fmt.Errorf("write event: %w", err)
	}
	manifest, err := marshalManifest(e.Manifest)
	if err != nil {
		return "", fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, run_id, seq, kind, job_id, module, manifest, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		e.RunID,
		e.Seq,
		string(e.Kind),
		e.JobID,
		e.Module,
		manifest,
		e.Message,
	)
	if err != nil {
		return "", fmt.Errorf("write event: %w", err)
	}
	return id, nil
}

// WriteArchive stores invalidated records in one transaction.
// Duplicate (run, kind, record) triples are silently ignored.
func (s *Store) WriteArchive(ctx context.Context, records []ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write archive: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO archive
		(run_id, seq, location, kind, record_id, name, value, made_by, inputs, outputs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind, record_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write archive: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		inputs, err := marshalManifest(r.Inputs)
		if err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		outputs, err := marshalManifest(r.Outputs)
		if err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID,
			r.Seq,
			r.Location,
			string(r.Kind),
			r.RecordID,
			r.Name,
			r.Value,
			r.MadeBy,
			inputs,
			outputs,
		); err != nil {
			return fmt.Errorf("write archive: %s %s: %w", r.Kind, r.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write archive: commit: %w", err)
	}
	return nil
}
