package state

import (
	"fmt"
	"log/slog"

	"github.com/roach88/pipewright/internal/module"
)

// RegisterJobComplete records the outputs a job reported and marks it
// complete. One instance is created per value of every unmasked output, in
// declared output order. Values for masked or undeclared outputs are
// discarded. Returns the instances created.
func (s *State) RegisterJobComplete(jobID string, outputs module.Manifest) ([]*ItemInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Complete {
		return nil, fmt.Errorf("state: job %s is already complete", jobID)
	}

	declared := map[string]bool{}
	job.Outputs = map[string][]*ItemInstance{}
	var created []*ItemInstance
	for _, out := range job.Module.Outputs() {
		declared[out] = true
		if s.masked[job.Module.Name()][out] {
			continue
		}
		for _, value := range outputs[out] {
			ii := &ItemInstance{ID: s.newID(), Item: out, Value: value, MadeBy: job}
			s.register(ii)
			job.Outputs[out] = append(job.Outputs[out], ii)
			created = append(created, ii)
		}
	}
	for item := range outputs {
		if !declared[item] {
			slog.Warn("discarding undeclared output", "job_id", jobID, "module", job.Module.Name(), "item", item)
		}
	}

	job.Complete = true
	delete(s.pending, jobID)
	delete(s.failed, jobID)
	s.changed = true
	return created, nil
}

// RegisterJobFailed marks a pending job as failed. A failed job stays
// pending and is not offered by Runnable until ClearFailed.
func (s *State) RegisterJobFailed(jobID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Complete {
		return fmt.Errorf("state: job %s is already complete", jobID)
	}
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	s.failed[jobID] = msg
	s.changed = true
	return nil
}

// ClearFailed makes every failed job runnable again and returns their ids.
func (s *State) ClearFailed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sortedSet(toSet(s.failed))
	for _, id := range ids {
		delete(s.failed, id)
	}
	if len(ids) > 0 {
		s.changed = true
	}
	return ids
}

func toSet[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
