package state

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// PreviousRunPrefix names the folders invalidated results are moved into.
const PreviousRunPrefix = "previous_run_"

// Invalidation lists what Invalidate removed from the active state.
type Invalidation struct {
	Jobs  []*JobInstance
	Items []*ItemInstance
}

// Empty reports whether nothing was removed.
func (inv *Invalidation) Empty() bool {
	return inv == nil || len(inv.Jobs) == 0 && len(inv.Items) == 0
}

// Invalidate removes every instance of the named items together with
// everything derived from them.
//
// For a produced instance the cascade starts at its producing job, so
// sibling outputs go too. For a given instance it starts at the jobs that
// consumed it; given instances themselves are never removed. Each removed
// job takes its outputs and, through reservations, every downstream job.
func (s *State) Invalidate(items []string) *Invalidation {
	s.mu.Lock()
	defer s.mu.Unlock()

	given := make(map[string]bool, len(s.given))
	for _, id := range s.given {
		given[id] = true
	}

	var todo []*JobInstance
	for _, name := range items {
		for _, ii := range s.lookup[name] {
			if ii.MadeBy != nil {
				todo = append(todo, ii.MadeBy)
			} else {
				todo = append(todo, s.reservations[ii.ID]...)
			}
		}
	}

	inv := &Invalidation{}
	deleted := map[string]bool{}
	removed := map[string]bool{}
	for len(todo) > 0 {
		job := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if deleted[job.ID] {
			continue
		}
		deleted[job.ID] = true
		inv.Jobs = append(inv.Jobs, job)
		for _, out := range job.OutputInstances() {
			todo = append(todo, s.reservations[out.ID]...)
			if given[out.ID] || removed[out.ID] {
				continue
			}
			removed[out.ID] = true
			inv.Items = append(inv.Items, out)
		}
	}
	if inv.Empty() {
		return inv
	}

	for _, ii := range inv.Items {
		delete(s.items, ii.ID)
		delete(s.reservations, ii.ID)
		s.lookup[ii.Item] = slices.DeleteFunc(s.lookup[ii.Item], func(x *ItemInstance) bool { return x.ID == ii.ID })
		if len(s.lookup[ii.Item]) == 0 {
			delete(s.lookup, ii.Item)
		}
	}
	for _, job := range inv.Jobs {
		delete(s.jobs, job.ID)
		delete(s.pending, job.ID)
		delete(s.failed, job.ID)
		delete(s.signatures, signature(job.Module.Name(), job.Inputs))
		for _, ii := range job.InputInstances() {
			rest := slices.DeleteFunc(s.reservations[ii.ID], func(j *JobInstance) bool { return deleted[j.ID] })
			if len(rest) == 0 {
				delete(s.reservations, ii.ID)
			} else {
				s.reservations[ii.ID] = rest
			}
		}
	}
	slices.SortFunc(inv.Jobs, func(a, b *JobInstance) int { return cmp.Compare(a.seq, b.seq) })

	s.changed = true
	slog.Info("invalidated results", "items", items, "jobs", len(inv.Jobs), "instances", len(inv.Items))
	return inv
}

// Relocate moves the folders of invalidated jobs and the current saved
// state into a fresh previous_run_NNN folder of the workspace, keeping the
// earlier run auditable. Returns the folder, or "" if nothing was moved.
func (s *State) Relocate(ctx context.Context, inv *Invalidation) (string, error) {
	if inv.Empty() {
		return "", nil
	}

	var dest string
	for i := 1; ; i++ {
		dest = filepath.Join(s.workspace, fmt.Sprintf("%s%03d", PreviousRunPrefix, i))
		exists, err := s.fs.Exists(ctx, dest)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", dest, err)
		}
		if !exists {
			break
		}
	}
	if err := s.fs.Create(ctx, dest, os.ModeDir|0o755, true); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	names := make([]string, 0, len(inv.Jobs)+1)
	for _, job := range inv.Jobs {
		names = append(names, job.Folder())
	}
	names = append(names, FileName)

	for _, name := range names {
		src := filepath.Join(s.workspace, name)
		exists, err := s.fs.Exists(ctx, src)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", src, err)
		}
		if !exists {
			continue
		}
		if err := s.fs.Move(ctx, src, filepath.Join(dest, name)); err != nil {
			return "", fmt.Errorf("failed to move %s: %w", name, err)
		}
	}
	slog.Info("relocated invalidated results", "folder", dest, "jobs", len(inv.Jobs))
	return dest, nil
}
