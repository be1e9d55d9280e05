package state

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
)

type savedState struct {
	Fingerprint      string                          `json:"fingerprint"`
	Modules          map[string]savedModule          `json:"modules"`
	ModuleExecutions map[string]map[string]savedJob  `json:"module_executions"`
	CompletedModules []string                        `json:"completed_modules"`
	ItemInstances    map[string]map[string]savedItem `json:"item_instances"`
	Given            []string                        `json:"given"`
	Reservations     map[string][]string             `json:"item_instance_reservations"`
	PendingJobs      []string                        `json:"pending_jobs"`
	FailedJobs       map[string]string               `json:"failed_jobs,omitempty"`
}

type savedModule struct {
	In        []module.Input `json:"in"`
	Out       []string       `json:"out"`
	UnusedOut []string       `json:"unused_out,omitempty"`
}

type savedJob struct {
	Seq     int64               `json:"seq"`
	Inputs  map[string][]string `json:"inputs"`
	Outputs map[string][]string `json:"outputs,omitempty"`
}

type savedItem struct {
	Seq    int64  `json:"seq,omitempty"`
	Value  string `json:"value"`
	MadeBy string `json:"made_by,omitempty"`
}

// Path returns the saved state file of a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, FileName)
}

// Exists reports whether a workspace holds a saved state.
func Exists(workspace string) bool {
	_, err := os.Stat(Path(workspace))
	return err == nil
}

// Save writes the store to workflow_state.json. The file is replaced
// atomically. Save does nothing when the store is unchanged since the last
// save.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.changed && Exists(s.workspace) {
		return nil
	}
	data, err := json.MarshalIndent(s.snapshot(), "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(s.workspace, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	tmp, err := os.CreateTemp(s.workspace, FileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), Path(s.workspace)); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}
	s.changed = false
	return nil
}

func (s *State) snapshot() savedState {
	out := savedState{
		Fingerprint:      s.fingerprint,
		Modules:          make(map[string]savedModule, len(s.steps)),
		ModuleExecutions: map[string]map[string]savedJob{},
		CompletedModules: []string{},
		ItemInstances:    map[string]map[string]savedItem{},
		Given:            slices.Clone(s.given),
		Reservations:     make(map[string][]string, len(s.reservations)),
		PendingJobs:      []string{},
	}
	if out.Given == nil {
		out.Given = []string{}
	}

	for _, m := range s.steps {
		out.Modules[m.Name()] = savedModule{
			In:        m.Inputs(),
			Out:       m.Outputs(),
			UnusedOut: sortedSet(s.masked[m.Name()]),
		}
	}

	busy := map[string]bool{}
	for _, job := range s.jobs {
		sj := savedJob{Seq: job.seq, Inputs: instanceIDs(job.Inputs)}
		if job.Complete {
			sj.Outputs = instanceIDs(job.Outputs)
		} else {
			busy[job.Module.Name()] = true
		}
		name := job.Module.Name()
		if out.ModuleExecutions[name] == nil {
			out.ModuleExecutions[name] = map[string]savedJob{}
		}
		out.ModuleExecutions[name][job.ID] = sj
	}
	for _, m := range s.steps {
		if _, ran := out.ModuleExecutions[m.Name()]; ran && !busy[m.Name()] {
			out.CompletedModules = append(out.CompletedModules, m.Name())
		}
	}

	for item, insts := range s.lookup {
		byID := make(map[string]savedItem, len(insts))
		for _, ii := range insts {
			si := savedItem{Seq: ii.seq, Value: ii.Value}
			if ii.MadeBy != nil {
				si.MadeBy = ii.MadeBy.ID
			}
			byID[ii.ID] = si
		}
		out.ItemInstances[item] = byID
	}

	for id, jobs := range s.reservations {
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		out.Reservations[id] = ids
	}
	for _, job := range bySeq(s.pending) {
		out.PendingJobs = append(out.PendingJobs, job.ID)
	}
	if len(s.failed) > 0 {
		out.FailedJobs = make(map[string]string, len(s.failed))
		for id, msg := range s.failed {
			out.FailedJobs[id] = msg
		}
	}
	return out
}

func instanceIDs(m map[string][]*ItemInstance) map[string][]string {
	out := make(map[string][]string, len(m))
	for item, insts := range m {
		ids := make([]string, len(insts))
		for i, ii := range insts {
			ids[i] = ii.ID
		}
		out[item] = ids
	}
	return out
}

// LoadFromDisk rebuilds a store from the workspace's saved state. steps must
// declare the same modules the state was saved with.
//
// Items and jobs reference each other, so they are rebuilt in passes: an
// item once its producing job exists, a job once all its inputs exist. A
// pass that makes no progress means the save is corrupted.
func LoadFromDisk(workspace string, steps []module.Module, opts ...Option) (*State, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var saved savedState
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	s, err := newState(workspace, steps, opts)
	if err != nil {
		return nil, err
	}
	if err := s.restoreModules(saved); err != nil {
		return nil, err
	}
	if err := s.computeGroupPaths(); err != nil {
		return nil, err
	}
	if err := s.restoreInstances(saved); err != nil {
		return nil, err
	}
	slog.Debug("state loaded", "workspace", workspace, "jobs", len(s.jobs), "items", len(s.items), "pending", len(s.pending))
	return s, nil
}

// ResumeIfPossible loads the workspace's saved state when there is one and
// creates a new store from given otherwise.
func ResumeIfPossible(workspace string, steps []module.Module, given map[string][]string, opts ...Option) (*State, bool, error) {
	if Exists(workspace) {
		s, err := LoadFromDisk(workspace, steps, opts...)
		return s, true, err
	}
	s, err := MakeNew(workspace, steps, given, opts...)
	return s, false, err
}

func (s *State) restoreModules(saved savedState) error {
	if saved.Fingerprint != "" && saved.Fingerprint != s.fingerprint {
		return fmt.Errorf("%w: fingerprint %s, want %s", ErrModuleMismatch, saved.Fingerprint, s.fingerprint)
	}
	if len(saved.Modules) != len(s.steps) {
		return fmt.Errorf("%w: saved %d modules, have %d", ErrModuleMismatch, len(saved.Modules), len(s.steps))
	}
	for _, m := range s.steps {
		sm, ok := saved.Modules[m.Name()]
		if !ok {
			return fmt.Errorf("%w: %s is not in the saved state", ErrModuleMismatch, m.Name())
		}
		if !slices.Equal(sm.In, m.Inputs()) || !slices.Equal(sm.Out, m.Outputs()) {
			return fmt.Errorf("%w: %s declares different inputs or outputs", ErrModuleMismatch, m.Name())
		}
		for _, out := range sm.UnusedOut {
			s.masked[m.Name()][out] = true
		}
	}
	return nil
}

type pendingItem struct {
	id   string
	item string
	data savedItem
}

type pendingJob struct {
	id   string
	mod  module.Module
	data savedJob
}

func (s *State) restoreInstances(saved savedState) error {
	var items []pendingItem
	for _, item := range ir.SortedKeys(saved.ItemInstances) {
		for _, id := range ir.SortedKeys(saved.ItemInstances[item]) {
			items = append(items, pendingItem{id: id, item: item, data: saved.ItemInstances[item][id]})
		}
	}
	var jobs []pendingJob
	for _, name := range ir.SortedKeys(saved.ModuleExecutions) {
		m, ok := s.byName[name]
		if !ok {
			return fmt.Errorf("%w: jobs for unknown module %s", ErrCorruptState, name)
		}
		for _, id := range ir.SortedKeys(saved.ModuleExecutions[name]) {
			jobs = append(jobs, pendingJob{id: id, mod: m, data: saved.ModuleExecutions[name][id]})
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].data.Seq < jobs[b].data.Seq })

	pending := make(map[string]bool, len(saved.PendingJobs))
	for _, id := range saved.PendingJobs {
		pending[id] = true
	}

	for len(items) > 0 || len(jobs) > 0 {
		progress := false

		rest := items[:0]
		for _, p := range items {
			var madeBy *JobInstance
			if p.data.MadeBy != "" {
				madeBy = s.jobs[p.data.MadeBy]
				if madeBy == nil {
					rest = append(rest, p)
					continue
				}
			}
			s.register(&ItemInstance{ID: p.id, Item: p.item, Value: p.data.Value, MadeBy: madeBy, seq: p.data.Seq})
			s.issued[p.id] = true
			progress = true
		}
		items = rest

		restJobs := jobs[:0]
		for _, p := range jobs {
			inputs, ok := s.resolve(p.data.Inputs)
			if !ok {
				restJobs = append(restJobs, p)
				continue
			}
			job := &JobInstance{ID: p.id, Module: p.mod, Inputs: inputs, Complete: !pending[p.id], seq: p.data.Seq}
			s.jobs[job.ID] = job
			s.signatures[signature(p.mod.Name(), inputs)] = job
			s.issued[job.ID] = true
			if job.seq > s.seq {
				s.seq = job.seq
			}
			progress = true
		}
		jobs = restJobs

		if !progress {
			return fmt.Errorf("%w: %d items and %d jobs reference unknown ids", ErrCorruptState, len(items), len(jobs))
		}
	}

	// Instances register in passes; candidates cross in registration order.
	for _, insts := range s.lookup {
		slices.SortStableFunc(insts, func(a, b *ItemInstance) int { return cmp.Compare(a.seq, b.seq) })
	}

	// Outputs reference items that only exist once their job does.
	for name, byID := range saved.ModuleExecutions {
		for id, sj := range byID {
			job := s.jobs[id]
			if !job.Complete {
				continue
			}
			outputs, ok := s.resolve(sj.Outputs)
			if !ok {
				return fmt.Errorf("%w: job %s of %s lists unknown outputs", ErrCorruptState, id, name)
			}
			job.Outputs = outputs
		}
	}

	for _, id := range saved.PendingJobs {
		job, ok := s.jobs[id]
		if !ok {
			return fmt.Errorf("%w: unknown pending job %s", ErrCorruptState, id)
		}
		s.pending[id] = job
	}
	for id, msg := range saved.FailedJobs {
		if _, ok := s.pending[id]; ok {
			s.failed[id] = msg
		}
	}
	for _, id := range saved.Given {
		if _, ok := s.items[id]; !ok {
			return fmt.Errorf("%w: unknown given item %s", ErrCorruptState, id)
		}
		s.given = append(s.given, id)
	}
	for _, itemID := range ir.SortedKeys(saved.Reservations) {
		if _, ok := s.items[itemID]; !ok {
			return fmt.Errorf("%w: reservation for unknown item %s", ErrCorruptState, itemID)
		}
		for _, jobID := range saved.Reservations[itemID] {
			job, ok := s.jobs[jobID]
			if !ok {
				return fmt.Errorf("%w: reservation by unknown job %s", ErrCorruptState, jobID)
			}
			s.reservations[itemID] = append(s.reservations[itemID], job)
		}
	}
	return nil
}

// resolve maps saved instance ids back to instances.
func (s *State) resolve(ids map[string][]string) (map[string][]*ItemInstance, bool) {
	out := make(map[string][]*ItemInstance, len(ids))
	for item, list := range ids {
		insts := make([]*ItemInstance, len(list))
		for i, id := range list {
			ii, ok := s.items[id]
			if !ok {
				return nil, false
			}
			insts[i] = ii
		}
		out[item] = insts
	}
	return out, true
}

// IsCorrupt reports whether err means a saved state could not be rebuilt.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptState)
}

// Summary describes a saved state without rebuilding it.
type Summary struct {
	Fingerprint string
	Modules     []string          // sorted
	Jobs        map[string]int    // module -> jobs
	Completed   map[string]int    // module -> completed jobs
	Pending     []string          // sorted job ids
	Failed      map[string]string // job id -> cause
	Items       map[string]int    // item -> instances
	Given       int
}

// Inspect reads a workspace's saved state for reporting. Unlike
// LoadFromDisk it needs no modules and does not validate lineage.
func Inspect(workspace string) (*Summary, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var saved savedState
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	pending := make(map[string]bool, len(saved.PendingJobs))
	for _, id := range saved.PendingJobs {
		pending[id] = true
	}
	sum := &Summary{
		Fingerprint: saved.Fingerprint,
		Modules:     ir.SortedKeys(saved.Modules),
		Jobs:        map[string]int{},
		Completed:   map[string]int{},
		Pending:     append([]string{}, saved.PendingJobs...),
		Failed:      map[string]string{},
		Items:       map[string]int{},
		Given:       len(saved.Given),
	}
	sort.Strings(sum.Pending)
	for name, jobs := range saved.ModuleExecutions {
		sum.Jobs[name] = len(jobs)
		for id := range jobs {
			if !pending[id] {
				sum.Completed[name]++
			}
		}
	}
	for id, cause := range saved.FailedJobs {
		sum.Failed[id] = cause
	}
	for item, insts := range saved.ItemInstances {
		sum.Items[item] = len(insts)
	}
	return sum, nil
}
