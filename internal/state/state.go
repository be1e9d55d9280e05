package state

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/viant/afs"

	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
)

// FileName is the name of the saved state inside the workspace.
const FileName = "workflow_state.json"

// State is the instance store of one workspace.
type State struct {
	mu sync.Mutex

	workspace string
	steps     []module.Module
	byName    map[string]module.Module

	// masked holds, per module, outputs whose values are discarded because
	// an earlier step or the given data already provides the item.
	masked map[string]map[string]bool

	// groupPaths holds the lineage path for every (item, group-by) pair,
	// as [by, module, item, ..., module, item].
	groupPaths   map[groupKey][]string
	inputToSteps map[string][]module.Module

	fingerprint string
	ids         IDGenerator
	fs          afs.Service
	issued      map[string]bool
	seq         int64
	itemSeq     int64

	jobs         map[string]*JobInstance
	signatures   map[string]*JobInstance
	pending      map[string]*JobInstance
	failed       map[string]string
	items        map[string]*ItemInstance
	lookup       map[string][]*ItemInstance
	given        []string
	reservations map[string][]*JobInstance

	changed bool
}

type groupKey struct {
	item string
	by   string
}

// Option configures a State.
type Option func(*State)

// WithIDGenerator sets the id generator. Defaults to RandomIDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *State) {
		s.ids = g
	}
}

// WithFileService sets the file service used to relocate invalidated job
// folders. Defaults to afs.New().
func WithFileService(fs afs.Service) Option {
	return func(s *State) {
		s.fs = fs
	}
}

func newState(workspace string, steps []module.Module, opts []Option) (*State, error) {
	s := &State{
		workspace:    workspace,
		steps:        steps,
		byName:       make(map[string]module.Module, len(steps)),
		masked:       make(map[string]map[string]bool, len(steps)),
		groupPaths:   make(map[groupKey][]string),
		inputToSteps: make(map[string][]module.Module),
		ids:          RandomIDs{},
		issued:       make(map[string]bool),
		jobs:         make(map[string]*JobInstance),
		signatures:   make(map[string]*JobInstance),
		pending:      make(map[string]*JobInstance),
		failed:       make(map[string]string),
		items:        make(map[string]*ItemInstance),
		lookup:       make(map[string][]*ItemInstance),
		reservations: make(map[string][]*JobInstance),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}

	for _, m := range steps {
		if _, dup := s.byName[m.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
		}
		s.byName[m.Name()] = m
		s.masked[m.Name()] = map[string]bool{}
		for _, in := range m.Inputs() {
			s.inputToSteps[in.Item] = append(s.inputToSteps[in.Item], m)
		}
	}

	fp, err := ModuleSetFingerprint(steps)
	if err != nil {
		return nil, err
	}
	s.fingerprint = fp
	return s, nil
}

// MakeNew creates a store for steps, in plan order, seeded with the given
// values per item.
//
// Outputs are masked in plan order: the first step producing an item owns
// it, and given items mask every producer.
func MakeNew(workspace string, steps []module.Module, given map[string][]string, opts ...Option) (*State, error) {
	s, err := newState(workspace, steps, opts)
	if err != nil {
		return nil, err
	}

	for _, item := range ir.SortedKeys(given) {
		for _, value := range given[item] {
			ii := &ItemInstance{ID: s.newID(), Item: item, Value: value}
			s.register(ii)
			s.given = append(s.given, ii.ID)
		}
	}

	produced := map[string]string{}
	for _, m := range steps {
		for _, out := range m.Outputs() {
			if owner, ok := produced[out]; ok {
				slog.Info("masking output already produced", "module", m.Name(), "item", out, "producer", owner)
				s.masked[m.Name()][out] = true
			} else if _, ok := given[out]; ok {
				slog.Info("masking output already given", "module", m.Name(), "item", out)
				s.masked[m.Name()][out] = true
			} else {
				produced[out] = m.Name()
			}
		}
	}

	if err := s.computeGroupPaths(); err != nil {
		return nil, err
	}
	s.changed = true
	return s, nil
}

// ModuleSetFingerprint summarizes the declared inputs and outputs of steps.
// A saved state only resumes under the same fingerprint.
func ModuleSetFingerprint(steps []module.Module) (string, error) {
	desc := make(map[string]any, len(steps))
	for _, m := range steps {
		ins := make([]any, 0, len(m.Inputs()))
		for _, in := range m.Inputs() {
			ins = append(ins, map[string]any{"item": in.Item, "group_by": in.GroupBy})
		}
		desc[m.Name()] = map[string]any{"in": ins, "out": m.Outputs()}
	}
	return ir.Fingerprint(ir.DomainModules, desc)
}

func (s *State) newID() string {
	for {
		id := s.ids.Generate()
		if !s.issued[id] {
			s.issued[id] = true
			return id
		}
	}
}

func (s *State) register(ii *ItemInstance) {
	if ii.seq == 0 {
		s.itemSeq++
		ii.seq = s.itemSeq
	} else if ii.seq > s.itemSeq {
		s.itemSeq = ii.seq
	}
	s.items[ii.ID] = ii
	s.lookup[ii.Item] = append(s.lookup[ii.Item], ii)
}

func (s *State) computeGroupPaths() error {
	for _, m := range s.steps {
		for _, in := range m.Inputs() {
			if !in.Grouped() || in.GroupBy == in.Item {
				continue
			}
			path := s.findGroupPath(in.GroupBy, in.Item)
			if path == nil {
				return fmt.Errorf("%w: %s groups %s by %s, but no chain of modules connects them",
					ErrInvalidGrouping, m.Name(), in.Item, in.GroupBy)
			}
			s.groupPaths[groupKey{item: in.Item, by: in.GroupBy}] = path
		}
	}
	return nil
}

// findGroupPath returns the longest path from item start to item target
// through consuming modules and their unmasked outputs.
func (s *State) findGroupPath(start, target string) []string {
	type todo struct {
		node string
		path []string
	}
	stack := []todo{{node: start}}
	var best []string
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.node == target && len(t.path)+1 > len(best) {
			best = append(slices.Clone(t.path), t.node)
		}
		if slices.Contains(t.path, t.node) {
			continue
		}
		for _, m := range s.inputToSteps[t.node] {
			for _, out := range m.Outputs() {
				if s.masked[m.Name()][out] {
					continue
				}
				next := append(slices.Clone(t.path), t.node, m.Name())
				stack = append(stack, todo{node: out, path: next})
			}
		}
	}
	return best
}

// Workspace returns the workspace directory.
func (s *State) Workspace() string {
	return s.workspace
}

// Fingerprint returns the module-set fingerprint.
func (s *State) Fingerprint() string {
	return s.fingerprint
}

// Masked returns the masked outputs of a module, sorted.
func (s *State) Masked(moduleName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSet(s.masked[moduleName])
}

// GroupPath returns the lineage path used to group item by an upstream item.
func (s *State) GroupPath(item, by string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.groupPaths[groupKey{item: item, by: by}])
}

// Job returns the job with the given id.
func (s *State) Job(id string) (*JobInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Jobs returns every job in creation order.
func (s *State) Jobs() []*JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bySeq(s.jobs)
}

// Pending returns incomplete jobs in creation order, failed ones included.
func (s *State) Pending() []*JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bySeq(s.pending)
}

// Runnable returns pending jobs that have not failed, in creation order.
func (s *State) Runnable() []*JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*JobInstance
	for _, j := range bySeq(s.pending) {
		if _, failed := s.failed[j.ID]; !failed {
			out = append(out, j)
		}
	}
	return out
}

// Failed returns the failure message of every failed job.
func (s *State) Failed() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.failed))
	for id, msg := range s.failed {
		out[id] = msg
	}
	return out
}

// Items returns the instances of an item in registration order.
func (s *State) Items(item string) []*ItemInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lookup[item])
}

// Item returns the instance with the given id.
func (s *State) Item(id string) (*ItemInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ii, ok := s.items[id]
	return ii, ok
}

// ItemNames returns every item with at least one instance, sorted.
func (s *State) ItemNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.lookup))
	for name, insts := range s.lookup {
		if len(insts) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Given returns the ids of the given instances.
func (s *State) Given() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.given)
}

// Reservations returns the jobs that consumed an item instance, in the
// order they were created.
func (s *State) Reservations(itemID string) []*JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reservations[itemID])
}

func bySeq(m map[string]*JobInstance) []*JobInstance {
	out := make([]*JobInstance, 0, len(m))
	for _, j := range m {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].seq < out[b].seq })
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
