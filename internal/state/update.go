package state

import (
	"log/slog"
	"maps"

	"github.com/roach88/pipewright/internal/module"
)

// group is the set of instances of one item descending from one root
// instance of the group-by item.
type group struct {
	root    *ItemInstance
	members []*ItemInstance
}

// binding is one partial input combination under construction.
type binding struct {
	space map[string][]*ItemInstance
	roots map[string]*ItemInstance
}

func (b binding) with(item string, insts []*ItemInstance) binding {
	next := binding{space: maps.Clone(b.space), roots: maps.Clone(b.roots)}
	next.space[item] = append(append([]*ItemInstance(nil), next.space[item]...), insts...)
	return next
}

// combinations expands bindings input by input.
type combinations struct {
	bindings []binding
}

func newCombinations() *combinations {
	return &combinations{bindings: []binding{{
		space: map[string][]*ItemInstance{},
		roots: map[string]*ItemInstance{},
	}}}
}

// cross binds every candidate on its own against every existing binding.
func (c *combinations) cross(item string, candidates []*ItemInstance) {
	var next []binding
	for _, b := range c.bindings {
		for _, ii := range candidates {
			next = append(next, b.with(item, []*ItemInstance{ii}))
		}
	}
	c.bindings = next
}

// crossGroup binds every group against every existing binding and records
// the group's root.
func (c *combinations) crossGroup(item, by string, groups []group) {
	var next []binding
	for _, b := range c.bindings {
		for _, g := range groups {
			nb := b.with(item, g.members)
			nb.roots[by] = g.root
			next = append(next, nb)
		}
	}
	c.bindings = next
}

// mergeGroup extends each binding with the group sharing its root, and
// drops bindings whose root has no such group.
func (c *combinations) mergeGroup(item, by string, groups []group) {
	byRoot := make(map[string]group, len(groups))
	for _, g := range groups {
		byRoot[g.root.ID] = g
	}
	var next []binding
	for _, b := range c.bindings {
		root := b.roots[by]
		if root == nil {
			continue
		}
		g, ok := byRoot[root.ID]
		if !ok {
			continue
		}
		next = append(next, b.with(item, g.members))
	}
	c.bindings = next
}

// Update schedules a job for every new input combination of every step
// whose inputs are all available. Returns the jobs created. Calling Update
// again without new data creates nothing.
func (s *State) Update() []*JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created []*JobInstance
	for _, m := range s.steps {
		if !s.satisfied(m) {
			continue
		}
		for _, b := range s.gather(m) {
			sig := signature(m.Name(), b.space)
			if _, seen := s.signatures[sig]; seen {
				continue
			}
			s.seq++
			job := &JobInstance{ID: s.newID(), Module: m, Inputs: b.space, seq: s.seq}
			s.jobs[job.ID] = job
			s.signatures[sig] = job
			s.pending[job.ID] = job
			for _, ii := range job.InputInstances() {
				s.reserve(ii, job)
			}
			created = append(created, job)
			slog.Debug("job scheduled", "job_id", job.ID, "module", m.Name())
		}
	}
	if len(created) > 0 {
		s.changed = true
	}
	return created
}

func (s *State) satisfied(m module.Module) bool {
	for _, in := range m.Inputs() {
		if len(s.lookup[in.Item]) == 0 {
			return false
		}
	}
	return true
}

func (s *State) reserve(ii *ItemInstance, job *JobInstance) {
	for _, j := range s.reservations[ii.ID] {
		if j == job {
			return
		}
	}
	s.reservations[ii.ID] = append(s.reservations[ii.ID], job)
}

// gather computes the legal input combinations of m.
//
// A plain input binds each instance on its own. A grouped input binds all
// instances descending from one root instance together. The first input
// grouped by a root crosses its groups with the bindings so far; later
// inputs grouped by the same root join on it. A plain input that another
// input groups by is bound as its own one-member groups so the join holds.
func (s *State) gather(m module.Module) []binding {
	roots := map[string]bool{}
	for _, in := range m.Inputs() {
		if in.Grouped() {
			roots[in.GroupBy] = true
		}
	}

	c := newCombinations()
	seenRoots := map[string]bool{}
	for _, in := range m.Inputs() {
		by := in.GroupBy
		if by == "" && roots[in.Item] {
			by = in.Item
		}
		if by == "" {
			c.cross(in.Item, s.lookup[in.Item])
			continue
		}
		groups := s.groupBy(in.Item, by)
		if len(groups) == 0 {
			return nil
		}
		if seenRoots[by] {
			c.mergeGroup(in.Item, by, groups)
		} else {
			c.crossGroup(in.Item, by, groups)
			seenRoots[by] = true
		}
	}
	return c.bindings
}

// groupBy groups the instances of item by their ancestor instance of by.
// A root whose chain still has pending jobs, or whose intermediate
// instances have not been consumed yet, is left out until it completes.
func (s *State) groupBy(item, by string) []group {
	starts := s.lookup[by]
	if len(starts) == 0 {
		return nil
	}
	if item == by {
		groups := make([]group, len(starts))
		for i, ii := range starts {
			groups[i] = group{root: ii, members: []*ItemInstance{ii}}
		}
		return groups
	}
	path := s.groupPaths[groupKey{item: item, by: by}]
	if path == nil {
		return nil
	}

	var groups []group
	for _, root := range starts {
		if members := s.collect(root, item, path); len(members) > 0 {
			groups = append(groups, group{root: root, members: members})
		}
	}
	return groups
}

// collect walks path breadth-first from root and returns the instances of
// target it reaches, or nil if the chain is incomplete.
func (s *State) collect(root *ItemInstance, target string, path []string) []*ItemInstance {
	type node struct {
		item  *ItemInstance
		job   *JobInstance
		depth int
	}
	var members []*ItemInstance
	seen := map[string]bool{}
	queue := []node{{item: root}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if n.item != nil && n.item.Item == target {
			if !seen[n.item.ID] {
				seen[n.item.ID] = true
				members = append(members, n.item)
			}
			continue
		}
		if n.depth+1 >= len(path) {
			continue
		}
		next := path[n.depth+1]

		if n.item != nil {
			var consumers []*JobInstance
			for _, j := range s.reservations[n.item.ID] {
				if j.Module.Name() == next {
					consumers = append(consumers, j)
				}
			}
			if len(consumers) == 0 {
				return nil
			}
			for _, j := range consumers {
				queue = append(queue, node{job: j, depth: n.depth + 1})
			}
			continue
		}

		if !n.job.Complete {
			return nil
		}
		for _, ii := range n.job.Outputs[next] {
			queue = append(queue, node{item: ii, depth: n.depth + 1})
		}
	}
	return members
}
