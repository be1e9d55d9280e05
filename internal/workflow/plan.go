package workflow

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/pipewright/internal/kind"
	"github.com/roach88/pipewright/internal/module"
	"github.com/roach88/pipewright/internal/solver"
)

// targetName names the synthetic transform that requires every target.
const targetName = "targets"

// Plan is a linearized solution: the modules to run, in order.
type Plan struct {
	// Steps lists the modules in an order where each follows the modules it
	// consumes from.
	Steps []module.Module

	// Upstream maps each step to every step it transitively depends on,
	// sorted.
	Upstream map[string][]string

	// Given and Targets are the item names the plan was solved for.
	Given   []string
	Targets []string

	// Result is the solver's plan.
	Result *solver.Result
}

// Names returns the step names in order.
func (p *Plan) Names() []string {
	out := make([]string, len(p.Steps))
	for i, m := range p.Steps {
		out[i] = m.Name()
	}
	return out
}

// String renders "a -> b -> c".
func (p *Plan) String() string {
	return strings.Join(p.Names(), " -> ")
}

// BuildPlan finds the cheapest sequence of library modules that turns the
// given items into the targets.
//
// Every item name becomes a single-property kind. Each module is one
// transform with a requirement per input; an input grouped by another input
// of the same module is declared a lineage child of it.
func BuildPlan(library []module.Module, given, targets []string, opts ...solver.Option) (*Plan, error) {
	if len(targets) == 0 {
		return nil, &RunError{Code: ErrCodeUnsatisfiablePlan, Message: "no targets"}
	}

	ns := kind.NewNamespace()
	byName := make(map[string]module.Module, len(library))
	transforms := make([]*kind.Transform, 0, len(library))
	for _, m := range library {
		if _, dup := byName[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate module %s", m.Name())
		}
		byName[m.Name()] = m
		t, err := moduleTransform(ns, m)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}

	target := kind.NewTransform(ns, targetName)
	for _, item := range targets {
		if _, err := target.AddRequirement([]string{item}); err != nil {
			return nil, err
		}
	}

	sortedGiven := slices.Clone(given)
	sort.Strings(sortedGiven)
	endpoints := make([]*kind.Endpoint, len(sortedGiven))
	for i, item := range sortedGiven {
		endpoints[i] = kind.NewEndpoint(ns, item)
	}

	res, err := solver.Solve(endpoints, target, transforms, opts...)
	if err != nil {
		return nil, &RunError{
			Code:    ErrCodeUnsatisfiablePlan,
			Message: fmt.Sprintf("no plan produces [%s] from [%s]", strings.Join(targets, ", "), strings.Join(sortedGiven, ", ")),
			Err:     err,
		}
	}

	p := linearize(res, byName)
	p.Given = sortedGiven
	p.Targets = slices.Clone(targets)
	slog.Info("linearized plan", "steps", p.String())
	return p, nil
}

func moduleTransform(ns *kind.Namespace, m module.Module) (*kind.Transform, error) {
	t := kind.NewTransform(ns, m.Name())

	isInput := make(map[string]bool, len(m.Inputs()))
	for _, in := range m.Inputs() {
		isInput[in.Item] = true
	}

	// A lineage child is added after the requirement it descends from.
	reqs := make(map[string]*kind.Dependency, len(m.Inputs()))
	rest := slices.Clone(m.Inputs())
	for len(rest) > 0 {
		var deferred []module.Input
		for _, in := range rest {
			var parents []*kind.Dependency
			if dependsOnSibling(in, isInput) {
				parent, ok := reqs[in.GroupBy]
				if !ok {
					deferred = append(deferred, in)
					continue
				}
				parents = append(parents, parent)
			}
			dep, err := t.AddRequirement([]string{in.Item}, parents...)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", m.Name(), err)
			}
			reqs[in.Item] = dep
		}
		if len(deferred) == len(rest) {
			return nil, NewLineageError(m.Name(), deferred[0].Item, deferred[0].GroupBy)
		}
		rest = deferred
	}
	for _, out := range m.Outputs() {
		t.AddProduct(out)
	}
	return t, nil
}

func dependsOnSibling(in module.Input, isInput map[string]bool) bool {
	return in.Grouped() && isInput[in.GroupBy] && in.GroupBy != in.Item
}

// linearize turns the solver's application order into distinct modules and
// computes each module's transitive upstream set.
func linearize(res *solver.Result, byName map[string]module.Module) *Plan {
	producer := map[*kind.Endpoint]string{}
	for _, app := range res.Plan {
		for _, b := range app.Produced {
			producer[b.Endpoint] = app.Transform.Name()
		}
	}

	p := &Plan{Upstream: map[string][]string{}, Result: res}
	seen := map[string]bool{}
	upstream := map[string]map[string]bool{}
	for _, app := range res.Plan {
		name := app.Transform.Name()
		if upstream[name] == nil {
			upstream[name] = map[string]bool{}
		}
		for _, b := range app.Used {
			if up, ok := producer[b.Endpoint]; ok {
				upstream[name][up] = true
			}
			for _, a := range b.Endpoint.Ancestry() {
				if up, ok := producer[a.Endpoint]; ok {
					upstream[name][up] = true
				}
			}
		}
		if !seen[name] {
			seen[name] = true
			p.Steps = append(p.Steps, byName[name])
		}
	}
	for name, ups := range upstream {
		delete(ups, name)
		list := make([]string, 0, len(ups))
		for up := range ups {
			list = append(list, up)
		}
		sort.Strings(list)
		p.Upstream[name] = list
	}
	return p
}

// CheckFeasible verifies that every target is produced by a step or given,
// and that every group-by item is given or consumed or produced by an
// upstream step.
func (p *Plan) CheckFeasible() error {
	available := map[string]bool{}
	for _, item := range p.Given {
		available[item] = true
	}
	for _, m := range p.Steps {
		for _, out := range m.Outputs() {
			available[out] = true
		}
	}
	var missing []string
	for _, t := range p.Targets {
		if !available[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &RunError{
			Code:    ErrCodeUnsatisfiablePlan,
			Message: fmt.Sprintf("no module produces [%s]", strings.Join(missing, ", ")),
		}
	}

	byName := make(map[string]module.Module, len(p.Steps))
	for _, m := range p.Steps {
		byName[m.Name()] = m
	}
	given := map[string]bool{}
	for _, item := range p.Given {
		given[item] = true
	}
	for _, m := range p.Steps {
		for _, in := range m.Inputs() {
			if !in.Grouped() || given[in.GroupBy] {
				continue
			}
			if !p.upstreamTouches(m, in.GroupBy, byName) {
				return NewLineageError(m.Name(), in.Item, in.GroupBy)
			}
		}
	}
	return nil
}

func (p *Plan) upstreamTouches(m module.Module, item string, byName map[string]module.Module) bool {
	for _, in := range m.Inputs() {
		if in.Item == item {
			return true
		}
	}
	for _, name := range p.Upstream[m.Name()] {
		up := byName[name]
		for _, in := range up.Inputs() {
			if in.Item == item {
				return true
			}
		}
		if slices.Contains(up.Outputs(), item) {
			return true
		}
	}
	return false
}
