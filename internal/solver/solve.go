// Package solver finds the cheapest sequence of transform applications that
// turns given endpoints into the inputs of a target transform.
//
// The search is two mutually recursive procedures:
//
//   - solveDependency: every way to obtain an endpoint satisfying one
//     requirement, either directly from the given data or by applying a
//     producing transform.
//   - solveTransform: every consistent binding of a transform's
//     requirements, built from the cross product of per-requirement
//     candidates.
//
// solveTransform results are memoized by a structural signature. A stack of
// in-progress signatures breaks cycles in the transform library, and its
// depth is bounded by a horizon. Results cut short by either are not
// memoized.
//
// The solver is synchronous and single-threaded. All state lives in one
// solver value per call.
package solver

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/pipewright/internal/kind"
)

// DefaultHorizon is the default recursion depth limit.
const DefaultHorizon = 64

// Result is one complete plan.
type Result struct {
	// Steps is the number of applications in Plan.
	Steps int

	// Application binds the target transform's requirements.
	Application *kind.Application

	// Plan holds the applications that produce Application's inputs, in an
	// order where every application follows the ones it consumes from.
	Plan []*kind.Application
}

// Option configures a solve call.
type Option func(*solver)

// WithHorizon sets the recursion depth limit.
//
// Default: 64 (DefaultHorizon)
func WithHorizon(depth int) Option {
	return func(s *solver) {
		s.horizon = depth
	}
}

// WithLineage seeds a lineage requirement at the top level: no candidate for
// a requirement of kind proto may descend from a different endpoint of that
// kind than e.
func WithLineage(proto *kind.Dependency, e *kind.Endpoint) Option {
	return func(s *solver) {
		s.pins = append(s.pins, lineageReq{proto: proto, endpoint: e})
	}
}

// lineageReq binds a prototype to the endpoint that must be the ancestor of
// that kind.
type lineageReq struct {
	proto    *kind.Dependency
	endpoint *kind.Endpoint
}

// candidate is one way to obtain an endpoint for a dependency.
type candidate struct {
	steps    int
	plan     []*kind.Application
	endpoint *kind.Endpoint
}

type solver struct {
	have    []kind.Binding
	haveSig string
	library []*kind.Transform
	horizon int
	pins    []lineageReq

	memo    map[string][]*Result
	applied map[string]*kind.Application
	stack   *frameStack

	horizonHit bool
}

// Solve returns the cheapest plan, or a *PlanError if there is none.
func Solve(given []*kind.Endpoint, target *kind.Transform, library []*kind.Transform, opts ...Option) (*Result, error) {
	results, err := SolveAll(given, target, library, opts...)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// SolveAll returns every plan found, ordered by ascending step count.
// Returns a *PlanError if there is none.
func SolveAll(given []*kind.Endpoint, target *kind.Transform, library []*kind.Transform, opts ...Option) ([]*Result, error) {
	s := &solver{
		library: library,
		horizon: DefaultHorizon,
		memo:    make(map[string][]*Result),
		applied: make(map[string]*kind.Application),
		stack:   newFrameStack(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// The given data enters the search as the products of a synthetic
	// zero-cost transform.
	input := kind.NewTransform(target.Namespace(), "given")
	keys := make([]string, 0, len(given))
	for _, e := range given {
		proto := input.AddProduct(e.Properties().Sorted()...)
		s.have = append(s.have, kind.Binding{Endpoint: e, Proto: proto})
		keys = append(keys, e.Key())
	}
	sort.Strings(keys)
	s.haveSig = strings.Join(keys, "")

	results := s.solveTransform(target, s.pins)
	if len(results) == 0 {
		if s.horizonHit {
			return nil, &PlanError{
				Code:    ErrCodeHorizonExceeded,
				Message: "search horizon reached before any plan was found",
				Target:  target.Name(),
			}
		}
		return nil, &PlanError{
			Code:    ErrCodeUnsatisfiable,
			Message: "no sequence of transforms connects the given data to the target",
			Target:  target.Name(),
		}
	}

	out := make([]*Result, len(results))
	for i, r := range results {
		plan := prune(r.Plan, r.Application)
		out[i] = &Result{Steps: len(plan), Application: r.Application, Plan: plan}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Steps < out[j].Steps })

	slog.Debug("plan solved",
		"target", target.Name(),
		"solutions", len(out),
		"steps", out[0].Steps,
		"memo", len(s.memo),
	)
	return out, nil
}

// solveDependency returns every way to obtain an endpoint satisfying target
// under the active lineage requirements.
func (s *solver) solveDependency(target *kind.Dependency, reqs []lineageReq) []candidate {
	if s.stack.Depth() >= s.horizon {
		s.horizonHit = true
		s.stack.CutHorizon()
		return nil
	}

	var cands []candidate
	for _, h := range s.have {
		if !h.Endpoint.IsA(target) {
			continue
		}
		if !admissible(h.Endpoint, h.Proto, reqs) {
			continue
		}
		cands = append(cands, candidate{endpoint: h.Endpoint})
	}

	for _, tr := range s.producersOf(target) {
		for _, res := range s.solveTransform(tr, reqs) {
			ep := firstProducedIsA(res.Application, target)
			if ep == nil || !ep.SatisfiesLineage(target) {
				continue
			}
			plan := make([]*kind.Application, len(res.Plan), len(res.Plan)+1)
			copy(plan, res.Plan)
			plan = append(plan, res.Application)
			cands = append(cands, candidate{steps: res.Steps + 1, plan: plan, endpoint: ep})
		}
	}
	return cands
}

// admissible reports whether a given endpoint may stand in while reqs are
// active. An endpoint is rejected when it is itself of a pinned kind other
// than the pinned endpoint, or when it descends from a different endpoint of
// a pinned kind. Ancestors of a more general kind than the pinned one do not
// count.
func admissible(e *kind.Endpoint, proto *kind.Dependency, reqs []lineageReq) bool {
	for _, r := range reqs {
		if e == r.endpoint {
			continue
		}
		if proto.IsA(r.proto) {
			return false
		}
		for _, a := range e.Ancestry() {
			if a.Proto.IsA(r.proto) && a.Endpoint != r.endpoint {
				return false
			}
		}
	}
	return true
}

func (s *solver) producersOf(target *kind.Dependency) []*kind.Transform {
	var out []*kind.Transform
	for _, tr := range s.library {
		for _, p := range tr.Produces() {
			if p.IsA(target) {
				out = append(out, tr)
				break
			}
		}
	}
	return out
}

func firstProducedIsA(app *kind.Application, target *kind.Dependency) *kind.Endpoint {
	for _, b := range app.Produced {
		if b.Endpoint.IsA(target) {
			return b.Endpoint
		}
	}
	return nil
}

// signature keys a solveTransform sub-problem.
func (s *solver) signature(target *kind.Transform, reqs []lineageReq) string {
	pairs := make([]string, len(reqs))
	for i, r := range reqs {
		pairs[i] = r.proto.Key() + r.endpoint.Key()
	}
	sort.Strings(pairs)
	return s.haveSig + ":" + target.Key() + ":" + strings.Join(pairs, "")
}

// solveTransform returns every consistent binding of target's requirements,
// ordered by ascending step count.
func (s *solver) solveTransform(target *kind.Transform, reqs []lineageReq) []*Result {
	sig := s.signature(target, reqs)
	if res, ok := s.memo[sig]; ok {
		return res
	}
	if s.stack.WouldCycle(sig) {
		s.stack.CutCycle(sig)
		return nil
	}
	s.stack.Push(sig)
	defer s.stack.Pop()

	requires := target.Requires()
	options := make([][]candidate, len(requires))
	for i, req := range requires {
		// A requirement of a pinned kind is free to be satisfied by any
		// endpoint of that kind.
		var sub []lineageReq
		for _, r := range reqs {
			if !req.IsA(r.proto) {
				sub = append(sub, r)
			}
		}
		cands := s.solveDependency(req, sub)
		if len(cands) == 0 {
			return nil
		}
		options[i] = cands
	}

	var results []*Result
	for _, inputs := range gather(target, options) {
		app := s.apply(target, inputs)
		if app == nil {
			continue
		}
		plan := consolidate(app, inputs)
		results = append(results, &Result{Steps: len(plan), Application: app, Plan: plan})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Steps < results[j].Steps })

	if s.stack.Complete() {
		s.memo[sig] = results
	}
	return results
}

// gather enumerates the cross product of per-requirement candidates, keeping
// combinations where no endpoint is bound twice and every lineage parent is
// the closest matching ancestor of its dependents.
func gather(target *kind.Transform, options [][]candidate) [][]candidate {
	requires := target.Requires()
	var valid [][]candidate
	chosen := make([]candidate, 0, len(requires))

	var walk func(i int)
	walk = func(i int) {
		if i == len(requires) {
			valid = append(valid, append([]candidate(nil), chosen...))
			return
		}
		req := requires[i]
	next:
		for _, c := range options[i] {
			for _, prev := range chosen {
				if prev.endpoint == c.endpoint {
					continue next
				}
			}
			if !c.endpoint.SatisfiesLineage(req) {
				continue
			}
			for _, lp := range req.LineageParents() {
				bound := chosen[target.IndexOf(lp)].endpoint
				if c.endpoint.ClosestAncestor(lp) != bound {
					continue next
				}
			}
			chosen = append(chosen, c)
			walk(i + 1)
			chosen = chosen[:len(chosen)-1]
		}
	}
	walk(0)
	return valid
}

// apply returns the application of target to inputs, reusing an earlier one
// for the same bindings so endpoint identity is stable across branches.
func (s *solver) apply(target *kind.Transform, inputs []candidate) *kind.Application {
	var sb strings.Builder
	eps := make([]*kind.Endpoint, len(inputs))
	for i, c := range inputs {
		eps[i] = c.endpoint
		sb.WriteString(c.endpoint.Key())
		sb.WriteString(target.Requires()[i].Key())
	}
	key := sb.String()
	if app, ok := s.applied[key]; ok {
		return app
	}
	app, err := target.Apply(eps)
	if err != nil {
		// gather already enforced every rule Apply checks
		slog.Warn("discarding inconsistent binding", "transform", target.Name(), "error", err)
		return nil
	}
	s.applied[key] = app
	return app
}

// consolidate merges the sub-plans of every input, dropping applications
// whose outputs are all already produced by a sibling sub-plan.
func consolidate(app *kind.Application, inputs []candidate) []*kind.Application {
	seen := make(map[string]bool)
	for _, b := range app.Produced {
		seen[b.Endpoint.Signature()] = true
	}

	var plan []*kind.Application
	for _, c := range inputs {
		for _, a := range c.plan {
			fresh := false
			for _, b := range a.Produced {
				if !seen[b.Endpoint.Signature()] {
					fresh = true
					break
				}
			}
			if !fresh {
				continue
			}
			plan = append(plan, a)
			for _, b := range a.Produced {
				seen[b.Endpoint.Signature()] = true
			}
		}
	}
	return plan
}
