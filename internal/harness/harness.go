package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
	"github.com/roach88/pipewright/internal/store"
	"github.com/roach88/pipewright/internal/testutil"
	"github.com/roach88/pipewright/internal/workflow"
)

// ErrScriptedFailure is the error scripted module failures report.
var ErrScriptedFailure = errors.New("scripted failure")

// Harness runs the steps of one scenario against one workspace.
type Harness struct {
	scenario  *Scenario
	library   []module.Module
	workspace string
	journal   *store.Store
	ids       *testutil.SequentialIDs
	runIDs    *testutil.SequentialIDs
}

// Run executes a scenario in dir and evaluates its assertions.
//
// The workspace is dir/ws and the journal dir/journal.db; dir should be
// empty. Run errors are recorded in the result, not returned. The returned
// error reports a scenario that could not be executed at all.
func Run(ctx context.Context, scenario *Scenario, dir string) (*Result, error) {
	library, err := BuildModules(scenario.Modules)
	if err != nil {
		return nil, err
	}
	journal, err := store.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	h := &Harness{
		scenario:  scenario,
		library:   library,
		workspace: filepath.Join(dir, "ws"),
		journal:   journal,
		ids:       testutil.NewSequentialIDs("j"),
		runIDs:    testutil.NewSequentialIDs("run"),
	}

	result := NewResult()
	for i, step := range scenario.Runs {
		rr, trace, err := h.runStep(ctx, step, i+1)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		result.Runs = append(result.Runs, rr)
		result.Trace = append(result.Trace, trace...)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, step RunStep, n int) (RunResult, []TraceEvent, error) {
	wf, err := workflow.New(h.library,
		workflow.WithIDGenerator(h.ids),
		workflow.WithRunIDGenerator(h.runIDs),
		workflow.WithJournal(h.journal),
		workflow.WithRegenerate(step.Regenerate...),
		workflow.WithRetryFailed(step.RetryFailed),
	)
	if err != nil {
		return RunResult{}, nil, err
	}

	ex := testutil.NewScriptedExecutor()
	for _, name := range step.Fail {
		ex.Fail(name, ErrScriptedFailure)
	}

	rr := RunResult{Outputs: map[string][]string{}, Jobs: map[string]int{}}
	report, runErr := wf.Run(ctx, h.workspace, h.scenario.Targets, h.scenario.Given, ex)
	var re *workflow.RunError
	switch {
	case errors.As(runErr, &re):
		rr.ErrorCode = string(re.Code)
	case runErr != nil:
		return RunResult{}, nil, runErr
	}

	if report != nil {
		rr.RunID = report.RunID
		rr.Plan = report.Plan.Names()
		rr.Completed = len(report.Completed)
		rr.Failed = len(report.Failed)
		rr.Outstanding = len(report.Outstanding)
		for item, values := range report.Outputs {
			rr.Outputs[item] = sortedCopy(values)
		}
		archived, err := h.journal.ReadArchive(ctx, report.RunID)
		if err != nil {
			return RunResult{}, nil, fmt.Errorf("failed to read archive: %w", err)
		}
		rr.Archived = len(archived)
	}

	calls := ex.Calls()
	trace := make([]TraceEvent, 0, len(calls))
	for _, c := range calls {
		rr.Jobs[c.Module]++
		ev := TraceEvent{Run: n, Module: c.Module, Inputs: normalize(c.Inputs)}
		if c.Err != nil {
			ev.Error = c.Err.Error()
		} else {
			ev.Outputs = normalize(c.Output)
		}
		trace = append(trace, ev)
	}
	sortTrace(trace)
	return rr, trace, nil
}

// BuildModules constructs the scripted modules of specs.
func BuildModules(specs []ModuleSpec) ([]module.Module, error) {
	mods := make([]module.Module, 0, len(specs))
	for _, spec := range specs {
		def := module.Definition{Name: spec.Name, Kind: "scripted", Outputs: spec.Outputs}
		for _, in := range spec.Inputs {
			def.Inputs = append(def.Inputs, module.Input{Item: in.Item, GroupBy: in.GroupBy})
		}
		m, err := module.NewFunc(def, emitter(spec))
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// emitter expands spec's templates against each job's inputs.
func emitter(spec ModuleSpec) module.RunFunc {
	return func(_ context.Context, job *module.JobContext) (module.Manifest, error) {
		pairs := make([]string, 0, 2*len(job.Inputs))
		for item, values := range job.Inputs {
			pairs = append(pairs, "{"+item+"}", strings.Join(sortedCopy(values), "+"))
		}
		r := strings.NewReplacer(pairs...)

		out := make(module.Manifest, len(spec.Outputs))
		for _, item := range spec.Outputs {
			for _, tmpl := range spec.Emit[item] {
				out[item] = append(out[item], r.Replace(tmpl))
			}
		}
		return out, nil
	}
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}

func normalize(m module.Manifest) map[string][]string {
	out := make(map[string][]string, len(m))
	for item, values := range m {
		out[item] = sortedCopy(values)
	}
	return out
}

// sortTrace orders events by run, module and canonical inputs.
func sortTrace(trace []TraceEvent) {
	type keyed struct {
		ev     TraceEvent
		inputs string
	}
	ks := make([]keyed, len(trace))
	for i, e := range trace {
		b, err := ir.MarshalCanonical(e.Inputs)
		if err != nil {
			b = []byte(fmt.Sprint(e.Inputs))
		}
		ks[i] = keyed{ev: e, inputs: string(b)}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.ev.Run != b.ev.Run {
			return a.ev.Run < b.ev.Run
		}
		if a.ev.Module != b.ev.Module {
			return a.ev.Module < b.ev.Module
		}
		return a.inputs < b.inputs
	})
	for i := range ks {
		trace[i] = ks[i].ev
	}
}
