package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/viant/afs"

	"github.com/roach88/pipewright/internal/executor"
	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
	"github.com/roach88/pipewright/internal/solver"
	"github.com/roach88/pipewright/internal/state"
	"github.com/roach88/pipewright/internal/store"
)

// Workflow plans and runs pipelines built from a module library.
//
// Thread-safety model:
//   - Plan(): safe from any goroutine
//   - Run(): one call per workspace at a time; the store it drives is owned
//     by the calling goroutine
type Workflow struct {
	library []module.Module

	horizon       int
	ids           state.IDGenerator
	runIDs        RunIDGenerator
	journal       *store.Store
	stopOnFailure bool
	retryFailed   bool
	regenerate    []string
	params        module.Params
	fs            afs.Service
}

// Option allows configuration of a Workflow.
type Option func(*Workflow)

// WithHorizon sets the planner's recursion depth limit.
//
// Default: 64 (solver.DefaultHorizon)
func WithHorizon(depth int) Option {
	return func(w *Workflow) {
		w.horizon = depth
	}
}

// WithIDGenerator sets the generator for job and item ids.
func WithIDGenerator(g state.IDGenerator) Option {
	return func(w *Workflow) {
		w.ids = g
	}
}

// WithRunIDGenerator sets the generator for journal run ids.
//
// Default: UUIDv7Generator
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(w *Workflow) {
		w.runIDs = g
	}
}

// WithJournal records runs, job events and invalidated records in s.
// The caller owns s and closes it.
func WithJournal(s *store.Store) Option {
	return func(w *Workflow) {
		w.journal = s
	}
}

// WithStopOnFailure stops launching jobs after the first failure. Jobs
// already running are still collected. By default independent branches keep
// running.
func WithStopOnFailure(stop bool) Option {
	return func(w *Workflow) {
		w.stopOnFailure = stop
	}
}

// WithRetryFailed makes jobs that failed in an earlier run runnable again.
func WithRetryFailed(retry bool) Option {
	return func(w *Workflow) {
		w.retryFailed = retry
	}
}

// WithRegenerate invalidates the named items, and everything derived from
// them, before the run schedules anything.
func WithRegenerate(items ...string) Option {
	return func(w *Workflow) {
		w.regenerate = append(w.regenerate, items...)
	}
}

// WithParams sets the resource hints handed to every job.
//
// Default: module.DefaultParams()
func WithParams(p module.Params) Option {
	return func(w *Workflow) {
		w.params = p
	}
}

// WithFileService sets the file service used for workspace plumbing.
//
// Default: afs.New()
func WithFileService(fs afs.Service) Option {
	return func(w *Workflow) {
		w.fs = fs
	}
}

// New creates a Workflow over library. Module names must be unique.
func New(library []module.Module, opts ...Option) (*Workflow, error) {
	seen := make(map[string]bool, len(library))
	for _, m := range library {
		if seen[m.Name()] {
			return nil, fmt.Errorf("%w: %s", state.ErrDuplicateModule, m.Name())
		}
		seen[m.Name()] = true
	}

	w := &Workflow{
		library: append([]module.Module(nil), library...),
		horizon: solver.DefaultHorizon,
		ids:     state.RandomIDs{},
		runIDs:  UUIDv7Generator{},
		params:  module.DefaultParams(),
		fs:      afs.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Plan solves and checks the plan from the given items to targets.
func (w *Workflow) Plan(given, targets []string) (*Plan, error) {
	p, err := BuildPlan(w.library, given, targets, solver.WithHorizon(w.horizon))
	if err != nil {
		return nil, err
	}
	if err := p.CheckFeasible(); err != nil {
		return nil, err
	}
	return p, nil
}

// Report summarizes a run.
type Report struct {
	RunID     string
	Plan      *Plan
	Resumed   bool
	Relocated string // previous_run_NNN folder, if anything was invalidated

	Completed   []string          // job ids completed during this run
	Failed      map[string]string // job id -> cause, for this run's failures
	Outstanding []string          // pending job ids left when the run ended

	// Outputs holds the values of every target item known at the end of
	// the run.
	Outputs map[string][]string

	Cancelled bool
}

// Run plans, resumes or creates the workspace's store, and drives it until
// no job is runnable.
//
// Job failures do not stop independent branches unless WithStopOnFailure is
// set; they are reported in the Report and as a JOB_FAILED or
// MISSING_RESULT RunError. Cancelling ctx stops launching jobs, applies the
// results already reported, saves and returns ctx's error. Jobs already
// running are not killed by Run.
func (w *Workflow) Run(ctx context.Context, workspace string, targets []string, given map[string][]string, ex executor.Executor) (*Report, error) {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if err := w.fs.Create(ctx, ws, os.ModeDir|0o755, true); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	staged, err := stageInputs(ctx, w.fs, ws, given)
	if err != nil {
		return nil, err
	}

	plan, err := w.Plan(ir.SortedKeys(staged), targets)
	if err != nil {
		return nil, err
	}

	st, resumed, err := state.ResumeIfPossible(ws, plan.Steps, staged,
		state.WithIDGenerator(w.ids),
		state.WithFileService(w.fs))
	if err != nil {
		return nil, stateError(err)
	}
	if resumed {
		slog.Info("resuming workspace", "workspace", ws, "jobs", len(st.Jobs()), "pending", len(st.Pending()))
	}

	r := &runner{
		w:      w,
		st:     st,
		ex:     ex,
		plan:   plan,
		queue:  newResultQueue(),
		report: &Report{Plan: plan, Resumed: resumed, Failed: map[string]string{}},
	}
	if err := r.begin(ctx); err != nil {
		return nil, err
	}
	return r.loop(ctx)
}

// stateError maps store construction errors onto run error codes.
func stateError(err error) error {
	switch {
	case errors.Is(err, state.ErrInvalidGrouping):
		return &RunError{Code: ErrCodeInvalidLineage, Message: "group-by item is not upstream", Err: err}
	case errors.Is(err, state.ErrCorruptState), errors.Is(err, state.ErrModuleMismatch):
		return &RunError{Code: ErrCodeCorruptState, Message: "cannot resume saved state", Err: err}
	}
	return err
}

// runner holds the per-run state of the dispatch loop.
type runner struct {
	w     *Workflow
	st    *state.State
	ex    executor.Executor
	plan  *Plan
	queue *resultQueue
	clock *Clock
	runID string

	report   *Report
	firstErr *RunError
}

// begin starts the journal run, applies retry and regenerate requests and
// schedules the first jobs.
func (r *runner) begin(ctx context.Context) error {
	r.clock = NewClock()
	r.runID = r.w.runIDs.Generate()
	r.report.RunID = r.runID

	if j := r.w.journal; j != nil {
		last, err := j.LastSeq(ctx)
		if err != nil {
			return err
		}
		r.clock = NewClockAt(last)
		if err := j.WriteRun(ctx, store.Run{
			ID:          r.runID,
			Workspace:   r.st.Workspace(),
			Fingerprint: r.st.Fingerprint(),
			Targets:     r.plan.Targets,
			StartedSeq:  r.clock.Next(),
		}); err != nil {
			return err
		}
	}

	if r.w.retryFailed {
		if ids := r.st.ClearFailed(); len(ids) > 0 {
			slog.Info("retrying failed jobs", "jobs", ids)
		}
	}

	if len(r.w.regenerate) > 0 {
		slog.Info("regenerating items and downstream dependents", "items", r.w.regenerate)
		inv := r.st.Invalidate(r.w.regenerate)
		folder, err := r.st.Relocate(ctx, inv)
		if err != nil {
			return err
		}
		r.report.Relocated = folder
		if err := r.archive(ctx, inv, folder); err != nil {
			return err
		}
	}

	r.st.Update()
	return r.st.Save()
}

// loop is the single-writer dispatch loop.
func (r *runner) loop(ctx context.Context) (*Report, error) {
	defer r.queue.Close()

	inflight := map[string]*state.JobInstance{}
	stopping := false
	for {
		if !stopping && ctx.Err() == nil {
			for _, job := range r.st.Runnable() {
				if _, running := inflight[job.ID]; running {
					continue
				}
				inflight[job.ID] = job
				r.launch(ctx, job)
			}
		}
		if len(inflight) == 0 {
			if ctx.Err() != nil && len(r.st.Runnable()) > 0 {
				r.report.Cancelled = true
			}
			break
		}

		batch, cancelled := r.wait(ctx)
		for _, res := range batch {
			job, ok := inflight[res.jobID]
			if !ok {
				continue
			}
			delete(inflight, res.jobID)
			if r.apply(ctx, job, res) && r.w.stopOnFailure && !stopping {
				slog.Warn("stopping after failure", "job_id", job.ID, "module", job.Module.Name())
				stopping = true
			}
		}
		r.st.Update()
		if err := r.st.Save(); err != nil {
			return r.report, err
		}
		if cancelled {
			slog.Warn("run cancelled", "in_flight", len(inflight))
			r.report.Cancelled = true
			break
		}
	}

	return r.finish(ctx)
}

// launch runs job in its own goroutine. The goroutine reports exactly one
// result.
func (r *runner) launch(ctx context.Context, job *state.JobInstance) {
	jc := &module.JobContext{
		JobID:     job.ID,
		Module:    job.Module.Name(),
		Workspace: r.st.Workspace(),
		Folder:    job.Folder(),
		Inputs:    job.Manifest(),
		Params:    r.w.params,
	}
	slog.Info("job started", "job_id", job.ID, "module", job.Module.Name())
	r.journal(ctx, store.Event{
		Kind:     store.EventJobScheduled,
		JobID:    job.ID,
		Module:   job.Module.Name(),
		Manifest: jc.Inputs,
	})

	go func() {
		manifest, err := r.run(ctx, job.Module, jc)
		r.queue.Enqueue(result{jobID: job.ID, manifest: manifest, err: err})
	}()
}

// run invokes the executor, turning a panic into a failure.
func (r *runner) run(ctx context.Context, m module.Module, jc *module.JobContext) (manifest module.Manifest, err error) {
	defer func() {
		if p := recover(); p != nil {
			manifest, err = nil, fmt.Errorf("job panicked: %v", p)
		}
	}()
	return r.ex.Execute(ctx, m, jc)
}

// wait blocks until at least one result is queued or ctx is done, then
// drains the queue.
func (r *runner) wait(ctx context.Context) ([]result, bool) {
	for {
		if batch := r.queue.Drain(); len(batch) > 0 {
			return batch, ctx.Err() != nil
		}
		select {
		case <-ctx.Done():
			return r.queue.Drain(), true
		case <-r.queue.Wait():
		}
	}
}

// apply records one result in the store. Returns true if the job failed.
func (r *runner) apply(ctx context.Context, job *state.JobInstance, res result) bool {
	name := job.Module.Name()
	masked := map[string]bool{}
	for _, out := range r.st.Masked(name) {
		masked[out] = true
	}
	if res.err == nil {
		res.err = promised(job, res.manifest, masked)
	}
	if res.err != nil {
		slog.Error("job failed", "job_id", job.ID, "module", name, "error", res.err)
		if err := r.st.RegisterJobFailed(job.ID, res.err); err != nil {
			slog.Error("failed to record job failure", "job_id", job.ID, "error", err)
		}
		r.report.Failed[job.ID] = res.err.Error()
		r.journal(ctx, store.Event{Kind: store.EventJobFailed, JobID: job.ID, Module: name, Message: res.err.Error()})
		if r.firstErr == nil {
			r.firstErr = jobError(job, res.err)
		}
		return true
	}

	if _, err := r.st.RegisterJobComplete(job.ID, res.manifest); err != nil {
		slog.Error("failed to record job completion", "job_id", job.ID, "module", name, "error", err)
		r.report.Failed[job.ID] = err.Error()
		if r.firstErr == nil {
			r.firstErr = jobError(job, err)
		}
		return true
	}
	slog.Info("job completed", "job_id", job.ID, "module", name)
	r.report.Completed = append(r.report.Completed, job.ID)
	r.journal(ctx, store.Event{Kind: store.EventJobCompleted, JobID: job.ID, Module: name, Manifest: res.manifest})

	for _, t := range r.plan.Targets {
		if masked[t] {
			continue
		}
		if err := linkOutputs(r.st.Workspace(), res.manifest[t]); err != nil {
			slog.Warn("failed to link output", "job_id", job.ID, "item", t, "error", err)
		}
	}
	return false
}

// promised returns a MissingResultError for the first unmasked output of
// the job's module that has no value in manifest.
func promised(job *state.JobInstance, manifest module.Manifest, masked map[string]bool) error {
	for _, item := range job.Module.Outputs() {
		if masked[item] || len(manifest[item]) > 0 {
			continue
		}
		return &executor.MissingResultError{Module: job.Module.Name(), JobID: job.ID, Item: item}
	}
	return nil
}

func jobError(job *state.JobInstance, err error) *RunError {
	code := ErrCodeJobFailed
	var missing *executor.MissingResultError
	item := ""
	if errors.As(err, &missing) {
		code = ErrCodeMissingResult
		item = missing.Item
	}
	return &RunError{
		Code:    code,
		Message: err.Error(),
		Module:  job.Module.Name(),
		Item:    item,
		JobID:   job.ID,
		Err:     err,
	}
}

// finish fills the report, closes the journal run and picks the error.
func (r *runner) finish(ctx context.Context) (*Report, error) {
	for _, job := range r.st.Pending() {
		r.report.Outstanding = append(r.report.Outstanding, job.ID)
	}
	sort.Strings(r.report.Outstanding)

	r.report.Outputs = map[string][]string{}
	for _, t := range r.plan.Targets {
		for _, ii := range r.st.Items(t) {
			r.report.Outputs[t] = append(r.report.Outputs[t], ii.Value)
		}
	}

	status := store.RunSucceeded
	var err error
	switch {
	case r.report.Cancelled:
		status = store.RunCancelled
		err = fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	case r.firstErr != nil:
		status = store.RunFailed
		err = r.firstErr
		if n := len(r.report.Failed); n > 1 {
			err = &RunError{
				Code:    r.firstErr.Code,
				Message: fmt.Sprintf("%d jobs failed, first: %s", n, r.firstErr.Message),
				Module:  r.firstErr.Module,
				Item:    r.firstErr.Item,
				JobID:   r.firstErr.JobID,
				Err:     r.firstErr.Err,
			}
		}
	}
	if j := r.w.journal; j != nil {
		// The run's ctx may already be cancelled; the journal must still
		// close the run.
		if jerr := j.FinishRun(context.WithoutCancel(ctx), r.runID, status, r.clock.Next()); jerr != nil {
			slog.Error("failed to close journal run", "run_id", r.runID, "error", jerr)
		}
	}

	slog.Info("run finished",
		"run_id", r.runID,
		"status", status,
		"completed", len(r.report.Completed),
		"failed", len(r.report.Failed),
		"outstanding", len(r.report.Outstanding))
	return r.report, err
}

// journal appends an event stamped with the next seq. Journal failures are
// logged; they never fail a job.
func (r *runner) journal(ctx context.Context, e store.Event) {
	j := r.w.journal
	if j == nil {
		return
	}
	e.RunID = r.runID
	e.Seq = r.clock.Next()
	if _, err := j.WriteEvent(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("failed to journal event", "kind", e.Kind, "job_id", e.JobID, "error", err)
	}
}

// archive records invalidated jobs and items in the journal.
func (r *runner) archive(ctx context.Context, inv *state.Invalidation, folder string) error {
	if inv.Empty() {
		return nil
	}
	r.journal(ctx, store.Event{
		Kind:     store.EventInvalidated,
		Manifest: map[string][]string{"items": r.w.regenerate},
		Message:  folder,
	})
	j := r.w.journal
	if j == nil {
		return nil
	}

	seq := r.clock.Next()
	location, err := filepath.Rel(r.st.Workspace(), folder)
	if err != nil {
		location = folder
	}
	records := make([]store.ArchiveRecord, 0, len(inv.Jobs)+len(inv.Items))
	for _, job := range inv.Jobs {
		records = append(records, store.ArchiveRecord{
			RunID:    r.runID,
			Seq:      seq,
			Location: location,
			Kind:     store.RecordJob,
			RecordID: job.ID,
			Name:     job.Module.Name(),
			Inputs:   instanceIDs(job.Inputs),
			Outputs:  instanceIDs(job.Outputs),
		})
	}
	for _, ii := range inv.Items {
		rec := store.ArchiveRecord{
			RunID:    r.runID,
			Seq:      seq,
			Location: location,
			Kind:     store.RecordItem,
			RecordID: ii.ID,
			Name:     ii.Item,
			Value:    ii.Value,
		}
		if ii.MadeBy != nil {
			rec.MadeBy = ii.MadeBy.ID
		}
		records = append(records, rec)
	}
	return j.WriteArchive(ctx, records)
}

func instanceIDs(m map[string][]*state.ItemInstance) map[string][]string {
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
