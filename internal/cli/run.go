package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/pipewright/internal/config"
	"github.com/roach88/pipewright/internal/executor"
	"github.com/roach88/pipewright/internal/state"
	"github.com/roach88/pipewright/internal/store"
	"github.com/roach88/pipewright/internal/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config        string
	Regenerate    []string
	RetryFailed   bool
	StopOnFailure bool

	// Executor overrides the local executor (for testing).
	Executor executor.Executor

	// IDs and RunIDs override the id generators (for testing).
	IDs    state.IDGenerator
	RunIDs workflow.RunIDGenerator
}

// RunResult is the run command's output.
type RunResult struct {
	RunID       string              `json:"run_id"`
	Workspace   string              `json:"workspace"`
	Plan        []string            `json:"plan"`
	Resumed     bool                `json:"resumed"`
	Relocated   string              `json:"relocated,omitempty"`
	Completed   int                 `json:"completed"`
	Failed      map[string]string   `json:"failed,omitempty"`
	Outstanding []string            `json:"outstanding,omitempty"`
	Outputs     map[string][]string `json:"outputs"`
	Cancelled   bool                `json:"cancelled,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and run a pipeline",
		Long: `Plan and run the pipeline described by a run configuration.

The workspace's saved state is resumed when present, so an interrupted run
picks up where it stopped. Jobs that failed earlier are skipped unless
--retry-failed is given. --regenerate discards an item and everything
derived from it; the discarded results move into previous_run_NNN/.

Example:
  pipewright run -c run.yaml
  pipewright run -c run.yaml --regenerate contigs
  pipewright run -c run.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to run configuration (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringSliceVar(&opts.Regenerate, "regenerate", nil, "item to regenerate (repeatable)")
	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "retry jobs that failed in earlier runs")
	cmd.Flags().BoolVar(&opts.StopOnFailure, "stop-on-failure", false, "stop launching jobs after the first failure")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	slog.Info("loading modules", "dir", cfg.Modules)
	library, err := LoadLibrary(cfg.Modules)
	if err != nil {
		code, msg := loadErrorCode(err)
		return formatter.Fail(ExitCommandError, code, msg, nil)
	}
	slog.Info("modules loaded", "count", len(library))

	wfOpts := []workflow.Option{
		workflow.WithParams(cfg.Params),
		workflow.WithStopOnFailure(cfg.StopOnFailure || opts.StopOnFailure),
		workflow.WithRetryFailed(cfg.RetryFailed || opts.RetryFailed),
		workflow.WithRegenerate(append(cfg.Regenerate, opts.Regenerate...)...),
	}
	if cfg.Horizon > 0 {
		wfOpts = append(wfOpts, workflow.WithHorizon(cfg.Horizon))
	}
	if opts.IDs != nil {
		wfOpts = append(wfOpts, workflow.WithIDGenerator(opts.IDs))
	}
	if opts.RunIDs != nil {
		wfOpts = append(wfOpts, workflow.WithRunIDGenerator(opts.RunIDs))
	}
	if cfg.Journal != "" {
		j, err := store.Open(cfg.Journal)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		wfOpts = append(wfOpts, workflow.WithJournal(j))
	}

	wf, err := workflow.New(library, wfOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCompile, "invalid module library", err)
	}

	ex := opts.Executor
	if ex == nil {
		ex = executor.NewLocal()
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	report, runErr := wf.Run(ctx, cfg.Workspace, cfg.Targets, cfg.Given, ex)
	if report == nil {
		return runFailure(formatter, runErr)
	}

	result := RunResult{
		RunID:       report.RunID,
		Workspace:   cfg.Workspace,
		Plan:        report.Plan.Names(),
		Resumed:     report.Resumed,
		Relocated:   report.Relocated,
		Completed:   len(report.Completed),
		Failed:      report.Failed,
		Outstanding: report.Outstanding,
		Outputs:     report.Outputs,
		Cancelled:   report.Cancelled,
	}
	if runErr != nil {
		if formatter.Format == "json" {
			code, _ := runErrorCode(runErr)
			_ = formatter.Error(code, runErr.Error(), result)
		} else {
			printRunResult(formatter.Writer, result)
			fmt.Fprintf(formatter.Writer, "Error: %v\n", runErr)
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	printRunResult(formatter.Writer, result)
	return nil
}

// runFailure reports an error raised before any job ran.
func runFailure(formatter *OutputFormatter, err error) error {
	code, exitCode := runErrorCode(err)
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(exitCode, code, err)
}

// runErrorCode maps a run error onto an output code and an exit code.
// Planning and state errors are command errors; job failures and
// cancellation are run failures.
func runErrorCode(err error) (string, int) {
	var re *workflow.RunError
	switch {
	case errors.As(err, &re):
		if workflow.IsJobFailure(err) {
			return string(re.Code), ExitFailure
		}
		return string(re.Code), ExitCommandError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED", ExitFailure
	}
	return ErrCodeGeneric, ExitCommandError
}

func printRunResult(w io.Writer, r RunResult) {
	verb := "Ran"
	if r.Resumed {
		verb = "Resumed"
	}
	fmt.Fprintf(w, "%s %s in %s\n", verb, r.RunID, r.Workspace)
	fmt.Fprintf(w, "  plan: %v\n", r.Plan)
	if r.Relocated != "" {
		fmt.Fprintf(w, "  previous results moved to %s\n", r.Relocated)
	}
	fmt.Fprintf(w, "  %d completed, %d failed, %d outstanding\n", r.Completed, len(r.Failed), len(r.Outstanding))
	if r.Cancelled {
		fmt.Fprintln(w, "  cancelled")
	}

	items := make([]string, 0, len(r.Outputs))
	for item := range r.Outputs {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		fmt.Fprintf(w, "%s:\n", item)
		for _, v := range r.Outputs[item] {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}

	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "failed %s: %s\n", id, r.Failed[id])
	}
}

// signalContext cancels on SIGINT or SIGTERM. Uses parent if set (tests).
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping after running jobs report", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
