package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pipewright/internal/compiler"
	"github.com/roach88/pipewright/internal/config"
	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
	"github.com/roach88/pipewright/internal/solver"
	"github.com/roach88/pipewright/internal/workflow"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Config string
}

// PlanResult is the plan command's output.
type PlanResult struct {
	Given    []string                `json:"given"`
	Targets  []string                `json:"targets"`
	Steps    []string                `json:"steps"`
	Upstream map[string][]string     `json:"upstream"`
	Cycles   []compiler.CycleWarning `json:"cycles"`
	Solution string                  `json:"solution"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the plan for a run configuration",
		Long: `Solve the plan for a run configuration without running anything.

Prints the modules in run order, each module's upstream modules, and any
cycles in the module library.

Example:
  pipewright plan -c run.yaml
  pipewright plan -c run.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to run configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	library, err := LoadLibrary(cfg.Modules)
	if err != nil {
		code, msg := loadErrorCode(err)
		return formatter.Fail(ExitCommandError, code, msg, nil)
	}

	var wfOpts []workflow.Option
	if cfg.Horizon > 0 {
		wfOpts = append(wfOpts, workflow.WithHorizon(cfg.Horizon))
	}
	wf, err := workflow.New(library, wfOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCompile, "invalid module library", err)
	}
	plan, err := wf.Plan(ir.SortedKeys(cfg.Given), cfg.Targets)
	if err != nil {
		return runFailure(formatter, err)
	}

	defs := make([]module.Definition, len(library))
	for i, m := range library {
		defs[i] = module.Describe(m)
	}
	result := PlanResult{
		Given:    plan.Given,
		Targets:  plan.Targets,
		Steps:    plan.Names(),
		Upstream: plan.Upstream,
		Cycles:   compiler.AnalyzeCycles(defs),
		Solution: solver.Render(plan.Result),
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	printPlan(formatter.Writer, result, opts.Verbose)
	return nil
}

func printPlan(w io.Writer, r PlanResult, verbose bool) {
	fmt.Fprintf(w, "given:   %v\n", r.Given)
	fmt.Fprintf(w, "targets: %v\n", r.Targets)
	fmt.Fprintln(w, "steps:")
	for i, name := range r.Steps {
		if ups := r.Upstream[name]; len(ups) > 0 {
			fmt.Fprintf(w, "  %d. %s (after %v)\n", i+1, name, ups)
		} else {
			fmt.Fprintf(w, "  %d. %s\n", i+1, name)
		}
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(w, "%s: %s\n", c.Level, c.Message)
	}
	if verbose {
		fmt.Fprint(w, r.Solution)
	}
}
