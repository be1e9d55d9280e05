package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/pipewright/internal/state"
	"github.com/roach88/pipewright/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// StatusResult is the status command's output.
type StatusResult struct {
	Workspace   string            `json:"workspace"`
	Fingerprint string            `json:"fingerprint"`
	Modules     []ModuleStatus    `json:"modules"`
	Items       map[string]int    `json:"items"`
	Given       int               `json:"given"`
	Pending     []string          `json:"pending"`
	Failed      map[string]string `json:"failed,omitempty"`
	LastRun     *TraceRun         `json:"last_run,omitempty"`
}

// ModuleStatus counts one module's jobs.
type ModuleStatus struct {
	Name      string `json:"name"`
	Jobs      int    `json:"jobs"`
	Completed int    `json:"completed"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <workspace>",
		Short: "Summarize a workspace's saved state",
		Long: `Summarize a workspace's saved state: jobs per module, item counts,
pending and failed jobs. With --db, also shows the workspace's latest run
from the journal.

Example:
  pipewright status ./ws
  pipewright status ./ws --db ./ws/journal.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database")

	return cmd
}

func runStatus(opts *StatusOptions, workspace string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ws, err := filepath.Abs(workspace)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "invalid workspace", err)
	}
	if !state.Exists(ws) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no saved state in %s", ws), nil)
	}
	sum, err := state.Inspect(ws)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to read saved state", err)
	}

	result := StatusResult{
		Workspace:   ws,
		Fingerprint: sum.Fingerprint,
		Items:       sum.Items,
		Given:       sum.Given,
		Pending:     sum.Pending,
		Failed:      sum.Failed,
	}
	for _, name := range sum.Modules {
		result.Modules = append(result.Modules, ModuleStatus{
			Name:      name,
			Jobs:      sum.Jobs[name],
			Completed: sum.Completed[name],
		})
	}

	if opts.Database != "" {
		if _, err := os.Stat(opts.Database); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
		}
		st, err := store.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer st.Close()
		run, err := st.LatestRun(context.Background(), ws)
		switch {
		case err == nil:
			tr := toTraceRun(run)
			result.LastRun = &tr
		case !errors.Is(err, store.ErrNotFound):
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read journal", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	printStatus(formatter.Writer, result)
	return nil
}

func printStatus(w io.Writer, r StatusResult) {
	fmt.Fprintf(w, "Workspace: %s\n", r.Workspace)
	if r.LastRun != nil {
		fmt.Fprintf(w, "Last run:  %s (%s)\n", r.LastRun.ID, r.LastRun.Status)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Modules ===")
	for _, m := range r.Modules {
		fmt.Fprintf(w, "  %-20s %d/%d jobs complete\n", m.Name, m.Completed, m.Jobs)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Items ===")
	items := make([]string, 0, len(r.Items))
	for item := range r.Items {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		fmt.Fprintf(w, "  %-20s %d\n", item, r.Items[item])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Pending: %d\n", len(r.Pending))
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "Failed:  %d\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %s\n", id, r.Failed[id])
	}
}
