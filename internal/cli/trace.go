package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pipewright/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - trace one run instead of listing runs
	JobID    string // optional - trace one job across runs
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq      int64               `json:"seq"`
	Kind     string              `json:"kind"`
	RunID    string              `json:"run_id,omitempty"`
	JobID    string              `json:"job_id,omitempty"`
	Module   string              `json:"module,omitempty"`
	Manifest map[string][]string `json:"manifest,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// TraceRun summarizes one journal run.
type TraceRun struct {
	ID          string   `json:"id"`
	Workspace   string   `json:"workspace"`
	Targets     []string `json:"targets"`
	Status      string   `json:"status"`
	StartedSeq  int64    `json:"started_seq"`
	EndedSeq    int64    `json:"ended_seq,omitempty"`
	Fingerprint string   `json:"fingerprint"`
}

// TraceArchived is a job or item discarded by regeneration.
type TraceArchived struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	MadeBy   string `json:"made_by,omitempty"`
	Location string `json:"location"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Runs     []TraceRun      `json:"runs,omitempty"`
	Timeline []TraceEvent    `json:"timeline,omitempty"`
	Archived []TraceArchived `json:"archived,omitempty"`
	Stats    *TraceStats     `json:"stats,omitempty"`
}

// TraceStats holds per-run job counts.
type TraceStats struct {
	Scheduled   int      `json:"scheduled"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
	Outstanding []string `json:"outstanding"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the run journal",
		Long: `Query a run journal.

Without --run or --job, lists every run in the journal. With --run, shows
the run's timeline of scheduled, completed and failed jobs, the results its
regeneration discarded, and job counts. With --job, shows one job's events
across runs.

Examples:
  pipewright trace --db ./ws/journal.db
  pipewright trace --db ./ws/journal.db --run 0192f0c4-...
  pipewright trace --db ./ws/journal.db --job 5f1c... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace")
	cmd.Flags().StringVar(&opts.JobID, "job", "", "job id to trace")
	cmd.MarkFlagsMutuallyExclusive("run", "job")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening creates missing databases; a trace of nothing is an error.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer st.Close()

	var result TraceResult
	switch {
	case opts.RunID != "":
		result, err = traceRun(ctx, st, opts.RunID)
	case opts.JobID != "":
		result, err = traceJob(ctx, st, opts.JobID)
	default:
		result, err = traceRuns(ctx, st)
	}
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "run not found: "+opts.RunID, nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read journal", err)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd.OutOrStdout(), result)
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

func traceRuns(ctx context.Context, st *store.Store) (TraceResult, error) {
	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return TraceResult{}, err
	}
	result := TraceResult{Runs: make([]TraceRun, 0, len(runs))}
	for _, r := range runs {
		result.Runs = append(result.Runs, toTraceRun(r))
	}
	return result, nil
}

func traceRun(ctx context.Context, st *store.Store, runID string) (TraceResult, error) {
	sum, err := st.SummarizeRun(ctx, runID)
	if err != nil {
		return TraceResult{}, err
	}
	events, err := st.ReadEvents(ctx, runID)
	if err != nil {
		return TraceResult{}, err
	}
	archived, err := st.ReadArchive(ctx, runID)
	if err != nil {
		return TraceResult{}, err
	}

	outstanding := sum.Outstanding()
	if outstanding == nil {
		outstanding = []string{}
	}
	return TraceResult{
		Runs:     []TraceRun{toTraceRun(sum.Run)},
		Timeline: buildTimeline(events),
		Archived: buildArchived(archived),
		Stats: &TraceStats{
			Scheduled:   len(sum.Scheduled),
			Completed:   len(sum.Completed),
			Failed:      len(sum.Failed),
			Outstanding: outstanding,
		},
	}, nil
}

func traceJob(ctx context.Context, st *store.Store, jobID string) (TraceResult, error) {
	events, err := st.ReadJobEvents(ctx, jobID)
	if err != nil {
		return TraceResult{}, err
	}
	archived, err := st.ReadArchivedRecord(ctx, jobID)
	if err != nil {
		return TraceResult{}, err
	}
	return TraceResult{
		Timeline: buildTimeline(events),
		Archived: buildArchived(archived),
	}, nil
}

func toTraceRun(r store.Run) TraceRun {
	return TraceRun{
		ID:          r.ID,
		Workspace:   r.Workspace,
		Targets:     r.Targets,
		Status:      r.Status,
		StartedSeq:  r.StartedSeq,
		EndedSeq:    r.EndedSeq,
		Fingerprint: r.Fingerprint,
	}
}

func buildTimeline(events []store.Event) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, e := range events {
		timeline = append(timeline, TraceEvent{
			Seq:      e.Seq,
			Kind:     string(e.Kind),
			RunID:    e.RunID,
			JobID:    e.JobID,
			Module:   e.Module,
			Manifest: e.Manifest,
			Message:  e.Message,
		})
	}
	return timeline
}

func buildArchived(records []store.ArchiveRecord) []TraceArchived {
	var out []TraceArchived
	for _, r := range records {
		out = append(out, TraceArchived{
			Kind:     string(r.Kind),
			ID:       r.RecordID,
			Name:     r.Name,
			Value:    r.Value,
			MadeBy:   r.MadeBy,
			Location: r.Location,
		})
	}
	return out
}

func outputTraceJSON(w io.Writer, result TraceResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	if result.Stats == nil && len(result.Runs) > 0 {
		fmt.Fprintln(w, "=== Runs ===")
		for _, r := range result.Runs {
			fmt.Fprintf(w, "  %s  %-9s  %s  %v\n", r.ID, r.Status, r.Workspace, r.Targets)
		}
		return
	}
	if len(result.Runs) == 1 {
		r := result.Runs[0]
		fmt.Fprintf(w, "Trace for Run: %s\n", r.ID)
		fmt.Fprintf(w, "Status: %s\n", r.Status)
		fmt.Fprintf(w, "Workspace: %s\n", r.Workspace)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		formatTimelineEvent(w, e, verbose)
	}

	if len(result.Archived) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Archived ===")
		for _, a := range result.Archived {
			fmt.Fprintf(w, "  %s %s %s -> %s\n", a.Kind, truncateID(a.ID), a.Name, a.Location)
		}
	}

	if s := result.Stats; s != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Stats ===")
		fmt.Fprintf(w, "  Scheduled:   %d\n", s.Scheduled)
		fmt.Fprintf(w, "  Completed:   %d\n", s.Completed)
		fmt.Fprintf(w, "  Failed:      %d\n", s.Failed)
		fmt.Fprintf(w, "  Outstanding: %d\n", len(s.Outstanding))
	}
}

func formatTimelineEvent(w io.Writer, e TraceEvent, verbose bool) {
	switch store.EventKind(e.Kind) {
	case store.EventJobScheduled:
		fmt.Fprintf(w, "  [%d] SCHED %s %s\n", e.Seq, e.Module, truncateID(e.JobID))
	case store.EventJobCompleted:
		fmt.Fprintf(w, "  [%d] DONE  %s %s\n", e.Seq, e.Module, truncateID(e.JobID))
	case store.EventJobFailed:
		fmt.Fprintf(w, "  [%d] FAIL  %s %s: %s\n", e.Seq, e.Module, truncateID(e.JobID), e.Message)
	case store.EventInvalidated:
		fmt.Fprintf(w, "  [%d] INVAL %s -> %s\n", e.Seq, strings.Join(e.Manifest["items"], ", "), e.Message)
		return
	}
	if verbose && len(e.Manifest) > 0 {
		fmt.Fprintf(w, "       %s\n", formatManifest(e.Manifest))
	}
}

// formatManifest formats a manifest with sorted keys.
func formatManifest(m map[string][]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=[%s]", k, strings.Join(m[k], ", "))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
