package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceResponse struct {
	Status string      `json:"status"`
	Data   TraceResult `json:"data"`
}

// runWithJournal runs the greet pipeline once with a journal and returns
// the journal path and the workspace.
func runWithJournal(t *testing.T, extraArgs ...string) (string, string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "journal.db")
	cfg, ws := writeConfig(t, writeModules(t, greetModules),
		"targets: [loud]\ngiven:\n  name: [ada, bob]\njournal: "+db+"\n")
	_, err := execute(t, append([]string{"run", "-c", cfg}, extraArgs...)...)
	require.NoError(t, err)
	return db, ws, cfg
}

func traceJSON(t *testing.T, args ...string) TraceResult {
	t.Helper()
	out, err := execute(t, append(args, "--format", "json")...)
	require.NoError(t, err)
	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTraceRuns(t *testing.T) {
	db, ws, _ := runWithJournal(t)

	result := traceJSON(t, "trace", "--db", db)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, ws, result.Runs[0].Workspace)
	assert.Equal(t, []string{"loud"}, result.Runs[0].Targets)
	assert.Equal(t, "succeeded", result.Runs[0].Status)
	assert.Nil(t, result.Stats)
}

func TestTraceRun(t *testing.T) {
	db, _, _ := runWithJournal(t)
	runID := traceJSON(t, "trace", "--db", db).Runs[0].ID

	result := traceJSON(t, "trace", "--db", db, "--run", runID)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 4, result.Stats.Scheduled)
	assert.Equal(t, 4, result.Stats.Completed)
	assert.Equal(t, 0, result.Stats.Failed)
	assert.Empty(t, result.Stats.Outstanding)
	require.Len(t, result.Timeline, 8)
	for i := 1; i < len(result.Timeline); i++ {
		assert.Greater(t, result.Timeline[i].Seq, result.Timeline[i-1].Seq)
	}

	out, err := execute(t, "trace", "--db", db, "--run", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for Run: "+runID)
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "SCHED greet")
	assert.Contains(t, out, "DONE  shout")
	assert.Contains(t, out, "=== Stats ===")
}

func TestTraceRun_Archived(t *testing.T) {
	db, _, cfg := runWithJournal(t)
	_, err := execute(t, "run", "-c", cfg, "--regenerate", "loud")
	require.NoError(t, err)

	runs := traceJSON(t, "trace", "--db", db).Runs
	require.Len(t, runs, 2)
	second := runs[1].ID

	result := traceJSON(t, "trace", "--db", db, "--run", second)
	var jobs, items int
	for _, a := range result.Archived {
		assert.Equal(t, "previous_run_001", a.Location)
		switch a.Kind {
		case "job":
			jobs++
		case "item":
			items++
		}
	}
	assert.Equal(t, 2, jobs)
	assert.Equal(t, 2, items)
	assert.Equal(t, 2, result.Stats.Completed)
}

func TestTraceJob(t *testing.T) {
	db, _, _ := runWithJournal(t)
	runID := traceJSON(t, "trace", "--db", db).Runs[0].ID
	first := traceJSON(t, "trace", "--db", db, "--run", runID).Timeline[0]

	result := traceJSON(t, "trace", "--db", db, "--job", first.JobID)
	require.Len(t, result.Timeline, 2)
	assert.Equal(t, first.JobID, result.Timeline[0].JobID)
	assert.Equal(t, first.JobID, result.Timeline[1].JobID)
}

func TestTraceUnknownRun(t *testing.T) {
	db, _, _ := runWithJournal(t)

	_, err := execute(t, "trace", "--db", db, "--run", "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestTraceMissingDatabase(t *testing.T) {
	_, err := execute(t, "trace", "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestTraceRunAndJobExclusive(t *testing.T) {
	_, err := execute(t, "trace", "--db", "x.db", "--run", "a", "--job", "b")
	require.Error(t, err)
}
