package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipewright/internal/executor"
	"github.com/roach88/pipewright/internal/module"
)

type runResponse struct {
	Status string    `json:"status"`
	Data   RunResult `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestRunPipeline(t *testing.T) {
	cfg, ws := writeConfig(t, writeModules(t, greetModules), "targets: [loud]\ngiven:\n  name: [ada, bob]\n")

	out, err := execute(t, "run", "-c", cfg, "--format", "json")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ws, resp.Data.Workspace)
	assert.Equal(t, []string{"greet", "shout"}, resp.Data.Plan)
	assert.Equal(t, 4, resp.Data.Completed)
	assert.False(t, resp.Data.Resumed)
	assert.ElementsMatch(t, []string{"hello ada!", "hello bob!"}, resp.Data.Outputs["loud"])
}

func TestRunPipeline_Resumes(t *testing.T) {
	cfg, _ := writeConfig(t, writeModules(t, greetModules), "targets: [loud]\ngiven:\n  name: [ada]\n")

	_, err := execute(t, "run", "-c", cfg)
	require.NoError(t, err)

	out, err := execute(t, "run", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Resumed")
	assert.Contains(t, out, "0 completed, 0 failed, 0 outstanding")
	assert.Contains(t, out, "hello ada!")
}

func TestRunPipeline_Regenerate(t *testing.T) {
	cfg, _ := writeConfig(t, writeModules(t, greetModules), "targets: [loud]\ngiven:\n  name: [ada]\n")

	_, err := execute(t, "run", "-c", cfg)
	require.NoError(t, err)

	out, err := execute(t, "run", "-c", cfg, "--regenerate", "loud", "--format", "json")
	require.NoError(t, err)
	resp := decodeRun(t, out)
	assert.Equal(t, 1, resp.Data.Completed, "only shout reruns")
	assert.Contains(t, resp.Data.Relocated, "previous_run_001")
}

func TestRunPipeline_Unsatisfiable(t *testing.T) {
	cfg, _ := writeConfig(t, writeModules(t, greetModules), "targets: [poem]\ngiven:\n  name: [ada]\n")

	out, err := execute(t, "run", "-c", cfg, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNSATISFIABLE_PLAN", resp.Error.Code)
}

func TestRunPipeline_JobFailure(t *testing.T) {
	cfg, _ := writeConfig(t, writeModules(t, greetModules), "targets: [loud]\ngiven:\n  name: [ada]\n")

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Config:      cfg,
		Executor: executor.Func(func(context.Context, module.Module, *module.JobContext) (module.Manifest, error) {
			return nil, errors.New("out of memory")
		}),
	}
	cmd := NewRunCommand(opts.RootOptions)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	err := runPipeline(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out.String())
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "JOB_FAILED", resp.Error.Code)
}

func TestRunPipeline_BadConfig(t *testing.T) {
	_, err := execute(t, "run", "-c", "/nonexistent/run.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeConfig)
}

func TestRunPipeline_BadModules(t *testing.T) {
	cfg, _ := writeConfig(t, t.TempDir(), "targets: [loud]\n")

	_, err := execute(t, "run", "-c", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}
