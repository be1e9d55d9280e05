package module

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// KindCommand is the registry id of shell command modules.
const KindCommand = "command"

// Log files a command module leaves in its job folder.
const (
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"
)

type commandModule struct {
	base
	shell   string
	command string
}

// NewCommand builds a module that runs config["command"] through
// config["shell"] (default "sh") inside the job folder.
//
// The command sees the job through environment variables and context.json,
// and reports its outputs by writing result.json into the job folder.
func NewCommand(def Definition) (Module, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	command := def.Config.String("command")
	if command == "" {
		return nil, fmt.Errorf("module: %s: command is required", def.Name)
	}
	shell := def.Config.String("shell")
	if shell == "" {
		shell = "sh"
	}
	return &commandModule{base: base{def: def}, shell: shell, command: command}, nil
}

func (m *commandModule) Run(ctx context.Context, job *JobContext) (Manifest, error) {
	if err := job.Save(); err != nil {
		return nil, err
	}
	dir := job.Dir()

	stdout, err := os.Create(filepath.Join(dir, StdoutFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(dir, StderrFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, m.shell, "-c", m.command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), jobEnv(job)...)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: command failed: %w (see %s)", m.Name(), err, job.Rel(StderrFile))
	}

	res, err := ReadResult(dir)
	if err != nil {
		return nil, err
	}
	if res.ErrorMessage != "" {
		return nil, fmt.Errorf("%s: %s", m.Name(), res.ErrorMessage)
	}
	return res.Manifest, nil
}

// jobEnv exposes the job as PIPEWRIGHT_* variables. Input values are
// space-separated under PIPEWRIGHT_IN_<ITEM>.
func jobEnv(job *JobContext) []string {
	env := []string{
		"PIPEWRIGHT_JOB_ID=" + job.JobID,
		"PIPEWRIGHT_MODULE=" + job.Module,
		"PIPEWRIGHT_WORKSPACE=" + job.Workspace,
		"PIPEWRIGHT_OUTPUT=" + job.Dir(),
		"PIPEWRIGHT_THREADS=" + strconv.Itoa(job.Params.Threads),
		"PIPEWRIGHT_MEM_GB=" + strconv.Itoa(job.Params.MemGB),
	}

	items := make([]string, 0, len(job.Inputs))
	for item := range job.Inputs {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		env = append(env, "PIPEWRIGHT_IN_"+envName(item)+"="+strings.Join(job.Inputs[item], " "))
	}
	return env
}

func envName(item string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, item)
}
