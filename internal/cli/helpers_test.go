package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// greetModules greets every name and shouts every greeting.
const greetModules = `
package test

module: greet: {
	inputs: ["name"]
	outputs: ["greeting"]
	config: command: "printf '{\"manifest\": {\"greeting\": [\"hello %s\"]}}' \"$PIPEWRIGHT_IN_NAME\" > result.json"
}

module: shout: {
	inputs: ["greeting"]
	outputs: ["loud"]
	config: command: "printf '{\"manifest\": {\"loud\": [\"%s!\"]}}' \"$PIPEWRIGHT_IN_GREETING\" > result.json"
}
`

// writeModules writes src as modules.cue into a fresh directory.
func writeModules(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules.cue"), []byte(src), 0o644))
	return dir
}

// writeConfig writes a run configuration next to a fresh workspace and
// returns the config path and the workspace.
func writeConfig(t *testing.T, modulesDir, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	cfg := "workspace: " + ws + "\nmodules: " + modulesDir + "\n" + body
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, ws
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
