package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/roach88/pipewright/internal/testutil"
)

func TestStageInputs(t *testing.T) {
	src := testutil.WriteFiles(t, t.TempDir(), map[string]string{"r1.fq": "ACGT", "r2.fq": "TTGA"})
	ws := t.TempDir()

	staged, err := stageInputs(context.Background(), afs.New(), ws, map[string][]string{
		"reads":  {src["r1.fq"], src["r2.fq"]},
		"sample": {"S1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs/r1.fq", "inputs/r2.fq"}, staged["reads"])
	assert.Equal(t, []string{"S1"}, staged["sample"], "raw values pass through")

	target, err := os.Readlink(filepath.Join(ws, "inputs", "r1.fq"))
	require.NoError(t, err)
	assert.Equal(t, src["r1.fq"], target)
	data, err := os.ReadFile(filepath.Join(ws, "inputs", "r2.fq"))
	require.NoError(t, err)
	assert.Equal(t, "TTGA", string(data))
}

func TestStageInputs_Restage(t *testing.T) {
	src := testutil.WriteFiles(t, t.TempDir(), map[string]string{"r1.fq": "ACGT"})
	ws := t.TempDir()
	given := map[string][]string{"reads": {src["r1.fq"]}}

	_, err := stageInputs(context.Background(), afs.New(), ws, given)
	require.NoError(t, err)
	_, err = stageInputs(context.Background(), afs.New(), ws, given)
	assert.NoError(t, err, "staging twice replaces the link")
}

func TestStageInputs_MissingFile(t *testing.T) {
	ws := t.TempDir()
	missing := filepath.Join(t.TempDir(), "nope.fq")

	_, err := stageInputs(context.Background(), afs.New(), ws, map[string][]string{"reads": {missing}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLinkOutputs(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"collect--j7/report.txt": "done"})

	err := linkOutputs(ws, []string{"collect--j7/report.txt", "raw value", "/abs/elsewhere.txt", "plain/file.txt"})
	require.NoError(t, err)

	link := filepath.Join(ws, "outputs", "collect--j7--report.txt")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "collect--j7", "report.txt"), target)
	data, err := os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "done", string(data))

	entries, err := os.ReadDir(filepath.Join(ws, "outputs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only job folder files are linked")
}
