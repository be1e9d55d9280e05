package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipewright/internal/module"
)

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	defs := []module.Definition{
		def("trim", plain("reads"), "trimmed"),
		def("assemble", plain("trimmed"), "contigs"),
		def("annotate", plain("contigs", "trimmed"), "genes"),
	}
	assert.Empty(t, AnalyzeCycles(defs))
}

func TestAnalyzeCycles_TwoModuleCycle(t *testing.T) {
	defs := []module.Definition{
		def("align", plain("contigs"), "alignment"),
		def("polish", plain("alignment"), "contigs"),
	}
	warnings := AnalyzeCycles(defs)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"align", "polish", "align"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "align -> polish -> align")
}

func TestAnalyzeCycles_Deterministic(t *testing.T) {
	defs := []module.Definition{
		def("c", plain("y"), "z"),
		def("a", plain("z"), "x"),
		def("b", plain("x"), "y"),
	}
	first := AnalyzeCycles(defs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, AnalyzeCycles(defs))
	}
	require.Len(t, first, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, first[0].Path)
}
