package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipewright/internal/module"
)

func def(name string, inputs []module.Input, outputs ...string) module.Definition {
	return module.Definition{Name: name, Kind: module.KindCommand, Inputs: inputs, Outputs: outputs}
}

func plain(items ...string) []module.Input {
	var out []module.Input
	for _, item := range items {
		out = append(out, module.Input{Item: item})
	}
	return out
}

func codes(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Clean(t *testing.T) {
	defs := []module.Definition{
		def("split", plain("sample"), "chunk"),
		def("collect", []module.Input{{Item: "chunk", GroupBy: "sample"}}, "merged"),
	}
	assert.Empty(t, Validate(defs, []string{module.KindCommand}))
}

func TestValidate_Duplicate(t *testing.T) {
	defs := []module.Definition{
		def("trim", plain("reads"), "trimmed"),
		def("trim", plain("reads"), "other"),
	}
	errs := Validate(defs, nil)
	assert.Equal(t, []string{ErrDuplicateModule}, codes(errs))
}

func TestValidate_InvalidDefinition(t *testing.T) {
	defs := []module.Definition{def("bad", nil, "x")}
	errs := Validate(defs, nil)
	assert.Equal(t, []string{ErrModuleInvalid}, codes(errs))
}

func TestValidate_UnknownGroupBy(t *testing.T) {
	defs := []module.Definition{
		def("collect", []module.Input{{Item: "chunk", GroupBy: "nowhere"}}, "merged"),
	}
	errs := Validate(defs, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownGroupBy, errs[0].Code)
	assert.Contains(t, errs[0].Error(), "nowhere")
}

func TestValidate_SelfGroupedOutput(t *testing.T) {
	defs := []module.Definition{
		def("odd", []module.Input{{Item: "chunk", GroupBy: "merged"}}, "merged"),
	}
	errs := Validate(defs, nil)
	assert.Equal(t, []string{ErrSelfGroupedOutput}, codes(errs))
}

func TestValidate_UnknownKind(t *testing.T) {
	d := def("trim", plain("reads"), "trimmed")
	d.Kind = "slurm"
	errs := Validate([]module.Definition{d}, []string{module.KindCommand})
	assert.Equal(t, []string{ErrUnknownKind}, codes(errs))
}

func TestBuild(t *testing.T) {
	d := def("trim", plain("reads"), "trimmed")
	d.Config = module.Config{"command": "true"}

	mods, err := Build([]module.Definition{d}, module.DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "trim", mods[0].Name())
}

func TestBuild_RejectsInvalid(t *testing.T) {
	d := def("trim", plain("reads"), "trimmed")
	d.Kind = "slurm"

	_, err := Build([]module.Definition{d}, module.DefaultRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownKind)
}
