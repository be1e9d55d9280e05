// Package compiler turns CUE module definitions into module.Definitions.
//
// A module is declared under the top-level "module" struct:
//
//	module: assemble: {
//		kind: "command"
//		inputs: ["reads", {item: "meta", group_by: "sample"}]
//		outputs: ["contigs"]
//		config: command: "spades.py ..."
//	}
//
// Inputs may be plain item names or {item, group_by} structs. kind defaults
// to "command".
package compiler

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pipewright/internal/module"
)

//go:embed schema.cue
var schemaSource []byte

// CompileModule parses a CUE value into a module definition. The value
// should be the module struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`module: assemble: { ... }`)
//	def, err := CompileModule(v.LookupPath(cue.ParsePath("module.assemble")))
func CompileModule(v cue.Value) (*module.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &module.Definition{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].Unquoted()
	}

	schema := v.Context().CompileBytes(schemaSource).LookupPath(cue.ParsePath("#Module"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiler: bad embedded schema: %w", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	kind, err := v.LookupPath(cue.ParsePath("kind")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	def.Kind = kind

	if def.Inputs, err = parseInputs(v.LookupPath(cue.ParsePath("inputs"))); err != nil {
		return nil, err
	}
	if len(def.Inputs) == 0 {
		return nil, &CompileError{Field: "inputs", Message: "at least one input is required", Pos: v.Pos()}
	}

	if def.Outputs, err = parseStrings(v.LookupPath(cue.ParsePath("outputs"))); err != nil {
		return nil, err
	}
	if len(def.Outputs) == 0 {
		return nil, &CompileError{Field: "outputs", Message: "at least one output is required", Pos: v.Pos()}
	}

	configVal := v.LookupPath(cue.ParsePath("config"))
	if configVal.Exists() {
		var cfg map[string]any
		if err := configVal.Decode(&cfg); err != nil {
			return nil, formatCUEError(err)
		}
		def.Config = cfg
	}

	if err := def.Validate(); err != nil {
		return nil, &CompileError{Field: "module", Message: err.Error(), Pos: v.Pos()}
	}
	return def, nil
}

// CompileModules compiles every field of the top-level "module" struct of
// v, in declaration order. It returns the definitions that compiled and one
// error per module that did not.
func CompileModules(v cue.Value) ([]module.Definition, []error) {
	modsVal := v.LookupPath(cue.ParsePath("module"))
	if !modsVal.Exists() {
		return nil, []error{&CompileError{Field: "module", Message: "no modules defined", Pos: v.Pos()}}
	}
	iter, err := modsVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var defs []module.Definition
	var errs []error
	for iter.Next() {
		def, err := CompileModule(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, *def)
	}
	return defs, errs
}

// parseInputs accepts plain item names and {item, group_by} structs.
func parseInputs(v cue.Value) ([]module.Input, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var inputs []module.Input
	for iter.Next() {
		elem := iter.Value()
		if name, err := elem.String(); err == nil {
			inputs = append(inputs, module.Input{Item: name})
			continue
		}
		var in module.Input
		item, err := elem.LookupPath(cue.ParsePath("item")).String()
		if err != nil {
			return nil, &CompileError{Field: "inputs", Message: "input must be a string or {item, group_by}", Pos: elem.Pos()}
		}
		in.Item = item
		if gb := elem.LookupPath(cue.ParsePath("group_by")); gb.Exists() {
			if in.GroupBy, err = gb.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func parseStrings(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a compile failure with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
