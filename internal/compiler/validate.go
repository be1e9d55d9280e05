package compiler

import (
	"fmt"

	"github.com/roach88/pipewright/internal/module"
)

// Validation error codes (E100-E199)
const (
	ErrModuleInvalid     = "E101" // module definition fails its own rules
	ErrDuplicateModule   = "E102" // two modules share a name
	ErrUnknownGroupBy    = "E103" // group_by names an item no module mentions
	ErrUnknownKind       = "E104" // no factory registered for kind
	ErrSelfGroupedOutput = "E105" // module groups by an item it produces
)

// ValidationError represents a module set validation error.
type ValidationError struct {
	Module  string `json:"module"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Module, e.Message)
}

// Validate checks a module set. Returns all errors found (does not
// fail-fast). kinds lists the registered module kinds; nil skips the kind
// check.
func Validate(defs []module.Definition, kinds []string) []ValidationError {
	var errs []ValidationError

	known := map[string]bool{}
	for _, k := range kinds {
		known[k] = true
	}
	items := map[string]bool{}
	for _, def := range defs {
		for _, in := range def.Inputs {
			items[in.Item] = true
		}
		for _, out := range def.Outputs {
			items[out] = true
		}
	}

	names := map[string]bool{}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			errs = append(errs, ValidationError{Module: def.Name, Message: err.Error(), Code: ErrModuleInvalid})
		}
		if names[def.Name] {
			errs = append(errs, ValidationError{Module: def.Name, Message: "module defined twice", Code: ErrDuplicateModule})
		}
		names[def.Name] = true

		if kinds != nil && !known[def.Kind] {
			errs = append(errs, ValidationError{
				Module:  def.Name,
				Message: fmt.Sprintf("unknown kind %q", def.Kind),
				Code:    ErrUnknownKind,
			})
		}

		outs := map[string]bool{}
		for _, out := range def.Outputs {
			outs[out] = true
		}
		for _, in := range def.Inputs {
			if !in.Grouped() {
				continue
			}
			if !items[in.GroupBy] {
				errs = append(errs, ValidationError{
					Module:  def.Name,
					Message: fmt.Sprintf("%s is grouped by %s, which no module consumes or produces", in.Item, in.GroupBy),
					Code:    ErrUnknownGroupBy,
				})
			}
			if outs[in.GroupBy] {
				errs = append(errs, ValidationError{
					Module:  def.Name,
					Message: fmt.Sprintf("%s is grouped by %s, which the module itself produces", in.Item, in.GroupBy),
					Code:    ErrSelfGroupedOutput,
				})
			}
		}
	}
	return errs
}

// Build validates defs and constructs their modules from registry.
func Build(defs []module.Definition, registry *module.Registry) ([]module.Module, error) {
	if errs := Validate(defs, registry.Kinds()); len(errs) > 0 {
		return nil, errs[0]
	}
	return registry.ResolveAll(defs)
}
