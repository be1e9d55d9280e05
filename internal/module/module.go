// Package module defines compute modules: the units of work a workflow
// schedules once per valid combination of input instances.
//
// A module declares the items it consumes and produces. An input may be
// grouped by an upstream item, in which case every instance of the input that
// descends from one instance of the upstream item is consumed together.
//
// Modules are plain values implementing Module. They are constructed from
// Definitions by a Registry of factories; nothing is loaded dynamically.
package module

import (
	"context"
	"fmt"
	"strings"
)

// Input declares one consumed item.
type Input struct {
	// Item names the consumed item.
	Item string `json:"item"`

	// GroupBy names an upstream item. Empty means every instance of Item is
	// consumed on its own.
	GroupBy string `json:"group_by,omitempty"`
}

// Grouped reports whether the input is grouped by an upstream item.
func (i Input) Grouped() bool {
	return i.GroupBy != ""
}

// Manifest maps item names to values, usually file paths relative to the
// workspace.
type Manifest map[string][]string

// Module is a compute module.
type Module interface {
	// Name uniquely identifies the module within a workflow.
	Name() string

	// Inputs returns the consumed items in declaration order.
	Inputs() []Input

	// Outputs returns the produced items in declaration order.
	Outputs() []string

	// Run executes one job. The returned manifest maps each produced output
	// to one or more values.
	Run(ctx context.Context, job *JobContext) (Manifest, error)
}

// Definition is the declarative description of a module.
type Definition struct {
	Name    string
	Kind    string
	Inputs  []Input
	Outputs []string
	Config  Config
}

// Config is module-specific configuration, opaque to the workflow.
type Config map[string]any

// String returns the config value for key, or "" if absent or not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Validate checks the definition is well-formed.
//
// Rules:
//   - name is non-empty and contains neither "/" nor "--"
//   - at least one input and one output
//   - item names are unique within inputs and within outputs
//   - no item is both consumed and produced
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("module: name is required")
	}
	if strings.Contains(d.Name, "/") || strings.Contains(d.Name, FolderSeparator) {
		return fmt.Errorf("module: name %q may not contain %q or %q", d.Name, "/", FolderSeparator)
	}
	if len(d.Inputs) == 0 {
		return fmt.Errorf("module: %s declares no inputs", d.Name)
	}
	if len(d.Outputs) == 0 {
		return fmt.Errorf("module: %s declares no outputs", d.Name)
	}

	ins := make(map[string]bool, len(d.Inputs))
	for _, in := range d.Inputs {
		if in.Item == "" {
			return fmt.Errorf("module: %s has an unnamed input", d.Name)
		}
		if ins[in.Item] {
			return fmt.Errorf("module: %s consumes %s twice", d.Name, in.Item)
		}
		ins[in.Item] = true
	}

	outs := make(map[string]bool, len(d.Outputs))
	for _, out := range d.Outputs {
		if out == "" {
			return fmt.Errorf("module: %s has an unnamed output", d.Name)
		}
		if outs[out] {
			return fmt.Errorf("module: %s produces %s twice", d.Name, out)
		}
		if ins[out] {
			return fmt.Errorf("module: %s both consumes and produces %s", d.Name, out)
		}
		outs[out] = true
	}
	return nil
}

// base implements the declarative half of Module.
type base struct {
	def Definition
}

func (b *base) Name() string      { return b.def.Name }
func (b *base) Inputs() []Input   { return b.def.Inputs }
func (b *base) Outputs() []string { return b.def.Outputs }

// RunFunc is the body of an in-process module.
type RunFunc func(ctx context.Context, job *JobContext) (Manifest, error)

type funcModule struct {
	base
	fn RunFunc
}

// NewFunc returns a module that runs fn in-process.
func NewFunc(def Definition, fn RunFunc) (Module, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("module: %s has no run function", def.Name)
	}
	return &funcModule{base: base{def: def}, fn: fn}, nil
}

// MustFunc is NewFunc that panics on error.
func MustFunc(def Definition, fn RunFunc) Module {
	m, err := NewFunc(def, fn)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *funcModule) Run(ctx context.Context, job *JobContext) (Manifest, error) {
	return m.fn(ctx, job)
}

// Describe returns the declarative part of m as a Definition.
func Describe(m Module) Definition {
	return Definition{Name: m.Name(), Inputs: m.Inputs(), Outputs: m.Outputs()}
}
