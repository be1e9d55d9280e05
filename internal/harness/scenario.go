package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a pipeline scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Modules are the scripted modules of the library.
	Modules []ModuleSpec `yaml:"modules"`

	Given   map[string][]string `yaml:"given"`
	Targets []string            `yaml:"targets"`

	// Runs are executed in order against one workspace.
	Runs []RunStep `yaml:"runs,omitempty"`

	// Assertions validate the runs and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ModuleSpec declares a scripted module.
type ModuleSpec struct {
	Name    string      `yaml:"name"`
	Inputs  []InputSpec `yaml:"inputs"`
	Outputs []string    `yaml:"outputs"`

	// Emit maps each output to value templates.
	Emit map[string][]string `yaml:"emit"`
}

// InputSpec is a plain item name or an {item, group_by} mapping.
type InputSpec struct {
	Item    string `yaml:"item"`
	GroupBy string `yaml:"group_by,omitempty"`
}

// UnmarshalYAML accepts both input forms.
func (in *InputSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&in.Item)
	}
	type plain InputSpec
	return node.Decode((*plain)(in))
}

// RunStep configures one run.
type RunStep struct {
	Regenerate  []string `yaml:"regenerate,omitempty"`
	RetryFailed bool     `yaml:"retry_failed,omitempty"`

	// Fail lists modules whose jobs fail during this run.
	Fail []string `yaml:"fail,omitempty"`
}

// Assertion validates one run.
type Assertion struct {
	Type string `yaml:"type"`

	// Run selects the run, 1-based. Zero means the last run.
	Run int `yaml:"run,omitempty"`

	Module  string   `yaml:"module,omitempty"`  // jobs
	Modules []string `yaml:"modules,omitempty"` // plan
	Item    string   `yaml:"item,omitempty"`    // outputs
	Values  []string `yaml:"values,omitempty"`  // outputs
	Count   int      `yaml:"count,omitempty"`   // jobs, failed, outstanding, archived
	Code    string   `yaml:"code,omitempty"`    // run_error
}

// Assertion type constants.
const (
	AssertPlan        = "plan"
	AssertOutputs     = "outputs"
	AssertJobs        = "jobs"
	AssertFailed      = "failed"
	AssertOutstanding = "outstanding"
	AssertArchived    = "archived"
	AssertRunError    = "run_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(scenario.Runs) == 0 {
		scenario.Runs = []RunStep{{}}
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Modules) == 0 {
		return fmt.Errorf("modules list is required and must be non-empty")
	}
	if len(s.Targets) == 0 {
		return fmt.Errorf("targets list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i, m := range s.Modules {
		if m.Name == "" {
			return fmt.Errorf("modules[%d]: name is required", i)
		}
		names[m.Name] = true
		for j, in := range m.Inputs {
			if in.Item == "" {
				return fmt.Errorf("modules[%d].inputs[%d]: item is required", i, j)
			}
		}
		for _, out := range m.Outputs {
			if len(m.Emit[out]) == 0 {
				return fmt.Errorf("modules[%d]: no emit templates for output %s", i, out)
			}
		}
	}
	for i, r := range s.Runs {
		for _, name := range r.Fail {
			if !names[name] {
				return fmt.Errorf("runs[%d]: fail names unknown module %s", i, name)
			}
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Runs)); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Run < 0 || a.Run > runs {
		return fmt.Errorf("assertions[%d]: run %d out of range 1..%d", index, a.Run, runs)
	}

	switch a.Type {
	case AssertPlan:
		if len(a.Modules) == 0 {
			return fmt.Errorf("assertions[%d]: modules list is required for plan", index)
		}
	case AssertOutputs:
		if a.Item == "" {
			return fmt.Errorf("assertions[%d]: item is required for outputs", index)
		}
	case AssertJobs:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for jobs", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for jobs", index)
		}
	case AssertFailed, AssertOutstanding, AssertArchived:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRunError:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
