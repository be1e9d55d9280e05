// Package config loads run configurations.
//
// A run configuration names the workspace, the module library, the targets
// and the given data of one pipeline:
//
//	workspace: ./ws
//	modules: ./modules
//	targets: [summary]
//	given:
//	  reads: [./data/a.fq, ./data/b.fq]
//	  sample: [S1]
//	journal: ./ws/journal.db
//	params: {threads: 8, mem_gb: 16, file_system_wait: 10s}
//
// Relative paths resolve against the configuration file's directory. A
// given value is a path only if it names an existing file; anything else is
// a raw value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pipewright/internal/module"
)

// Config is one run configuration.
type Config struct {
	// Workspace is the directory that holds job folders and saved state.
	Workspace string `yaml:"workspace"`

	// Modules is a directory of CUE module definitions.
	Modules string `yaml:"modules"`

	// Targets lists the item names to produce.
	Targets []string `yaml:"targets"`

	// Given maps item names to the values already available.
	Given map[string][]string `yaml:"given"`

	// Regenerate lists items to invalidate, with everything derived from
	// them, before the run.
	Regenerate []string `yaml:"regenerate,omitempty"`

	// Journal is an optional SQLite run journal.
	Journal string `yaml:"journal,omitempty"`

	StopOnFailure bool `yaml:"stop_on_failure,omitempty"`
	RetryFailed   bool `yaml:"retry_failed,omitempty"`

	// Horizon overrides the planner's recursion depth limit when > 0.
	Horizon int `yaml:"horizon,omitempty"`

	// Params are handed to every job. Unset fields keep their defaults.
	Params module.Params `yaml:"params"`
}

// Load reads, resolves and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes a configuration and resolves relative paths against
// baseDir. Unknown keys are rejected.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := &Config{Params: module.DefaultParams()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.resolve(baseDir)
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Workspace == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	if c.Modules == "" {
		errs = append(errs, errors.New("modules is required"))
	}
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("targets list is required and must be non-empty"))
	}
	for i, t := range c.Targets {
		if t == "" {
			errs = append(errs, fmt.Errorf("targets[%d] is empty", i))
		}
	}
	for item, values := range c.Given {
		if len(values) == 0 {
			errs = append(errs, fmt.Errorf("given %s has no values", item))
		}
	}
	if c.Params.Threads < 0 || c.Params.MemGB < 0 || c.Params.FileSystemWait < 0 {
		errs = append(errs, errors.New("params must not be negative"))
	}
	if c.Horizon < 0 {
		errs = append(errs, errors.New("horizon must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) resolve(baseDir string) {
	c.Workspace = resolvePath(baseDir, c.Workspace)
	c.Modules = resolvePath(baseDir, c.Modules)
	if c.Journal != "" {
		c.Journal = resolvePath(baseDir, c.Journal)
	}
	for item, values := range c.Given {
		for i, v := range values {
			values[i] = resolveValue(baseDir, v)
		}
		c.Given[item] = values
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// resolveValue turns a given value into an absolute path when it names an
// existing file, and leaves it unchanged otherwise.
func resolveValue(baseDir, v string) string {
	p := resolvePath(baseDir, v)
	if _, err := os.Stat(p); err != nil {
		return v
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
