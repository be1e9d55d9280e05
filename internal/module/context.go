package module

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FolderSeparator joins module name and job id in job folder names.
	FolderSeparator = "--"

	// ContextFile is written into every job folder before the job runs.
	ContextFile = "context.json"

	// ResultFile is written by command modules when they finish.
	ResultFile = "result.json"
)

// FolderName returns the job folder name, relative to the workspace.
func FolderName(moduleName, jobID string) string {
	return moduleName + FolderSeparator + jobID
}

// Params are the resource hints handed to every job.
type Params struct {
	Threads        int               `json:"threads" yaml:"threads"`
	MemGB          int               `json:"mem_gb" yaml:"mem_gb"`
	FileSystemWait time.Duration     `json:"file_system_wait" yaml:"file_system_wait"`
	Extra          map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DefaultParams returns 4 threads, 8 GB and a 5 second file-system wait.
func DefaultParams() Params {
	return Params{Threads: 4, MemGB: 8, FileSystemWait: 5 * time.Second}
}

// JobContext describes one job to the module that runs it.
type JobContext struct {
	JobID  string `json:"job_id"`
	Module string `json:"module"`

	// Workspace is the absolute workspace path.
	Workspace string `json:"workspace"`

	// Folder is the job folder, relative to Workspace.
	Folder string `json:"output_folder"`

	// Inputs holds the bound values per input item.
	Inputs Manifest `json:"manifest"`

	Params Params `json:"params"`
}

// Dir returns the absolute job folder.
func (c *JobContext) Dir() string {
	return filepath.Join(c.Workspace, c.Folder)
}

// Rel returns a job-folder file as a workspace-relative path, the form
// modules report outputs in.
func (c *JobContext) Rel(name string) string {
	return filepath.Join(c.Folder, name)
}

// Save writes the context into the job folder, creating it if needed.
func (c *JobContext) Save() error {
	if err := os.MkdirAll(c.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create job folder: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode job context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir(), ContextFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write job context: %w", err)
	}
	return nil
}

// LoadContext reads a job context from a job folder.
func LoadContext(dir string) (*JobContext, error) {
	data, err := os.ReadFile(filepath.Join(dir, ContextFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read job context: %w", err)
	}
	var c JobContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode job context: %w", err)
	}
	return &c, nil
}

// Result is the manifest a command module leaves in its job folder.
type Result struct {
	Manifest     Manifest `json:"manifest"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// ReadResult reads result.json from a job folder.
func ReadResult(dir string) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read job result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	return &r, nil
}
