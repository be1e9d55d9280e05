// Package executor runs jobs on behalf of the dispatch loop.
//
// An Executor receives a module and the job's context and returns the
// produced manifest. The dispatch loop does not care how the job runs; this
// package provides the in-process Local executor used by the CLI and a Func
// adapter for tests.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"

	"github.com/roach88/pipewright/internal/module"
)

// Executor runs one job and reports what it produced.
type Executor interface {
	Execute(ctx context.Context, m module.Module, job *module.JobContext) (module.Manifest, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, m module.Module, job *module.JobContext) (module.Manifest, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, m module.Module, job *module.JobContext) (module.Manifest, error) {
	return f(ctx, m, job)
}

// MissingResultError reports an output a job promised but did not deliver.
type MissingResultError struct {
	Module string
	JobID  string
	Item   string
	Path   string // empty when the item is absent from the manifest
}

func (e *MissingResultError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s (job %s) reported no value for output %s", e.Module, e.JobID, e.Item)
	}
	return fmt.Sprintf("%s (job %s) promised output %s at [%s], which is missing", e.Module, e.JobID, e.Item, e.Path)
}

// IsMissingResult returns true if err is a MissingResultError.
// Uses errors.As to handle wrapped errors.
func IsMissingResult(err error) bool {
	var me *MissingResultError
	return errors.As(err, &me)
}

// Local runs modules in-process and verifies their outputs on the
// workspace file system.
type Local struct {
	fs afs.Service

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// LocalOption configures a Local executor.
type LocalOption func(*Local)

// WithFileService sets the file service used to create job folders and
// verify outputs. Defaults to afs.New().
func WithFileService(fs afs.Service) LocalOption {
	return func(l *Local) {
		l.fs = fs
	}
}

// NewLocal creates a Local executor.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{fs: afs.New(), sleep: sleepContext}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute creates the job folder, runs m and checks every declared output
// was reported. Values that point into the job folder (or are absolute)
// are treated as files and must exist; anything else is a raw value.
// Missing files get one grace period of job.Params.FileSystemWait before the
// job fails, for shared file systems that surface writes late.
func (l *Local) Execute(ctx context.Context, m module.Module, job *module.JobContext) (module.Manifest, error) {
	if err := l.fs.Create(ctx, job.Dir(), os.ModeDir|0o755, true); err != nil {
		return nil, fmt.Errorf("failed to create job folder %s: %w", job.Folder, err)
	}

	slog.Debug("running job", "job_id", job.JobID, "module", m.Name(), "folder", job.Folder)
	manifest, err := m.Run(ctx, job)
	if err != nil {
		return nil, err
	}

	missing, err := l.missing(ctx, m, job, manifest)
	if err != nil {
		return nil, err
	}
	if missing != nil && missing.Path != "" && job.Params.FileSystemWait > 0 {
		slog.Info("waiting for file system",
			"job_id", job.JobID,
			"module", m.Name(),
			"wait", job.Params.FileSystemWait)
		l.sleep(ctx, job.Params.FileSystemWait)
		if missing, err = l.missing(ctx, m, job, manifest); err != nil {
			return nil, err
		}
	}
	if missing != nil {
		return nil, missing
	}
	return manifest, nil
}

// missing returns the first promised output that is not there.
func (l *Local) missing(ctx context.Context, m module.Module, job *module.JobContext, manifest module.Manifest) (*MissingResultError, error) {
	for _, item := range m.Outputs() {
		values := manifest[item]
		if len(values) == 0 {
			return &MissingResultError{Module: m.Name(), JobID: job.JobID, Item: item}, nil
		}
		for _, v := range values {
			path, ok := filePath(job, v)
			if !ok {
				continue
			}
			exists, err := l.fs.Exists(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to check output %s: %w", v, err)
			}
			if !exists {
				return &MissingResultError{Module: m.Name(), JobID: job.JobID, Item: item, Path: v}, nil
			}
		}
	}
	return nil, nil
}

// filePath resolves v to an absolute path if it names a file.
func filePath(job *module.JobContext, v string) (string, bool) {
	if filepath.IsAbs(v) {
		return v, true
	}
	clean := filepath.Clean(v)
	if clean == job.Folder || strings.HasPrefix(clean, job.Folder+string(filepath.Separator)) {
		return filepath.Join(job.Workspace, clean), true
	}
	return "", false
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
