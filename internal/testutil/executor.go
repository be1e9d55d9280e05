package testutil

import (
	"context"
	"sync"

	"github.com/roach88/pipewright/internal/module"
)

// Call records one job handed to a ScriptedExecutor.
type Call struct {
	Module string
	JobID  string
	Inputs module.Manifest
	Output module.Manifest
	Err    error
}

// ScriptedExecutor runs modules in-process, failing the modules it is told
// to fail and recording every call in order of completion.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedExecutor struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []Call
}

// NewScriptedExecutor returns an executor that runs every module.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{fail: map[string]error{}}
}

// Fail makes every later job of moduleName fail with err. A nil err makes
// the module run again.
func (e *ScriptedExecutor) Fail(moduleName string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.fail, moduleName)
		return
	}
	e.fail[moduleName] = err
}

// Execute runs m unless it is scripted to fail.
func (e *ScriptedExecutor) Execute(ctx context.Context, m module.Module, job *module.JobContext) (module.Manifest, error) {
	e.mu.Lock()
	err := e.fail[m.Name()]
	e.mu.Unlock()

	var out module.Manifest
	if err == nil {
		out, err = m.Run(ctx, job)
	}

	e.mu.Lock()
	e.calls = append(e.calls, Call{Module: m.Name(), JobID: job.JobID, Inputs: job.Inputs, Output: out, Err: err})
	e.mu.Unlock()
	return out, err
}

// Calls returns the calls recorded so far.
func (e *ScriptedExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Count returns how many jobs of moduleName were executed.
func (e *ScriptedExecutor) Count(moduleName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Module == moduleName {
			n++
		}
	}
	return n
}
