package state

import (
	"slices"
	"strings"

	"github.com/roach88/pipewright/internal/module"
)

// ItemInstance is one realized value of an item.
type ItemInstance struct {
	ID    string
	Item  string
	Value string

	// MadeBy is the job that produced the instance, nil for given data.
	MadeBy *JobInstance

	// seq orders instances of an item by registration.
	seq int64
}

// Given reports whether the instance was supplied rather than produced.
func (i *ItemInstance) Given() bool {
	return i.MadeBy == nil
}

// JobInstance is one execution of a module against specific inputs.
type JobInstance struct {
	ID     string
	Module module.Module

	// Inputs holds the bound instances per input item.
	Inputs map[string][]*ItemInstance

	// Outputs holds the recorded instances per unmasked output. Nil until
	// the job completes.
	Outputs map[string][]*ItemInstance

	Complete bool

	// seq orders jobs by creation.
	seq int64
}

// Folder returns the job folder, relative to the workspace.
func (j *JobInstance) Folder() string {
	return module.FolderName(j.Module.Name(), j.ID)
}

// InputInstances lists bound inputs in module input order.
func (j *JobInstance) InputInstances() []*ItemInstance {
	var out []*ItemInstance
	for _, in := range j.Module.Inputs() {
		out = append(out, j.Inputs[in.Item]...)
	}
	return out
}

// OutputInstances lists recorded outputs in module output order.
func (j *JobInstance) OutputInstances() []*ItemInstance {
	var out []*ItemInstance
	for _, name := range j.Module.Outputs() {
		out = append(out, j.Outputs[name]...)
	}
	return out
}

// Manifest returns the input values per input item.
func (j *JobInstance) Manifest() module.Manifest {
	m := make(module.Manifest, len(j.Inputs))
	for item, insts := range j.Inputs {
		vals := make([]string, len(insts))
		for i, ii := range insts {
			vals[i] = ii.Value
		}
		m[item] = vals
	}
	return m
}

// signature identifies the input combination of a job. Two jobs of one
// module with the same bound instances share a signature.
func signature(moduleName string, inputs map[string][]*ItemInstance) string {
	var ids []string
	for _, insts := range inputs {
		for _, ii := range insts {
			ids = append(ids, ii.ID)
		}
	}
	slices.Sort(ids)
	return moduleName + ":" + strings.Join(ids, "-")
}
