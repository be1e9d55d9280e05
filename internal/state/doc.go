// Package state is the instance store of a workflow run.
//
// The store records every ItemInstance (a realized value of an item) and
// every JobInstance (one scheduled execution of a module against specific
// input instances), together with the reservations linking each item
// instance to the jobs that consumed it. Update discovers new input
// combinations; RegisterJobComplete records outputs; Invalidate removes a
// subtree of results; Save and LoadFromDisk persist the whole store as
// workflow_state.json in the workspace.
//
// Thread-safety: every exported method takes the store's mutation lock.
// Callers still serialize completions through a single loop so that each
// batch of results becomes one state transition.
package state
