// Package workflow plans and runs a pipeline against a workspace.
//
// Planning turns the module library into transforms over single-property
// kinds (one per item name), asks the solver for the cheapest plan to the
// target items and linearizes it into the ordered step list the instance
// store consumes.
//
// Running follows a single-writer loop:
//
//  1. Launch every runnable job in its own goroutine
//  2. Block until at least one job reports
//  3. Drain every available result and apply them to the store in order
//  4. Update the store, save it, and repeat
//
// Only the Run goroutine touches the store. Job goroutines talk to it
// exclusively through the result queue.
package workflow
