// Package harness runs pipeline scenarios: small workflows described in YAML
// whose modules are scripted in-process, so the scheduling behaviour of the
// workflow package can be exercised without running real tools.
//
// # Scenario Format
//
//	name: group_by
//	description: "Reports collect the processed parts of each sample"
//	modules:
//	  - name: split
//	    inputs: [sample]
//	    outputs: [part]
//	    emit:
//	      part: ["{sample}-1", "{sample}-2"]
//	  - name: collect
//	    inputs:
//	      - {item: part, group_by: sample}
//	    outputs: [report]
//	    emit:
//	      report: ["{part}"]
//	given:
//	  sample: [a, b]
//	targets: [report]
//	runs:
//	  - fail: [collect]
//	  - retry_failed: true
//	assertions:
//	  - type: outputs
//	    item: report
//	    values: ["a-1+a-2", "b-1+b-2"]
//
// Each emit template produces one output value. "{item}" expands to the
// job's values for that input, sorted and joined with "+".
//
// Runs execute in order against the same workspace, so later runs resume
// the earlier ones. A scenario without runs executes once.
//
// # Assertion Types
//
//   - plan: the modules of the run's plan, in order
//   - outputs: the values of a target item at the end of the run
//   - jobs: how many jobs of a module the run executed
//   - failed: how many jobs failed in the run
//   - outstanding: how many jobs were left pending
//   - archived: how many journal archive records the run wrote
//   - run_error: the run's error code, empty for success
//
// Every assertion applies to the last run unless it names one with run: N
// (1-based).
//
// # Deterministic Testing
//
// Job and run ids come from testutil sequential generators and the trace is
// sorted, so identical scenarios produce byte-identical golden snapshots.
package harness
