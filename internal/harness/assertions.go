package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Run      int
	Expected string
	Actual   string
	Trace    []TraceEvent // the run's jobs, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (run %d)\n", e.Type, e.Run)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nJobs:\n")
		for i, ev := range e.Trace {
			if ev.Error != "" {
				fmt.Fprintf(&buf, "  [%d] %s %v: %s\n", i+1, ev.Module, ev.Inputs, ev.Error)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s %v -> %v\n", i+1, ev.Module, ev.Inputs, ev.Outputs)
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	n := a.Run
	if n == 0 {
		n = len(result.Runs)
	}
	if n < 1 || n > len(result.Runs) {
		return fmt.Errorf("run %d out of range 1..%d", n, len(result.Runs))
	}
	rr := result.Runs[n-1]

	fail := func(expected, actual string) error {
		var trace []TraceEvent
		for _, ev := range result.Trace {
			if ev.Run == n {
				trace = append(trace, ev)
			}
		}
		return &AssertionError{Type: a.Type, Run: n, Expected: expected, Actual: actual, Trace: trace}
	}
	count := func(what string, actual int) error {
		if actual != a.Count {
			return fail(fmt.Sprintf("%d %s", a.Count, what), fmt.Sprintf("%d %s", actual, what))
		}
		return nil
	}

	switch a.Type {
	case AssertPlan:
		if !slices.Equal(a.Modules, rr.Plan) {
			return fail(fmt.Sprintf("plan %v", a.Modules), fmt.Sprintf("plan %v", rr.Plan))
		}
	case AssertOutputs:
		want := sortedCopy(a.Values)
		got := rr.Outputs[a.Item]
		if !slices.Equal(want, got) {
			return fail(fmt.Sprintf("%s = %v", a.Item, want), fmt.Sprintf("%s = %v", a.Item, got))
		}
	case AssertJobs:
		return count(a.Module+" jobs", rr.Jobs[a.Module])
	case AssertFailed:
		return count("failed jobs", rr.Failed)
	case AssertOutstanding:
		return count("outstanding jobs", rr.Outstanding)
	case AssertArchived:
		return count("archive records", rr.Archived)
	case AssertRunError:
		if rr.ErrorCode != a.Code {
			return fail(fmt.Sprintf("error code %q", a.Code), fmt.Sprintf("error code %q", rr.ErrorCode))
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
