package solver

import (
	"fmt"
	"strings"
)

// Render formats a result as a numbered plan followed by the target
// application.
func Render(r *Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "steps: %d\n", r.Steps)
	for i, a := range r.Plan {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
	}
	fmt.Fprintf(&sb, "target: %s\n", r.Application)
	return sb.String()
}
