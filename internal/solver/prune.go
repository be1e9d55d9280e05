package solver

import "github.com/roach88/pipewright/internal/kind"

// prune drops applications whose outputs nothing downstream consumes,
// repeating until every remaining application feeds a later one or the
// target application.
func prune(plan []*kind.Application, target *kind.Application) []*kind.Application {
	for {
		consumed := make(map[string]bool)
		for _, b := range target.Used {
			consumed[b.Endpoint.Signature()] = true
		}
		for _, a := range plan {
			for _, b := range a.Used {
				consumed[b.Endpoint.Signature()] = true
			}
		}

		kept := plan[:0:0]
		for _, a := range plan {
			if live(a, consumed) {
				kept = append(kept, a)
			}
		}
		if len(kept) == len(plan) {
			return kept
		}
		plan = kept
	}
}

func live(a *kind.Application, consumed map[string]bool) bool {
	for _, b := range a.Produced {
		if consumed[b.Endpoint.Signature()] {
			return true
		}
	}
	return false
}

// Live reports whether every application in r's plan produces something a
// later application or the target consumes.
func Live(r *Result) bool {
	return len(prune(r.Plan, r.Application)) == len(r.Plan)
}
