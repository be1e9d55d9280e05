package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/pipewright/internal/module"
)

// CycleWarning represents a cycle in the module graph.
//
// Cycles are warnings, not errors: the planner only ever uses an acyclic
// part of the library, and a cycle may be a refinement loop that a given
// item short-circuits.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["polish", "align", "polish"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds cycles in the module graph, where a module points at
// every module that consumes one of its outputs.
//
// The algorithm:
//  1. Build producer → consumer edges from declared inputs and outputs
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// A DAG returns an empty warning list.
func AnalyzeCycles(defs []module.Definition) []CycleWarning {
	graph := buildDependencyGraph(defs)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// dependencyGraph maps module name → modules consuming its outputs.
type dependencyGraph map[string][]string

func buildDependencyGraph(defs []module.Definition) dependencyGraph {
	consumers := map[string][]string{}
	for _, def := range defs {
		for _, in := range def.Inputs {
			consumers[in.Item] = append(consumers[in.Item], def.Name)
		}
	}

	graph := make(dependencyGraph, len(defs))
	for _, def := range defs {
		seen := map[string]bool{}
		graph[def.Name] = []string{}
		for _, out := range def.Outputs {
			for _, c := range consumers[out] {
				if !seen[c] {
					seen[c] = true
					graph[def.Name] = append(graph[def.Name], c)
				}
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the output is deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("module consumes its own output: %s -> %s", name, name),
			Level:   "warning",
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("module cycle: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := map[string]bool{}
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
