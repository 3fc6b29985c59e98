// Package workflow validates CKDL workflow documents: cycle detection,
// cycle classification (closed-loop verification, request-response, or
// problematic), kernel-existence checks against an ontology store, edge
// predicate allow-listing, and orphaned-kernel detection. The Rust original
// ran these checks as SPARQL property-path queries over an RDF graph; here
// the same checks run as a plain adjacency-map DFS over the CKDL document's
// own edges, since there is no RDF store in this implementation.
package workflow

import (
	"fmt"
	"strings"

	"ckcore/internal/ckdl"
	"ckcore/internal/ontology"
	"ckcore/internal/urn"
)

// CycleType classifies a detected cycle.
type CycleType int

const (
	CycleProblematic CycleType = iota
	CycleRequestResponse
	CycleClosedLoopVerification
)

func (t CycleType) String() string {
	switch t {
	case CycleRequestResponse:
		return "RequestResponse"
	case CycleClosedLoopVerification:
		return "ClosedLoopVerification"
	default:
		return "Problematic"
	}
}

// Cycle is one detected cycle in the workflow graph.
type Cycle struct {
	Kernels         []string
	IsIntentional   bool
	HasExitCondition bool
	Type            CycleType
}

// Validation is the full result of validating a workflow document.
type Validation struct {
	IsValid           bool
	Cycles            []Cycle
	MissingKernels    []string
	InvalidPredicates []string
	Orphaned          []string
	Warnings          []string
	Errors            []string
}

type graphEdge struct {
	target  string
	trigger string
}

// Validate runs the full suite of structural checks against doc. ontologyStore
// supplies kernel existence and predicate allow-listing; pass nil to skip
// those two checks (e.g. validating a standalone CKDL file with no project
// context yet).
func Validate(doc *ckdl.Document, store *ontology.Store) (Validation, error) {
	graph := buildGraph(doc)

	cycles := detectCycles(graph)

	var warnings, errs []string
	for _, c := range cycles {
		if !c.IsIntentional {
			warnings = append(warnings, fmt.Sprintf("Problematic cycle detected: %v (no clear exit condition)", c.Kernels))
		}
	}

	missing, err := missingKernels(doc, store)
	if err != nil {
		return Validation{}, err
	}
	for _, k := range missing {
		errs = append(errs, "Missing kernel dependency: "+k)
	}

	invalidPredicates, err := invalidPredicates(doc, store)
	if err != nil {
		return Validation{}, err
	}
	for _, p := range invalidPredicates {
		errs = append(errs, "Invalid edge predicate: "+p)
	}

	orphaned := findOrphaned(doc, graph)
	for _, k := range orphaned {
		warnings = append(warnings, "Orphaned kernel (not connected): "+k)
	}

	return Validation{
		IsValid:           len(errs) == 0,
		Cycles:            cycles,
		MissingKernels:    missing,
		InvalidPredicates: invalidPredicates,
		Orphaned:          orphaned,
		Warnings:          warnings,
		Errors:            errs,
	}, nil
}

func buildGraph(doc *ckdl.Document) map[string][]graphEdge {
	graph := map[string][]graphEdge{}
	for _, e := range doc.Edges {
		graph[e.Source] = append(graph[e.Source], graphEdge{target: e.Target, trigger: e.Trigger})
	}
	return graph
}

func detectCycles(graph map[string][]graphEdge) []Cycle {
	visited := map[string]bool{}
	recStack := map[string]bool{}
	var path []string
	var rawCycles [][]string

	for node := range graph {
		if !visited[node] {
			dfsDetectCycles(node, graph, visited, recStack, &path, &rawCycles)
		}
	}

	var cycles []Cycle
	seen := map[string]bool{}
	for _, kernels := range rawCycles {
		key := urn.CanonicalCycleKey(kernels)
		if seen[key] {
			continue
		}
		seen[key] = true

		intentional, cycleType, hasExit := classifyCycle(kernels, graph)
		cycles = append(cycles, Cycle{
			Kernels:          kernels,
			IsIntentional:    intentional,
			HasExitCondition: hasExit,
			Type:             cycleType,
		})
	}
	return cycles
}

func dfsDetectCycles(node string, graph map[string][]graphEdge, visited, recStack map[string]bool, path *[]string, cycles *[][]string) {
	visited[node] = true
	recStack[node] = true
	*path = append(*path, node)

	for _, edge := range graph[node] {
		if !visited[edge.target] {
			dfsDetectCycles(edge.target, graph, visited, recStack, path, cycles)
		} else if recStack[edge.target] {
			for i, n := range *path {
				if n == edge.target {
					cycle := append([]string(nil), (*path)[i:]...)
					*cycles = append(*cycles, cycle)
					break
				}
			}
		}
	}

	*path = (*path)[:len(*path)-1]
	recStack[node] = false
}

// classifyCycle mirrors the Rust original's pattern match exactly:
// Validator+Wss with >=5 nodes is a closed-loop verification cycle; exactly
// 2 nodes is a request-response cycle; anything else is problematic.
func classifyCycle(kernels []string, graph map[string][]graphEdge) (intentional bool, cycleType CycleType, hasExit bool) {
	hasValidator := false
	hasWss := false
	for _, k := range kernels {
		if strings.Contains(k, "Validator") {
			hasValidator = true
		}
		if strings.Contains(k, "Wss") {
			hasWss = true
		}
	}

	if hasValidator && hasWss && len(kernels) >= 5 {
		return true, CycleClosedLoopVerification, checkExitConditions(kernels, graph)
	}
	if len(kernels) == 2 {
		return true, CycleRequestResponse, checkExitConditions(kernels, graph)
	}
	return false, CycleProblematic, false
}

func checkExitConditions(kernels []string, graph map[string][]graphEdge) bool {
	inCycle := map[string]bool{}
	for _, k := range kernels {
		inCycle[k] = true
	}
	for _, k := range kernels {
		for _, edge := range graph[k] {
			if inCycle[edge.target] && (strings.Contains(edge.trigger, "when") || strings.Contains(edge.trigger, "if")) {
				return true
			}
		}
	}
	return false
}

func missingKernels(doc *ckdl.Document, store *ontology.Store) ([]string, error) {
	if store == nil {
		return nil, nil
	}
	referenced := map[string]bool{}
	for _, e := range doc.Edges {
		referenced[e.Source] = true
		referenced[e.Target] = true
	}
	var missing []string
	for k := range referenced {
		exists, err := store.KernelExists(k)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

func invalidPredicates(doc *ckdl.Document, store *ontology.Store) ([]string, error) {
	if store == nil {
		return nil, nil
	}
	used := map[string]bool{}
	for _, e := range doc.Edges {
		used[e.Predicate] = true
	}
	var invalid []string
	for p := range used {
		allowed, err := store.PredicateAllowed(p)
		if err != nil {
			return nil, err
		}
		if !allowed {
			invalid = append(invalid, p)
		}
	}
	return invalid, nil
}

func findOrphaned(doc *ckdl.Document, graph map[string][]graphEdge) []string {
	connected := map[string]bool{}
	for _, e := range doc.Edges {
		connected[e.Source] = true
		connected[e.Target] = true
	}
	var orphaned []string
	for _, k := range doc.Kernels {
		if !connected[k.Urn] {
			orphaned = append(orphaned, k.Urn)
		}
	}
	return orphaned
}
