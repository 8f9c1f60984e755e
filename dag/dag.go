// Package dag implements the DAG Planner and Executor: workflow
// validation (tool existence, dependency integrity, cycle detection,
// reference-string well-formedness), topological layering for parallel
// dispatch, and execution with retries, timeouts, and on_error semantics,
// per spec.md §4.6.
package dag

import (
	"sort"
	"strings"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// ToolChecker is the minimal Gateway surface the planner needs to
// validate that every referenced tool id actually exists.
type ToolChecker interface {
	HasTool(id string) bool
}

// Validate checks a workflow's structural invariants: every task id is
// unique, every tool id exists (via tools), every depends_on id refers to
// another task in the same workflow, the dependency graph is acyclic,
// and every "$OUTPUT[id]..." reference in a task's arguments names a
// task that is actually one of its declared dependencies.
func Validate(wf *types.Workflow, tools ToolChecker) error {
	if len(wf.Tasks) == 0 {
		return pmlerr.New(pmlerr.InvalidArgument, "workflow has no tasks")
	}

	seen := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if t.ID == "" {
			return pmlerr.New(pmlerr.InvalidArgument, "task has empty id")
		}
		if seen[t.ID] {
			return pmlerr.New(pmlerr.InvalidArgument, "duplicate task id: "+t.ID)
		}
		seen[t.ID] = true
	}

	for _, t := range wf.Tasks {
		if tools != nil && !tools.HasTool(t.Tool) {
			return pmlerr.New(pmlerr.NotFound, "unknown tool: "+t.Tool).WithTaskID(t.ID)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return pmlerr.New(pmlerr.InvalidArgument, "depends_on references unknown task: "+dep).WithTaskID(t.ID)
			}
			if dep == t.ID {
				return pmlerr.New(pmlerr.InvalidArgument, "task depends on itself: "+t.ID).WithTaskID(t.ID)
			}
		}
		refs, err := referencedTaskIDs(t.Arguments)
		if err != nil {
			return pmlerr.Wrap(pmlerr.InvalidArgument, err, "parse arguments").WithTaskID(t.ID)
		}
		deps := make(map[string]bool, len(t.DependsOn))
		for _, d := range t.DependsOn {
			deps[d] = true
		}
		for _, ref := range refs {
			if !deps[ref] {
				return pmlerr.New(pmlerr.InvalidArgument, "argument references task "+ref+" which is not in depends_on").WithTaskID(t.ID)
			}
		}
	}

	if _, err := Layer(wf); err != nil {
		return err
	}
	return nil
}

// Layer partitions a validated workflow's tasks into ordered layers for
// parallel dispatch: layer(t) = 1 + max(layer(d) for d in depends_on), or
// 1 if t has no dependencies. Returns InvalidArgument if the dependency
// graph contains a cycle.
func Layer(wf *types.Workflow) ([][]string, error) {
	byID := make(map[string]types.Task, len(wf.Tasks))
	indegree := make(map[string]int, len(wf.Tasks))
	dependents := make(map[string][]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byID[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
	}
	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	layerOf := make(map[string]int, len(wf.Tasks))
	var frontier []string
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
			layerOf[id] = 1
		}
	}
	sort.Strings(frontier)

	visited := 0
	var layers [][]string
	remaining := indegree
	for len(frontier) > 0 {
		sort.Strings(frontier)
		layerNum := layerOf[frontier[0]]
		var thisLayer []string
		var next []string
		for _, id := range frontier {
			thisLayer = append(thisLayer, id)
			visited++
			for _, dep := range dependents[id] {
				remaining[dep]--
				if l := layerNum + 1; l > layerOf[dep] {
					layerOf[dep] = l
				}
				if remaining[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(thisLayer)
		layers = append(layers, thisLayer)
		frontier = next
	}

	if visited != len(wf.Tasks) {
		var cyclic []string
		for _, t := range wf.Tasks {
			if remaining[t.ID] > 0 {
				cyclic = append(cyclic, t.ID)
			}
		}
		sort.Strings(cyclic)
		return nil, pmlerr.New(pmlerr.InvalidArgument, "workflow dependency graph contains a cycle among tasks: "+strings.Join(cyclic, ", "))
	}
	return layers, nil
}
