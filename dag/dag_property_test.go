package dag

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Casys-AI/pml-std-sub000/types"
)

// genLayeredWorkflow generates an acyclic workflow of 1-30 tasks in which
// each task depends only on tasks declared before it (chosen by pickDeps),
// so the graph is constructed cycle-free by design.
func genLayeredWorkflow() gopter.Gen {
	return gen.IntRange(1, 30).Map(func(n int) *types.Workflow {
		tasks := make([]types.Task, 0, n)
		var priorIDs []string
		for id := 0; id < n; id++ {
			taskID := fmt.Sprintf("t%d", id)
			deps := pickDeps(priorIDs, id)
			tasks = append(tasks, types.Task{ID: taskID, Tool: "t:noop", DependsOn: deps, Arguments: json.RawMessage(`{}`)})
			priorIDs = append(priorIDs, taskID)
		}
		return &types.Workflow{Tasks: tasks}
	})
}

// pickDeps deterministically selects a small subset of already-declared
// task ids as dependencies, guaranteeing every dependency is strictly
// earlier than the depending task.
func pickDeps(priorIDs []string, seed int) []string {
	if len(priorIDs) == 0 {
		return nil
	}
	var deps []string
	for i, id := range priorIDs {
		if (seed+i)%3 == 0 {
			deps = append(deps, id)
		}
	}
	return deps
}

// TestLayerCoversAllTasksProperty verifies P4: for every workflow DAG with
// no declared cycle, Kahn's algorithm produces a layering that contains
// every task exactly once.
func TestLayerCoversAllTasksProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("layering covers every task exactly once", prop.ForAll(
		func(wf *types.Workflow) bool {
			layers, err := Layer(wf)
			if err != nil {
				return false
			}
			seen := make(map[string]bool, len(wf.Tasks))
			count := 0
			for _, layer := range layers {
				for _, id := range layer {
					if seen[id] {
						return false
					}
					seen[id] = true
					count++
				}
			}
			return count == len(wf.Tasks)
		},
		genLayeredWorkflow(),
	))

	properties.TestingRun(t)
}
