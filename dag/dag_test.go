package dag

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casys-AI/pml-std-sub000/gateway"
	"github.com/Casys-AI/pml-std-sub000/gateway/local"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

type fakeTools map[string]bool

func (f fakeTools) HasTool(id string) bool { return f[id] }

func TestLayerComputesTopologicalLayers(t *testing.T) {
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a"},
		{ID: "b", Tool: "t:b", DependsOn: []string{"a"}},
		{ID: "c", Tool: "t:c", DependsOn: []string{"a"}},
		{ID: "d", Tool: "t:d", DependsOn: []string{"b", "c"}},
	}}
	layers, err := Layer(wf)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"a"}, layers[0])
	assert.Equal(t, []string{"b", "c"}, layers[1])
	assert.Equal(t, []string{"d"}, layers[2])
}

func TestLayerDetectsCycle(t *testing.T) {
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a", DependsOn: []string{"b"}},
		{ID: "b", Tool: "t:b", DependsOn: []string{"a"}},
	}}
	_, err := Layer(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestValidateRejectsUnknownTool(t *testing.T) {
	wf := &types.Workflow{Tasks: []types.Task{{ID: "a", Tool: "missing:tool"}}}
	err := Validate(wf, fakeTools{})
	require.Error(t, err)
}

func TestValidateRejectsUnresolvableReference(t *testing.T) {
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a"},
		{ID: "b", Tool: "t:b", Arguments: json.RawMessage(`{"x":"$OUTPUT[a].foo"}`)},
	}}
	err := Validate(wf, fakeTools{"t:a": true, "t:b": true})
	require.Error(t, err, "b references a's output without declaring depends_on")
}

func TestValidateAcceptsDeclaredReference(t *testing.T) {
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a"},
		{ID: "b", Tool: "t:b", DependsOn: []string{"a"}, Arguments: json.RawMessage(`{"x":"$OUTPUT[a].foo[0]"}`)},
	}}
	err := Validate(wf, fakeTools{"t:a": true, "t:b": true})
	require.NoError(t, err)
}

func buildExecGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	conn := local.New("t")
	conn.Register(types.Tool{ID: "t:a", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"foo":["bar"]}`), nil
	})
	conn.Register(types.Tool{ID: "t:b", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	})
	g := gateway.New(gateway.WithMaxConcurrency(4))
	require.NoError(t, g.RegisterProvider(context.Background(), "t", conn))
	return g
}

func TestExecuteSubstitutesReferences(t *testing.T) {
	g := buildExecGateway(t)
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a"},
		{ID: "b", Tool: "t:b", DependsOn: []string{"a"}, Arguments: json.RawMessage(`{"got":"$OUTPUT[a].foo[0]"}`)},
	}}
	exec := NewExecutor(g, 4)
	bundle, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.Succeeded)
	assert.Equal(t, 2, bundle.ParallelizationLayers)
	assert.JSONEq(t, `{"got":"bar"}`, string(bundle.Outputs["b"].Output))
	assert.NotEmpty(t, bundle.RunID)
}

func TestExecuteAssignsDistinctRunIDs(t *testing.T) {
	g := buildExecGateway(t)
	wf := &types.Workflow{Tasks: []types.Task{{ID: "a", Tool: "t:a"}}}
	exec := NewExecutor(g, 4)

	first, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, first.ParallelizationLayers)
}

func TestExecuteWithZeroDeadlineAbortsImmediatelyWithTimeout(t *testing.T) {
	g := buildExecGateway(t)
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:a"},
		{ID: "b", Tool: "t:b", DependsOn: []string{"a"}},
	}}
	exec := NewExecutor(g, 4)
	deadline := 0
	bundle, err := exec.ExecuteWithOptions(context.Background(), wf, ExecuteOptions{DeadlineMs: &deadline})
	require.NoError(t, err)
	require.Equal(t, 2, bundle.Failed+bundle.Skipped)
	got := bundle.Outputs["a"]
	assert.Equal(t, types.TaskError, got.Status)
	assert.Equal(t, pmlerr.Timeout.String(), got.ErrorKind)
}

func TestExecuteAbortSkipsDependents(t *testing.T) {
	conn := local.New("t")
	conn.Register(types.Tool{ID: "t:fail", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, assertErr{}
	})
	conn.Register(types.Tool{ID: "t:ok", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	g := gateway.New(gateway.WithMaxConcurrency(4))
	require.NoError(t, g.RegisterProvider(context.Background(), "t", conn))

	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:fail", OnError: types.OnErrorAbort},
		{ID: "b", Tool: "t:ok", DependsOn: []string{"a"}},
	}}
	exec := NewExecutor(g, 1)
	bundle, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Failed)
	assert.Equal(t, 1, bundle.Skipped)
}

func TestExecuteDefaultOnErrorDoesNotSkipIndependentBranch(t *testing.T) {
	conn := local.New("t")
	conn.Register(types.Tool{ID: "t:fail", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, assertErr{}
	})
	conn.Register(types.Tool{ID: "t:ok", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	g := gateway.New(gateway.WithMaxConcurrency(4))
	require.NoError(t, g.RegisterProvider(context.Background(), "t", conn))

	// b depends on the failing task a; c is an independent branch with no
	// dependency on a at all. Only b should be skipped.
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:fail"},
		{ID: "x", Tool: "t:ok"},
		{ID: "b", Tool: "t:ok", DependsOn: []string{"a"}},
		{ID: "c", Tool: "t:ok", DependsOn: []string{"x"}},
	}}
	exec := NewExecutor(g, 4)
	bundle, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, types.TaskError, bundle.Outputs["a"].Status)
	assert.Equal(t, types.TaskSuccess, bundle.Outputs["x"].Status)
	assert.Equal(t, types.TaskSkipped, bundle.Outputs["b"].Status)
	assert.Equal(t, types.TaskSuccess, bundle.Outputs["c"].Status, "c does not depend on the failed task a and must run")
}

func TestExecuteWorkflowLevelAbortSkipsUnrelatedTasks(t *testing.T) {
	conn := local.New("t")
	conn.Register(types.Tool{ID: "t:fail", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, assertErr{}
	})
	conn.Register(types.Tool{ID: "t:ok", Provider: "t"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	g := gateway.New(gateway.WithMaxConcurrency(1))
	require.NoError(t, g.RegisterProvider(context.Background(), "t", conn))

	// d has no real relationship to the failing task a; it depends on the
	// unrelated seed task purely to place it in a later layer than a, so
	// the abort flag (set once a's layer completes) can be observed
	// before d would otherwise be dispatched.
	wf := &types.Workflow{Tasks: []types.Task{
		{ID: "a", Tool: "t:fail"},
		{ID: "seed", Tool: "t:ok"},
		{ID: "c", Tool: "t:ok", DependsOn: []string{"a"}},
		{ID: "d", Tool: "t:ok", DependsOn: []string{"seed"}},
	}}
	exec := NewExecutor(g, 1)
	bundle, err := exec.ExecuteWithOptions(context.Background(), wf, ExecuteOptions{OnError: types.OnErrorAbort})
	require.NoError(t, err)
	assert.Equal(t, types.TaskError, bundle.Outputs["a"].Status)
	assert.Equal(t, types.TaskSuccess, bundle.Outputs["seed"].Status)
	assert.Equal(t, types.TaskSkipped, bundle.Outputs["c"].Status)
	assert.Equal(t, types.TaskSkipped, bundle.Outputs["d"].Status, "explicit on_error:abort skips every not-yet-dispatched task, even unrelated ones")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
