package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casys-AI/pml-std-sub000/config"
	"github.com/Casys-AI/pml-std-sub000/dag"
	"github.com/Casys-AI/pml-std-sub000/embedding/hashvec"
	"github.com/Casys-AI/pml-std-sub000/gateway"
	"github.com/Casys-AI/pml-std-sub000/gateway/local"
	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/retriever"
	"github.com/Casys-AI/pml-std-sub000/shgat"
	"github.com/Casys-AI/pml-std-sub000/store/memory"
	"github.com/Casys-AI/pml-std-sub000/types"
)

func buildService(t *testing.T) (*Service, *types.Capability) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	emb := hashvec.New(16)

	mk := func(s string) []float32 {
		v, err := emb.Encode(ctx, s)
		require.NoError(t, err)
		return v
	}

	tool := &types.Tool{ID: "weather:get", Provider: "weather", Name: "get", Schema: json.RawMessage(`{}`), Embedding: mk("get weather"), CreatedAt: time.Now()}
	require.NoError(t, st.UpsertTool(ctx, tool))

	cap := &types.Capability{
		ID:        "cap:weather-report",
		Embedding: mk("weather report"),
		Members:   []string{tool.ID},
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.UpsertCapability(ctx, cap))

	idx := hypergraph.New()
	require.NoError(t, idx.Rebuild(ctx, []*types.Tool{tool}, []*types.Capability{cap}))

	net := shgat.New(shgat.Config{D: 16, Heads: 2, HeadDim: 4, Layers: 2, Seed: 1})
	r := retriever.New(st, emb, idx, net, config.DefaultRetrievalWeights())

	conn := local.New("weather")
	conn.Register(*tool, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"temp":72}`), nil
	})
	gw := gateway.New()
	require.NoError(t, gw.RegisterProvider(ctx, "weather", conn))
	exec := dag.NewExecutor(gw, 4)

	planner := dag.NewTemplatePlanner([]config.WorkflowTemplate{
		{Name: "weather", Match: "weather", Workflow: types.Workflow{Tasks: []types.Task{{ID: "a", Tool: "weather:get"}}}},
	})

	svc := New(r, exec, planner, st, idx, shgat.NewTrainer(net, idx), nil, nil)
	return svc, cap
}

func TestServiceDiscover(t *testing.T) {
	svc, _ := buildService(t)
	hits, err := svc.Discover(context.Background(), DiscoverRequest{Intent: "get weather", K: 0})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestServiceExecuteWithExplicitWorkflow(t *testing.T) {
	svc, _ := buildService(t)
	wf := &types.Workflow{Tasks: []types.Task{{ID: "a", Tool: "weather:get"}}}
	bundle, err := svc.Execute(context.Background(), ExecuteRequest{Workflow: wf})
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Succeeded)
}

func TestServiceExecuteViaPlanner(t *testing.T) {
	svc, _ := buildService(t)
	bundle, err := svc.Execute(context.Background(), ExecuteRequest{Intent: "weather lookup"})
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Succeeded)
}

func TestServiceExecuteRequiresWorkflowOrPlanner(t *testing.T) {
	svc, _ := buildService(t)
	svc.Planner = nil
	_, err := svc.Execute(context.Background(), ExecuteRequest{})
	require.Error(t, err)
}

func TestServiceRecordOutcomeUpdatesCapability(t *testing.T) {
	svc, cap := buildService(t)
	err := svc.RecordOutcome(context.Background(), RecordOutcomeRequest{
		Intent:       "get the weather",
		CapabilityID: cap.ID,
		Outcome:      true,
	})
	require.NoError(t, err)

	updated, err := svc.Store.GetCapability(context.Background(), cap.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated.Attempts)
	assert.EqualValues(t, 1, updated.Successes)
}
