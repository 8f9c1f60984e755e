package hypergraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casys-AI/pml-std-sub000/types"
)

func fixtureTools() []*types.Tool {
	return []*types.Tool{
		{ID: "weather:get"},
		{ID: "weather:forecast"},
		{ID: "maps:geocode"},
	}
}

func fixtureCaps() []*types.Capability {
	return []*types.Capability{
		{ID: "cap:weather-report", Members: []string{"weather:get", "weather:forecast"}},
		{ID: "cap:trip-planning", Members: []string{"maps:geocode"}, ChildIDs: []string{"cap:weather-report"}, IsMeta: true},
	}
}

func TestRebuildAggregatesMetaCapabilityMembers(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))

	members := idx.Members("cap:trip-planning")
	assert.ElementsMatch(t, []string{"maps:geocode", "weather:get", "weather:forecast"}, members)
}

func TestRebuildDetectsCapabilityCycle(t *testing.T) {
	idx := New()
	caps := []*types.Capability{
		{ID: "cap:a", ChildIDs: []string{"cap:b"}, IsMeta: true},
		{ID: "cap:b", ChildIDs: []string{"cap:a"}, IsMeta: true},
	}
	err := idx.Rebuild(context.Background(), nil, caps)
	assert.Error(t, err)
}

func TestPageRankFavorsHighlyConnectedTool(t *testing.T) {
	idx := New()
	tools := []*types.Tool{{ID: "hub"}, {ID: "a"}, {ID: "b"}, {ID: "c"}}
	caps := []*types.Capability{
		{ID: "cap1", Members: []string{"hub", "a"}},
		{ID: "cap2", Members: []string{"hub", "b"}},
		{ID: "cap3", Members: []string{"hub", "c"}},
	}
	require.NoError(t, idx.Rebuild(context.Background(), tools, caps))
	hubRank := idx.ToolPageRank("hub")
	assert.Greater(t, hubRank, idx.ToolPageRank("a"))
}

func TestRecordSelectionAndNormalizeCooccurrence(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))

	idx.RecordSelection("cap:weather-report")
	idx.RecordSelection("cap:weather-report")
	idx.RecordSelection("cap:trip-planning")
	idx.NormalizeCooccurrence()

	assert.InDelta(t, 1.0, idx.Features("cap:weather-report").Cooccurrence, 1e-9)
	assert.InDelta(t, 0.5, idx.Features("cap:trip-planning").Cooccurrence, 1e-9)
}

func TestDecayRecencyHalves(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	idx.RecordSelection("cap:weather-report")
	require.InDelta(t, 1.0, idx.Features("cap:weather-report").Recency, 1e-9)

	idx.DecayRecency(time.Hour, time.Hour)
	assert.InDelta(t, 0.5, idx.Features("cap:weather-report").Recency, 1e-9)
}

func TestCooccurrenceSnapshotMergeTakesMax(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	idx.RecordSelection("cap:weather-report")
	snap := idx.CooccurrenceSnapshot()
	assert.InDelta(t, 1.0, snap["cap:weather-report"], 1e-9)

	idx2 := New()
	require.NoError(t, idx2.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	idx2.MergeCooccurrence(map[string]float64{"cap:weather-report": 5})
	idx2.NormalizeCooccurrence()
	assert.InDelta(t, 1.0, idx2.Features("cap:weather-report").Cooccurrence, 1e-9)

	idx2.MergeCooccurrence(map[string]float64{"cap:weather-report": 1})
	snap2 := idx2.CooccurrenceSnapshot()
	assert.InDelta(t, 5.0, snap2["cap:weather-report"], 1e-9, "merge must not regress below the higher observed count")
}

func TestNeighborsReturnsCapabilitiesContainingTool(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	neighbors := idx.Neighbors("weather:get")
	assert.ElementsMatch(t, []string{"cap:weather-report", "cap:trip-planning"}, neighbors)
}

func TestMajorityClusterBreaksTiesBySmallestID(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	cluster, ok := idx.MajorityCluster([]string{"weather:get", "maps:geocode"})
	require.True(t, ok)
	assert.GreaterOrEqual(t, cluster, 0)
}

func TestBatchUpdateFeatureAppliesOnlyListedFields(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Rebuild(context.Background(), fixtureTools(), fixtureCaps()))
	idx.BatchUpdateFeature(map[string]types.HyperFeatures{
		"cap:weather-report": {Cooccurrence: 0.7, Recency: 0.9, SpectralCluster: 99},
	}, []string{"cooccurrence", "recency"})

	hf := idx.Features("cap:weather-report")
	assert.InDelta(t, 0.7, hf.Cooccurrence, 1e-9)
	assert.InDelta(t, 0.9, hf.Recency, 1e-9)
	assert.NotEqual(t, 99, hf.SpectralCluster, "spectral_cluster was not in the field list and must be untouched")
}
