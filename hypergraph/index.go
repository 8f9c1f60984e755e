// Package hypergraph maintains the capability hypergraph: tools as
// vertices, capabilities (and meta-capabilities) as hyperedges, plus the
// derived incidence matrix, hypergraph PageRank, spectral clusters, and
// co-occurrence counters SHGAT scores against.
package hypergraph

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

const (
	pageRankDamping    = 0.85
	pageRankIterations = 30
	maxClusters        = 8
	labelPropRounds    = 20
)

// Index holds the hypergraph's mutable state: the incidence matrix, the
// per-tool PageRank vector, the per-capability feature set, and the
// co-occurrence counters. Mutations are serialized by mu; reads observe the
// last committed state.
type Index struct {
	mu sync.RWMutex

	toolIDs []string
	toolIdx map[string]int
	capIDs  []string
	capIdx  map[string]int

	incidence *mat.Dense // |E| x |V|

	toolPageRank map[string]float64
	features     map[string]types.HyperFeatures
	coocCounts   map[string]float64
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		toolIdx:      make(map[string]int),
		capIdx:       make(map[string]int),
		toolPageRank: make(map[string]float64),
		features:     make(map[string]types.HyperFeatures),
		coocCounts:   make(map[string]float64),
	}
}

// aggregatedTools returns the union-closure of tool ids reachable from a
// capability: its own member tools plus, recursively, the tools of every
// child capability listed in ChildIDs. It returns an error if the
// capability DAG contains a cycle.
func aggregatedTools(byID map[string]*types.Capability, capID string, visiting map[string]bool, memo map[string][]string) ([]string, error) {
	if memo == nil {
		memo = map[string][]string{}
	}
	if tools, ok := memo[capID]; ok {
		return tools, nil
	}
	if visiting[capID] {
		return nil, pmlerr.New(pmlerr.InvalidArgument, "cycle detected in capability DAG at "+capID)
	}
	cap, ok := byID[capID]
	if !ok {
		return nil, pmlerr.New(pmlerr.NotFound, "unknown capability "+capID)
	}
	visiting[capID] = true
	defer delete(visiting, capID)

	seen := map[string]struct{}{}
	var out []string
	for _, t := range cap.Members {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, childID := range cap.ChildIDs {
		childTools, err := aggregatedTools(byID, childID, visiting, memo)
		if err != nil {
			return nil, err
		}
		for _, t := range childTools {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	memo[capID] = out
	return out, nil
}

// AggregatedTools returns the union-closure tool set of capID (public
// entry point for callers outside this package).
func AggregatedTools(caps []*types.Capability, capID string) ([]string, error) {
	byID := make(map[string]*types.Capability, len(caps))
	for _, c := range caps {
		byID[c.ID] = c
	}
	return aggregatedTools(byID, capID, map[string]bool{}, map[string][]string{})
}

// Rebuild constructs the incidence matrix from tool/capability registration
// state, then recomputes hypergraph PageRank and spectral (label
// propagation) clusters. Capability membership for meta-capabilities uses
// the aggregated (union-closure) tool set.
func (idx *Index) Rebuild(ctx context.Context, tools []*types.Tool, caps []*types.Capability) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	byID := make(map[string]*types.Capability, len(caps))
	for _, c := range caps {
		byID[c.ID] = c
	}

	toolIDs := make([]string, len(tools))
	toolIdx := make(map[string]int, len(tools))
	for i, t := range tools {
		toolIDs[i] = t.ID
		toolIdx[t.ID] = i
	}
	sort.Strings(toolIDs)
	for i, id := range toolIDs {
		toolIdx[id] = i
	}

	capIDs := make([]string, 0, len(caps))
	for _, c := range caps {
		capIDs = append(capIDs, c.ID)
	}
	sort.Strings(capIDs)
	capIdx := make(map[string]int, len(capIDs))
	for i, id := range capIDs {
		capIdx[id] = i
	}

	incidence := mat.NewDense(len(capIDs), len(toolIDs), nil)
	memo := map[string][]string{}
	capTools := make(map[string][]string, len(capIDs))
	for _, capID := range capIDs {
		aggregated, err := aggregatedTools(byID, capID, map[string]bool{}, memo)
		if err != nil {
			return err
		}
		capTools[capID] = aggregated
		row := capIdx[capID]
		for _, toolID := range aggregated {
			col, ok := toolIdx[toolID]
			if !ok {
				continue
			}
			incidence.Set(row, col, 1)
		}
	}

	toolPageRank := starExpansionPageRank(toolIDs, toolIdx, capTools)
	clusters := labelPropagationClusters(toolIDs, toolIdx, capTools)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.toolIDs = toolIDs
	idx.toolIdx = toolIdx
	idx.capIDs = capIDs
	idx.capIdx = capIdx
	idx.incidence = incidence
	idx.toolPageRank = toolPageRank

	newFeatures := make(map[string]types.HyperFeatures, len(capIDs))
	for _, capID := range capIDs {
		hf := idx.features[capID]
		var sum float64
		n := 0
		for _, toolID := range capTools[capID] {
			sum += toolPageRank[toolID]
			n++
		}
		if n > 0 {
			hf.HypergraphPageRank = sum / float64(n)
		}
		hf.SpectralCluster = clusters[capID]
		newFeatures[capID] = hf
	}
	idx.features = newFeatures
	return nil
}

// starExpansionPageRank approximates hypergraph PageRank by splitting each
// capability's aggregated tool set into pairwise "star" links weighted
// 1/|e|, then running power iteration with damping 0.85 for 30 rounds.
func starExpansionPageRank(toolIDs []string, toolIdx map[string]int, capTools map[string][]string) map[string]float64 {
	n := len(toolIDs)
	if n == 0 {
		return map[string]float64{}
	}
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = map[int]float64{}
	}
	for _, members := range capTools {
		k := len(members)
		if k < 2 {
			continue
		}
		w := 1.0 / float64(k)
		for i := 0; i < k; i++ {
			a := toolIdx[members[i]]
			for j := 0; j < k; j++ {
				if i == j {
					continue
				}
				b := toolIdx[members[j]]
				adj[a][b] += w
			}
		}
	}

	outDeg := make([]float64, n)
	for i, nbrs := range adj {
		for _, w := range nbrs {
			outDeg[i] += w
		}
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	teleport := (1 - pageRankDamping) / float64(n)
	for iter := 0; iter < pageRankIterations; iter++ {
		next := make([]float64, n)
		for i := range next {
			next[i] = teleport
		}
		for src, nbrs := range adj {
			if outDeg[src] == 0 {
				continue
			}
			for dst, w := range nbrs {
				next[dst] += pageRankDamping * rank[src] * (w / outDeg[src])
			}
		}
		rank = next
	}

	out := make(map[string]float64, n)
	for i, id := range toolIDs {
		out[id] = rank[i]
	}
	return out
}

// labelPropagationClusters assigns each capability a deterministic
// integer spectral-cluster id in [0, maxClusters) via label propagation on
// the star-expansion graph, truncated to at most maxClusters labels. Ties
// break by ascending tool id rather than random choice (resolving the
// specification's Open Question on non-determinism).
func labelPropagationClusters(toolIDs []string, toolIdx map[string]int, capTools map[string][]string) map[string]int {
	n := len(toolIDs)
	if n == 0 {
		return map[string]int{}
	}
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = map[int]float64{}
	}
	for _, members := range capTools {
		k := len(members)
		if k < 2 {
			continue
		}
		w := 1.0 / float64(k)
		for i := 0; i < k; i++ {
			a := toolIdx[members[i]]
			for j := 0; j < k; j++ {
				if i == j {
					continue
				}
				b := toolIdx[members[j]]
				adj[a][b] += w
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % maxClusters
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for round := 0; round < labelPropRounds; round++ {
		changed := false
		for _, i := range order {
			votes := make(map[int]float64)
			for j, w := range adj[i] {
				votes[labels[j]] += w
			}
			if len(votes) == 0 {
				continue
			}
			best := labels[i]
			bestScore := votes[best]
			bestTool := smallestToolWithLabel(toolIDs, labels, best)
			for lbl, score := range votes {
				if score > bestScore {
					best, bestScore = lbl, score
					bestTool = smallestToolWithLabel(toolIDs, labels, lbl)
				} else if score == bestScore && lbl != best {
					// Deterministic tie-break: prefer the tied label whose
					// smallest carrying tool id (over all tools) is
					// lexicographically smallest, never a random choice.
					candidate := smallestToolWithLabel(toolIDs, labels, lbl)
					if candidate < bestTool {
						best, bestTool = lbl, candidate
					}
				}
			}
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make(map[string]int)
	for capID, members := range capTools {
		if len(members) == 0 {
			out[capID] = 0
			continue
		}
		counts := make(map[int]int)
		for _, toolID := range members {
			counts[labels[toolIdx[toolID]]]++
		}
		best, bestCount := 0, -1
		keys := make([]int, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			if counts[k] > bestCount {
				best, bestCount = k, counts[k]
			}
		}
		out[capID] = best
	}
	return out
}

func smallestToolWithLabel(toolIDs []string, labels []int, label int) string {
	best := ""
	for i, l := range labels {
		if l != label {
			continue
		}
		if best == "" || toolIDs[i] < best {
			best = toolIDs[i]
		}
	}
	return best
}

// UpdateFeature merges a partial HyperFeatures update into the stored
// features for capID.
func (idx *Index) UpdateFeature(capID string, partial types.HyperFeatures, fields []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	hf := idx.features[capID]
	for _, f := range fields {
		switch f {
		case "spectral_cluster":
			hf.SpectralCluster = partial.SpectralCluster
		case "hypergraph_page_rank":
			hf.HypergraphPageRank = partial.HypergraphPageRank
		case "cooccurrence":
			hf.Cooccurrence = partial.Cooccurrence
		case "recency":
			hf.Recency = partial.Recency
		}
	}
	idx.features[capID] = hf
}

// BatchUpdateFeature applies UpdateFeature for every (capID, partial)
// pair in updates, atomically with respect to readers.
func (idx *Index) BatchUpdateFeature(updates map[string]types.HyperFeatures, fields []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for capID, partial := range updates {
		hf := idx.features[capID]
		for _, f := range fields {
			switch f {
			case "spectral_cluster":
				hf.SpectralCluster = partial.SpectralCluster
			case "hypergraph_page_rank":
				hf.HypergraphPageRank = partial.HypergraphPageRank
			case "cooccurrence":
				hf.Cooccurrence = partial.Cooccurrence
			case "recency":
				hf.Recency = partial.Recency
			}
		}
		idx.features[capID] = hf
	}
}

// DecayRecency multiplies every capability's recency, and every raw
// co-occurrence counter, by exp(-elapsed * ln2 / halfLife).
func (idx *Index) DecayRecency(halfLife time.Duration, elapsed time.Duration) {
	if halfLife <= 0 {
		return
	}
	factor := math.Exp(-elapsed.Seconds() * math.Ln2 / halfLife.Seconds())
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, hf := range idx.features {
		hf.Recency *= factor
		idx.features[id] = hf
	}
	for id, v := range idx.coocCounts {
		idx.coocCounts[id] = v * factor
	}
}

// RecordSelection increments the raw co-occurrence counter for capID.
func (idx *Index) RecordSelection(capID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.coocCounts[capID]++
	hf := idx.features[capID]
	hf.Recency = 1.0
	idx.features[capID] = hf
}

// NormalizeCooccurrence divides every raw co-occurrence counter by the
// observed max, writing the result into each capability's Cooccurrence
// feature (spec.md §4.3). Per the Open Question in spec.md §9, the raw
// counters are also decayed by the recency half-life, in DecayRecency, so
// older co-occurrence mass does not dominate forever purely because it
// accumulated first.
func (idx *Index) NormalizeCooccurrence() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var max float64
	for _, v := range idx.coocCounts {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return
	}
	for id, v := range idx.coocCounts {
		hf := idx.features[id]
		hf.Cooccurrence = v / max
		idx.features[id] = hf
	}
}

// CooccurrenceSnapshot returns a copy of the raw per-capability selection
// counters, suitable for mirroring into a shared cache so multiple PML
// processes converge on the same co-occurrence signal.
func (idx *Index) CooccurrenceSnapshot() map[string]float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]float64, len(idx.coocCounts))
	for k, v := range idx.coocCounts {
		out[k] = v
	}
	return out
}

// MergeCooccurrence folds externally observed counters (e.g. restored from
// a shared cache) into the local raw counters, taking the max per
// capability id so a process that restarts never regresses below the
// last known shared count.
func (idx *Index) MergeCooccurrence(counts map[string]float64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, v := range counts {
		if v > idx.coocCounts[id] {
			idx.coocCounts[id] = v
		}
	}
}

// Neighbors returns the set of capability ids whose aggregated tool set
// contains toolID.
func (idx *Index) Neighbors(toolID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	col, ok := idx.toolIdx[toolID]
	if !ok || idx.incidence == nil {
		return nil
	}
	var out []string
	rows, _ := idx.incidence.Dims()
	for row := 0; row < rows; row++ {
		if idx.incidence.At(row, col) != 0 {
			out = append(out, idx.capIDs[row])
		}
	}
	return out
}

// Members returns the aggregated (union-closure) tool ids incident to
// capID in the last-built incidence matrix.
func (idx *Index) Members(capID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	row, ok := idx.capIdx[capID]
	if !ok || idx.incidence == nil {
		return nil
	}
	var out []string
	_, cols := idx.incidence.Dims()
	for col := 0; col < cols; col++ {
		if idx.incidence.At(row, col) != 0 {
			out = append(out, idx.toolIDs[col])
		}
	}
	return out
}

// Features returns the current HyperFeatures for capID.
func (idx *Index) Features(capID string) types.HyperFeatures {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.features[capID]
}

// ToolPageRank returns the current PageRank score for toolID.
func (idx *Index) ToolPageRank(toolID string) float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.toolPageRank[toolID]
}

// MajorityCluster returns the most common spectral cluster among the
// given context tool ids, used by SHGAT's structure head. Ties break by
// the smallest cluster id.
func (idx *Index) MajorityCluster(contextToolIDs []string) (int, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	counts := map[int]int{}
	for _, toolID := range contextToolIDs {
		for row, capID := range idx.capIDs {
			col, ok := idx.toolIdx[toolID]
			if !ok || idx.incidence.At(row, col) == 0 {
				continue
			}
			counts[idx.features[capID].SpectralCluster]++
		}
	}
	if len(counts) == 0 {
		return 0, false
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	best, bestCount := keys[0], -1
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best, true
}
