// Package retriever implements the Discover operation: hybrid retrieval
// combining dense cosine similarity candidate generation with SHGAT's
// learned re-ranking of capabilities and meta-capabilities, per spec.md
// §4.5. Tools are scored by their cosine similarity mapped into [0,1] plus
// a small fixed bonus (capped at 1); capabilities and meta-capabilities are
// re-scored by SHGAT and the two signals are mixed by configurable weights.
package retriever

import (
	"context"
	"math"
	"sort"

	"github.com/Casys-AI/pml-std-sub000/config"
	"github.com/Casys-AI/pml-std-sub000/embedding"
	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/shgat"
	"github.com/Casys-AI/pml-std-sub000/store"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Retriever wires the embedding provider, store, hypergraph index, and
// SHGAT net together to answer Discover requests.
type Retriever struct {
	Store   store.Store
	Embed   embedding.Provider
	Index   *hypergraph.Index
	Net     *shgat.Net
	Weights config.RetrievalWeights
}

// New builds a Retriever. weights is validated lazily on each Discover
// call so a live config reload is picked up without reconstruction.
func New(st store.Store, emb embedding.Provider, idx *hypergraph.Index, net *shgat.Net, weights config.RetrievalWeights) *Retriever {
	return &Retriever{Store: st, Embed: emb, Index: idx, Net: net, Weights: weights}
}

// candidatePoolMultiplier and minPoolSize implement spec.md §4.5's
// candidate-pool sizing rule: N = max(4k, 64).
const (
	candidatePoolMultiplier = 4
	minPoolSize             = 64
	minCosineSimilarity     = 0.3

	// toolScoreBonus is the small constant added to a pure tool's
	// normalized cosine score (spec.md §4.5 step 3), so a
	// semantically-perfect tool still ranks competitively against
	// capabilities, whose SHGAT re-scoring can otherwise pull them ahead
	// of a tool with an equally strong but unmixed cosine match.
	toolScoreBonus = 0.05
)

// normalizeCosine maps cosine similarity (range [-1,1]) into [0,1], so it
// mixes on a comparable scale with SHGAT's sigmoid-bounded score (spec.md
// §4.5 step 4).
func normalizeCosine(cos float64) float64 {
	return (cos + 1) / 2
}

// Discover encodes intent, retrieves a cosine-similarity candidate pool,
// re-scores capability/meta candidates with SHGAT, mixes the two signals,
// and returns the top k hits sorted by score descending then id ascending
// (a stable, deterministic tie-break).
func (r *Retriever) Discover(ctx context.Context, intent string, contextToolIDs []string, k int, explain bool) ([]types.DiscoverHit, error) {
	if k <= 0 {
		return nil, pmlerr.New(pmlerr.InvalidArgument, "k must be positive")
	}
	if err := r.Weights.Validate(); err != nil {
		return nil, pmlerr.Wrap(pmlerr.InvalidArgument, err, "invalid retrieval weights")
	}

	queryVec, err := r.Embed.Encode(ctx, intent)
	if err != nil {
		return nil, pmlerr.Wrap(pmlerr.UpstreamFailure, err, "encode intent")
	}

	poolSize := k * candidatePoolMultiplier
	if poolSize < minPoolSize {
		poolSize = minPoolSize
	}
	candidates, err := r.Store.TopKCosine(ctx, queryVec, poolSize, minCosineSimilarity)
	if err != nil {
		return nil, pmlerr.Wrap(pmlerr.Internal, err, "top-k cosine candidate pool")
	}

	contextEmbeddings := make(map[string][]float32, len(contextToolIDs))
	for _, id := range contextToolIDs {
		if v, ok, _ := r.Store.GetEmbedding(ctx, id); ok {
			contextEmbeddings[id] = v
		}
	}

	hits := make([]types.DiscoverHit, 0, len(candidates))
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		hit, err := r.scoreCandidate(ctx, cand, queryVec, contextToolIDs, contextEmbeddings, explain)
		if err != nil {
			continue // unknown/raced-out id between TopKCosine and lookup
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (r *Retriever) scoreCandidate(ctx context.Context, cand store.Scored, queryVec []float32, contextToolIDs []string, contextEmbeddings map[string][]float32, explain bool) (types.DiscoverHit, error) {
	if tool, err := r.Store.GetTool(ctx, cand.ID); err == nil {
		score := math.Min(1.0, normalizeCosine(cand.Score)+toolScoreBonus)
		hit := types.DiscoverHit{ID: tool.ID, Type: types.ResultTool, Score: score}
		if explain {
			hit.Explanation = &types.Explanation{SemanticHead: score}
		}
		return hit, nil
	}

	cap, err := r.Store.GetCapability(ctx, cand.ID)
	if err != nil {
		return types.DiscoverHit{}, err
	}

	kind := types.ResultCapability
	if cap.IsMeta {
		kind = types.ResultMetaCapability
	}

	members := r.Index.Members(cap.ID)
	if len(members) == 0 {
		members = cap.Members
	}

	vertices := make([]shgat.Vertex, 0, len(contextToolIDs)+len(members))
	seen := map[string]bool{}
	addVertex := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		vertices = append(vertices, shgat.Vertex{ID: id, Embedding: contextEmbeddings[id]})
	}
	for _, id := range contextToolIDs {
		addVertex(id)
	}
	for _, id := range members {
		if _, ok := seen[id]; ok {
			continue
		}
		emb, _, _ := r.Store.GetEmbedding(ctx, id)
		seen[id] = true
		vertices = append(vertices, shgat.Vertex{ID: id, Embedding: emb})
	}
	edges := []shgat.HyperEdge{{ID: cap.ID, Members: members, Embedding: cap.Embedding}}

	embeddings := r.Net.Forward(vertices, edges)
	q := shgat.Query{Embedding: queryVec, ContextToolIDs: contextToolIDs}
	feat := r.Index.Features(cap.ID)
	c := shgat.Candidate{
		ID:           cap.ID,
		Embedding:    cap.Embedding,
		Members:      members,
		SuccessRate:  cap.SuccessRate(),
		Recency:      feat.Recency,
		Cooccurrence: feat.Cooccurrence,
	}

	shgatScore, explanation := r.Net.Score(r.Index, embeddings, q, c)
	normalizedCosine := normalizeCosine(cand.Score)
	mixed := r.Weights.Cosine*normalizedCosine + r.Weights.SHGAT*shgatScore

	hit := types.DiscoverHit{ID: cap.ID, Type: kind, Score: mixed}
	if explain {
		explanation.SemanticHead = normalizedCosine*r.Weights.Cosine + explanation.SemanticHead*r.Weights.SHGAT
		hit.Explanation = &explanation
	}
	return hit, nil
}
