package shgat

import (
	"math"

	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Candidate is one capability (or meta-capability) being scored against a
// query, carrying everything the four heads need.
type Candidate struct {
	ID           string
	Embedding    []float32
	Members      []string // aggregated tool ids, for the structure/context heads
	SuccessRate  float64
	Recency      float64 // hypergraph.Index's decayed recency feature for ID
	Cooccurrence float64 // hypergraph.Index's normalized co-occurrence feature for ID
}

// Query bundles the discover request's encoded intent and in-context tool
// ids, which feed the context and structure heads.
type Query struct {
	Embedding      []float32
	ContextToolIDs []string
}

// Score computes SHGAT's four-head composite score for one candidate: the
// semantic head (cosine of query vs. candidate encoder embedding), the
// context head (cosine of the mean context-tool embedding vs. candidate
// embedding), the structure head (an indicator for majority-spectral-cluster
// match against the context, times a saturating function of hypergraph
// PageRank — zero on mismatch), and the reliability head (a piecewise
// function of success-rate times (1 + recency + co-occurrence) / 3).
// Heads are mixed by softmax(alpha) and squashed by sigmoid.
func (n *Net) Score(idx *hypergraph.Index, emb *Embeddings, q Query, c Candidate) (float64, types.Explanation) {
	candVec, ok := emb.Capabilities[c.ID]
	if !ok {
		candVec = toF64(c.Embedding, n.cfg.D)
	}
	queryVec := toF64(q.Embedding, n.cfg.D)

	semantic := cosine(queryVec, candVec)

	contextHead := 0.0
	if len(q.ContextToolIDs) > 0 {
		mean := make([]float64, n.cfg.D)
		count := 0
		for _, toolID := range q.ContextToolIDs {
			if v, ok := emb.Tools[toolID]; ok {
				axpy(mean, 1, v)
				count++
			}
		}
		if count > 0 {
			for i := range mean {
				mean[i] /= float64(count)
			}
			contextHead = cosine(mean, candVec)
		}
	}

	structureHead := 0.0
	if idx != nil {
		if ctxCluster, ok := idx.MajorityCluster(q.ContextToolIDs); ok {
			feat := idx.Features(c.ID)
			if feat.SpectralCluster == ctxCluster {
				structureHead = saturate(feat.HypergraphPageRank)
			}
		}
	}

	reliabilityHead := reliabilityScore(c.SuccessRate) * (1 + c.Recency + c.Cooccurrence) / 3

	heads := [4]float64{semantic, contextHead, structureHead, reliabilityHead}
	weights := softmaxAlpha(n.getAlpha())

	var mixed float64
	for i, w := range weights {
		mixed += w * heads[i]
	}
	score := sigmoid(mixed)

	explanation := types.Explanation{
		SemanticHead:    semantic,
		ContextHead:     contextHead,
		StructureHead:   structureHead,
		ReliabilityHead: reliabilityHead,
	}
	if attWeights, ok := emb.Attention[c.ID]; ok {
		explanation.AttentionWeights = attWeights
	}
	return score, explanation
}

func softmaxAlpha(alpha [4]float64) [4]float64 {
	s := softmax(alpha[:])
	var out [4]float64
	copy(out[:], s)
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// saturate bounds the structure head's PageRank contribution to (0,1) via
// tanh, so a single dominant hub tool cannot let one capability's structure
// head swamp the other three heads in the softmax mix.
func saturate(x float64) float64 {
	return math.Tanh(x)
}

// reliabilityScore buckets success-rate into the three-tier reliability
// multiplier: a candidate only earns the top tier once it has demonstrated
// near-perfect reliability, and the bottom tier is still nonzero so a cold
// (zero-history) or unreliable candidate isn't scored out entirely.
func reliabilityScore(successRate float64) float64 {
	switch {
	case successRate >= 0.95:
		return 1.2
	case successRate >= 0.75:
		return 1.0
	default:
		return 0.6
	}
}
