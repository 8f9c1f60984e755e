// Package shgat implements the Structured Hypergraph Attention Network: a
// learnable ranker that scores every registered capability against a query
// embedding and an in-context tool set, combining dense semantic similarity
// with hypergraph structure and episodic reliability signals.
//
// The two-phase vertex<->hyperedge message-passing encoder (this file) is
// Xavier-initialized once at construction and held fixed; Trainer (train.go)
// performs online gradient descent over the four-head mixing weights alpha
// that combine the encoder's output with the structure/reliability heads.
// This keeps the "hardest component" numerically small and stable for
// online, low-volume episodic training while still exercising the full
// multi-head, multi-layer attention shape.
package shgat

import (
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Config holds SHGAT's tensor-shape hyperparameters.
type Config struct {
	D       int // embedding dimension
	Heads   int // attention heads per layer
	HeadDim int // per-head hidden dim d_h
	Layers  int // number of message-passing layers L
	Seed    uint64
}

// DefaultConfig returns the baseline dimensions (D=1024, H=4, d_h=32, L=2).
func DefaultConfig() Config {
	return Config{D: 1024, Heads: 4, HeadDim: 32, Layers: 2, Seed: 42}
}

// headParams holds one attention head's learned projections for one layer.
type headParams struct {
	Wv  *mat.Dense // d_h x D_in
	We  *mat.Dense // d_h x D_in
	Ave []float64  // length 2*d_h
	Aev []float64  // length 2*d_h
}

type layerParams struct {
	heads []headParams
	Wo    *mat.Dense // D_out x (H*d_h)
}

// Net is the SHGAT scorer: the frozen message-passing encoder plus the
// trainable four-head mixing weights alpha.
type Net struct {
	cfg    Config
	layers []layerParams

	alphaMu sync.RWMutex
	alpha   [4]float64 // head mixer, trained online

	trainState int32 // atomic; see train.go
	adam       adamState
}

func (n *Net) getAlpha() [4]float64 {
	n.alphaMu.RLock()
	defer n.alphaMu.RUnlock()
	return n.alpha
}

func (n *Net) setAlpha(a [4]float64) {
	n.alphaMu.Lock()
	defer n.alphaMu.Unlock()
	n.alpha = a
}

// New builds a Net with Xavier-uniform initialized weights and a uniform
// (post-softmax) head mixer.
func New(cfg Config) *Net {
	if cfg.D <= 0 || cfg.Heads <= 0 || cfg.HeadDim <= 0 || cfg.Layers <= 0 {
		cfg = DefaultConfig()
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xabcdef1234567)
	rng := rand.New(src)

	layers := make([]layerParams, cfg.Layers)
	dIn := cfg.D
	for l := 0; l < cfg.Layers; l++ {
		heads := make([]headParams, cfg.Heads)
		for h := 0; h < cfg.Heads; h++ {
			heads[h] = headParams{
				Wv:  xavier(rng, cfg.HeadDim, dIn),
				We:  xavier(rng, cfg.HeadDim, dIn),
				Ave: xavierVec(rng, 2*cfg.HeadDim, dIn),
				Aev: xavierVec(rng, 2*cfg.HeadDim, dIn),
			}
		}
		dOut := cfg.D
		layers[l] = layerParams{
			heads: heads,
			Wo:    xavier(rng, dOut, cfg.Heads*cfg.HeadDim),
		}
		dIn = dOut
	}
	return &Net{cfg: cfg, layers: layers, alpha: [4]float64{1, 1, 1, 1}}
}

func xavier(rng *rand.Rand, rows, cols int) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

func xavierVec(rng *rand.Rand, n, fanIn int) []float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * limit
	}
	return out
}

// HyperEdge is the minimal view of a capability the encoder needs: its
// member tool ids (for vertex->hyperedge aggregation) and its own raw
// embedding (layer-0 hyperedge feature).
type HyperEdge struct {
	ID        string
	Members   []string
	Embedding []float32
}

// Vertex is the minimal view of a tool the encoder needs.
type Vertex struct {
	ID        string
	Embedding []float32
}

// Embeddings holds the encoder's final per-node output after all layers.
type Embeddings struct {
	Tools        map[string][]float64
	Capabilities map[string][]float64
	// Attention captures, for each capability, the last layer's
	// vertex->hyperedge (Phase A) attention weights of the last head,
	// keyed by capability id then tool id, so callers can expose them as
	// explanations.
	Attention map[string]map[string]float64
}

// Forward runs the two-phase message-passing encoder over every
// registered vertex and hyperedge, returning each node's final embedding.
// Vertex order within a capability's member set never affects the result:
// Phase A and Phase B both aggregate over sets via softmax attention, not
// sequence order.
func (n *Net) Forward(vertices []Vertex, edges []HyperEdge) *Embeddings {
	vIdx := make(map[string]int, len(vertices))
	vFeat := make([][]float64, len(vertices))
	for i, v := range vertices {
		vIdx[v.ID] = i
		vFeat[i] = toF64(v.Embedding, n.cfg.D)
	}
	eIdx := make(map[string]int, len(edges))
	eFeat := make([][]float64, len(edges))
	memberIdx := make([][]int, len(edges))
	for i, e := range edges {
		eIdx[e.ID] = i
		eFeat[i] = toF64(e.Embedding, n.cfg.D)
		members := make([]int, 0, len(e.Members))
		for _, m := range e.Members {
			if idx, ok := vIdx[m]; ok {
				members = append(members, idx)
			}
		}
		memberIdx[i] = members
	}

	// incident[v] = list of hyperedge indices containing vertex v.
	incident := make([][]int, len(vertices))
	for ei, members := range memberIdx {
		for _, vi := range members {
			incident[vi] = append(incident[vi], ei)
		}
	}

	attention := make(map[string]map[string]float64, len(edges))

	for l, layer := range n.layers {
		newV := make([][]float64, len(vertices))
		newE := make([][]float64, len(edges))

		headOutE := make([][][]float64, len(layer.heads)) // [head][edge][d_h]
		headOutV := make([][][]float64, len(layer.heads))
		lastAtt := make([]map[int]float64, len(edges)) // per-edge, per-member, last head's att weight (for explanation)

		for h, hp := range layer.heads {
			projV := make([][]float64, len(vertices))
			for i, f := range vFeat {
				projV[i] = matVec(hp.Wv, f)
			}
			projE := make([][]float64, len(edges))
			for i, f := range eFeat {
				projE[i] = matVec(hp.We, f)
			}

			// Phase A: vertex -> hyperedge.
			outE := make([][]float64, len(edges))
			for ei, members := range memberIdx {
				if len(members) == 0 {
					outE[ei] = make([]float64, n.cfg.HeadDim)
					continue
				}
				scores := make([]float64, len(members))
				for mi, vi := range members {
					scores[mi] = leakyReLU(dotConcat(hp.Ave, projV[vi], projE[ei]))
				}
				weights := softmax(scores)
				if h == len(layer.heads)-1 {
					m := make(map[int]float64, len(members))
					for mi, vi := range members {
						m[vi] = weights[mi]
					}
					lastAtt[ei] = m
				}
				agg := make([]float64, n.cfg.HeadDim)
				for mi, vi := range members {
					axpy(agg, weights[mi], projV[vi])
				}
				outE[ei] = agg
			}
			headOutE[h] = outE

			// Phase B: hyperedge -> vertex.
			outV := make([][]float64, len(vertices))
			for vi := range vertices {
				edgesOf := incident[vi]
				if len(edgesOf) == 0 {
					outV[vi] = make([]float64, n.cfg.HeadDim)
					continue
				}
				scores := make([]float64, len(edgesOf))
				for ei2, ei := range edgesOf {
					scores[ei2] = leakyReLU(dotConcat(hp.Aev, projE[ei], projV[vi]))
				}
				weights := softmax(scores)
				agg := make([]float64, n.cfg.HeadDim)
				for ei2, ei := range edgesOf {
					axpy(agg, weights[ei2], projE[ei])
				}
				outV[vi] = agg
			}
			headOutV[h] = outV
		}

		for ei, e := range edges {
			concat := concatHeads(headOutE, ei, n.cfg.HeadDim)
			newE[ei] = matVec(layer.Wo, concat)
			if l == len(n.layers)-1 {
				if m, ok := lastAtt[ei]; ok {
					weightsByTool := make(map[string]float64, len(m))
					for vi, w := range m {
						weightsByTool[vertices[vi].ID] = w
					}
					attention[e.ID] = weightsByTool
				}
			}
		}
		for vi := range vertices {
			concat := concatHeadsV(headOutV, vi, n.cfg.HeadDim)
			newV[vi] = matVec(layer.Wo, concat)
		}

		vFeat, eFeat = newV, newE
	}

	tools := make(map[string][]float64, len(vertices))
	for i, v := range vertices {
		tools[v.ID] = vFeat[i]
	}
	caps := make(map[string][]float64, len(edges))
	for i, e := range edges {
		caps[e.ID] = eFeat[i]
	}
	return &Embeddings{Tools: tools, Capabilities: caps, Attention: attention}
}

func toF64(v []float32, wantDim int) []float64 {
	out := make([]float64, wantDim)
	for i := 0; i < len(v) && i < wantDim; i++ {
		out[i] = float64(v[i])
	}
	return out
}

func matVec(m *mat.Dense, v []float64) []float64 {
	rows, cols := m.Dims()
	vv := mat.NewVecDense(len(v), v)
	if cols != len(v) {
		// Defensive resize: pad or trim v to the expected column count.
		padded := make([]float64, cols)
		copy(padded, v)
		vv = mat.NewVecDense(cols, padded)
	}
	var out mat.VecDense
	out.MulVec(m, vv)
	result := make([]float64, rows)
	for i := 0; i < rows; i++ {
		result[i] = out.AtVec(i)
	}
	return result
}

func dotConcat(a []float64, x, y []float64) float64 {
	var sum float64
	n := len(x)
	for i := 0; i < n && i < len(a); i++ {
		sum += a[i] * x[i]
	}
	for i := 0; i < len(y) && n+i < len(a); i++ {
		sum += a[n+i] * y[i]
	}
	return sum
}

func leakyReLU(x float64) float64 {
	if x >= 0 {
		return x
	}
	return 0.01 * x
}

func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(s - max)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1.0 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func axpy(dst []float64, alpha float64, x []float64) {
	for i := range dst {
		if i < len(x) {
			dst[i] += alpha * x[i]
		}
	}
}

func concatHeads(headOut [][][]float64, edgeIdx, headDim int) []float64 {
	out := make([]float64, len(headOut)*headDim)
	for h, byEdge := range headOut {
		copy(out[h*headDim:(h+1)*headDim], byEdge[edgeIdx])
	}
	return out
}

func concatHeadsV(headOut [][][]float64, vertexIdx, headDim int) []float64 {
	out := make([]float64, len(headOut)*headDim)
	for h, byVertex := range headOut {
		copy(out[h*headDim:(h+1)*headDim], byVertex[vertexIdx])
	}
	return out
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
