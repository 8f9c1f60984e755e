// Package hashvec provides a deterministic, network-free Embedding
// Provider suitable for tests and for environments without a real
// embedding model. It derives a unit-norm vector from a seeded hash of the
// input string; it never calls out to a model service.
package hashvec

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
)

// Provider is a deterministic hash-based embedding provider.
type Provider struct {
	dim int
}

// New builds a Provider producing vectors of the given dimension.
func New(dim int) *Provider {
	return &Provider{dim: dim}
}

// Dim returns the configured embedding dimension.
func (p *Provider) Dim() int { return p.dim }

// Encode derives a deterministic unit-norm vector from text. Identical
// text always yields identical output, satisfying the Provider contract
// without a network call.
func (p *Provider) Encode(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if p.dim <= 0 {
		return nil, pmlerr.New(pmlerr.InvalidArgument, "embedding dimension must be positive")
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)

	vec := make([]float64, p.dim)
	var normSq float64
	for i := range vec {
		v := standardNormal(rng)
		vec[i] = v
		normSq += v * v
	}
	norm := math.Sqrt(normSq)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, p.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// standardNormal draws a standard-normal sample via the Box-Muller
// transform, avoiding any dependency on a NormFloat64 helper.
func standardNormal(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
