// Package embedding defines the Embedding Provider contract PML depends
// on: a string maps to a unit-norm D-float vector. The tokenizer and model
// weights live outside the core (see spec.md §1); this package only
// specifies and exercises the interface boundary.
package embedding

import "context"

// Provider maps text to a unit-norm embedding vector of fixed dimension.
// Implementations must be safe for concurrent use and must return
// identical vectors (within numerical tolerance) for identical input text.
// Encode is a suspension point: it may block, and must respect ctx
// cancellation.
type Provider interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	// Dim returns the embedding dimension this provider produces.
	Dim() int
}
