package store

import (
	"fmt"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
)

// ErrNotFound builds a NotFound error for a missing tool/capability/record.
func ErrNotFound(kind, id string) *pmlerr.Error {
	return pmlerr.New(pmlerr.NotFound, kind+" not found: "+id)
}

// ErrDimensionMismatch builds a DimensionMismatch error for an embedding
// whose length does not match the configured dimension.
func ErrDimensionMismatch(got, want int) *pmlerr.Error {
	return pmlerr.New(pmlerr.DimensionMismatch, fmt.Sprintf("embedding dimension mismatch: got %d want %d", got, want))
}
