// Package vector provides the vector index and similarity helpers.
package vector

import "context"

// VectorIndex stores vectors in insertion order and ranks them against a query.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	Dimensions() int
	Size() int
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID string
	// Position is the insertion order of the vector; ties in Score keep this order.
	Position int
	Score    float64 // Cosine similarity for normalized vectors
}
