// Package storage persists chunk records and reports disk usage.
package storage

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// ChunkStore persists the chunks of a vector index in insertion order. The position
// of a chunk matches the position of its vector in the vector index.
type ChunkStore interface {
	// InsertChunks appends chunks after any already stored.
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	// ListChunks returns every chunk in insertion order.
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	CountChunks(ctx context.Context) (int64, error)
	Close() error
}
