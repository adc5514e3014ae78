// Package keyword holds the BM25 side of hybrid retrieval.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// SearchOptions tunes a keyword query. A nil *SearchOptions means plain term matching.
type SearchOptions struct {
	// SourceBoost weights matches in the source file name; 1 or 0 leaves them unboosted.
	SourceBoost float64
	// Fuzziness is the per-term edit distance, 0 to 2.
	Fuzziness int
}

// KeywordIndex ranks chunks by BM25 over their content and source name.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a hit keyed by chunk ID with its raw, unnormalized BM25 score.
type KeywordResult struct {
	ID    string
	Score float64
}
