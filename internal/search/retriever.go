// Package search ranks indexed chunks against a query, by similarity or hybrid with BM25.
package search

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// Index is the read side of a vector index that the retriever ranks.
type Index interface {
	Size() int
	Chunk(pos int) models.Chunk
	SearchVectors(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error)
	HasKeywords() bool
	SearchKeywords(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]*keyword.KeywordResult, error)
}

// Retriever embeds queries with the same embedder the index was built with and
// returns the best matching chunks.
type Retriever struct {
	embedder      embedding.Embedder
	keywordWeight float64
	keywordOpts   *keyword.SearchOptions
	logger        *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithKeywordWeight enables hybrid ranking when w > 0. w is clamped to [0,1].
func WithKeywordWeight(w float64) Option {
	return func(r *Retriever) {
		switch {
		case w < 0:
			r.keywordWeight = 0
		case w > 1:
			r.keywordWeight = 1
		default:
			r.keywordWeight = w
		}
	}
}

// WithKeywordOptions sets the options passed to keyword search in hybrid mode.
func WithKeywordOptions(opts *keyword.SearchOptions) Option {
	return func(r *Retriever) {
		r.keywordOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever around embedder.
func NewRetriever(embedder embedding.Embedder, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k chunks from idx ranked by cosine similarity to query, best
// first. Equal scores keep insertion order. k <= 0 means models.DefaultTopK; a k
// larger than the index returns every chunk.
func (r *Retriever) Retrieve(ctx context.Context, idx Index, query string, k int) ([]*models.RetrievedChunk, error) {
	if k <= 0 {
		k = models.DefaultTopK
	}
	size := idx.Size()
	if size == 0 {
		return []*models.RetrievedChunk{}, nil
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	var fused []*FusedResult
	if r.keywordWeight > 0 && idx.HasKeywords() {
		fused, err = r.hybrid(ctx, idx, query, queryEmbedding, size)
	} else {
		fused, err = r.semantic(ctx, idx, queryEmbedding, k)
	}
	if err != nil {
		return nil, err
	}

	if k > len(fused) {
		k = len(fused)
	}
	results := make([]*models.RetrievedChunk, 0, k)
	for i, f := range fused[:k] {
		results = append(results, &models.RetrievedChunk{
			Chunk:         idx.Chunk(f.Position),
			Score:         f.Score,
			SemanticScore: f.SemanticScore,
			KeywordScore:  f.KeywordScore,
			Rank:          i + 1,
		})
	}
	r.logger.Debug("Retrieved chunks",
		zap.Int("k", k),
		zap.Int("results", len(results)),
		zap.Bool("hybrid", r.keywordWeight > 0 && idx.HasKeywords()))
	return results, nil
}

func (r *Retriever) semantic(ctx context.Context, idx Index, queryEmbedding []float32, k int) ([]*FusedResult, error) {
	hits, err := idx.SearchVectors(ctx, queryEmbedding, k)
	if err != nil {
		return nil, err
	}
	return Fuse(hits, nil, 0), nil
}

// hybrid scores every record semantically, so keyword hits outside the semantic top k
// still get their semantic share.
func (r *Retriever) hybrid(ctx context.Context, idx Index, query string, queryEmbedding []float32, size int) ([]*FusedResult, error) {
	hits, err := idx.SearchVectors(ctx, queryEmbedding, size)
	if err != nil {
		return nil, err
	}
	kwHits, err := idx.SearchKeywords(ctx, query, size, r.keywordOpts)
	if err != nil {
		return nil, err
	}
	return Fuse(hits, NormalizeKeywordScores(kwHits), r.keywordWeight), nil
}
