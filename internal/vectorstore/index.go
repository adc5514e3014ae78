package vectorstore

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// Index is an opened, read-only vector index. Chunks are held in memory in insertion
// order; the position of a chunk equals the position of its vector.
type Index struct {
	path     string
	manifest Manifest
	vectors  vector.VectorIndex
	chunks   []models.Chunk
	byID     map[string]int
	keywords keyword.KeywordIndex
}

func newIndex(path string, manifest Manifest, vectors vector.VectorIndex, chunks []models.Chunk, keywords keyword.KeywordIndex) *Index {
	byID := make(map[string]int, len(chunks))
	for i, ch := range chunks {
		byID[ch.ID] = i
	}
	return &Index{
		path:     path,
		manifest: manifest,
		vectors:  vectors,
		chunks:   chunks,
		byID:     byID,
		keywords: keywords,
	}
}

// Path returns the index directory.
func (i *Index) Path() string {
	return i.path
}

// Manifest returns a copy of the index manifest.
func (i *Index) Manifest() Manifest {
	return i.manifest
}

// Size returns the number of records.
func (i *Index) Size() int {
	return len(i.chunks)
}

// Chunk returns the chunk at position pos.
func (i *Index) Chunk(pos int) models.Chunk {
	return i.chunks[pos]
}

// Position returns the insertion position of the chunk with the given ID.
func (i *Index) Position(id string) (int, bool) {
	pos, ok := i.byID[id]
	return pos, ok
}

// SearchVectors returns up to k records ranked by similarity to query, ties in
// insertion order.
func (i *Index) SearchVectors(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error) {
	if len(i.chunks) == 0 {
		return nil, nil
	}
	results, err := i.vectors.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}

// HasKeywords reports whether the index carries a keyword index.
func (i *Index) HasKeywords() bool {
	return i.keywords != nil
}

// SearchKeywords runs a BM25 search over chunk text. It returns nothing when the
// index has no keyword index.
func (i *Index) SearchKeywords(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]*keyword.KeywordResult, error) {
	if i.keywords == nil {
		return nil, nil
	}
	results, err := i.keywords.Search(ctx, query, limit, opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return results, nil
}

// Close releases the vector and keyword indexes.
func (i *Index) Close() error {
	var firstErr error
	if i.keywords != nil {
		if err := i.keywords.Close(); err != nil {
			firstErr = err
		}
	}
	if err := i.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
