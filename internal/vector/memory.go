package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex ranks vectors by brute-force inner product. Vectors are stored in one
// flat row-major slice; callers pass L2-normalized vectors so scores are cosines.
type MemoryIndex struct {
	mu   sync.RWMutex
	dim  int
	ids  []string
	data []float32
}

// NewMemoryIndex returns an empty index for vectors of length dim.
func NewMemoryIndex(dim int) (*MemoryIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &MemoryIndex{dim: dim}, nil
}

// Add appends vectors under ids. Nothing is added if any vector has the wrong length.
func (m *MemoryIndex) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != m.dim {
			return fmt.Errorf("vector %q has %d dimensions, index has %d", ids[i], len(v), m.dim)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, ids...)
	for _, v := range vectors {
		m.data = append(m.data, v...)
	}
	return nil
}

func (m *MemoryIndex) row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim]
}

// Search returns the k best vectors for query, highest score first. Equal scores
// keep insertion order; k beyond the index size returns everything.
func (m *MemoryIndex) Search(_ context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), m.dim)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.ids)
	if k <= 0 || n == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, n)
	for i := 0; i < n; i++ {
		results[i] = &VectorResult{ID: m.ids[i], Position: i, Score: InnerProduct(query, m.row(i))}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	return results[:min(k, n)], nil
}

func (m *MemoryIndex) Dimensions() int { return m.dim }

// Size returns the number of stored vectors.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// IDs returns a copy of the vector IDs in insertion order.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ids...)
}

func (m *MemoryIndex) Close() error { return nil }
