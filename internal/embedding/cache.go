package embedding

import (
	"container/list"
	"context"
	"sync"
)

// EmbeddingCache is a fixed-capacity LRU of embeddings keyed by text. Stored vectors
// are shared with callers and must not be modified.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	byText   map[string]*list.Element
}

type cached struct {
	text string
	vec  []float32
}

// NewEmbeddingCache returns an empty cache holding at most capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		order:    list.New(),
		byText:   make(map[string]*list.Element, capacity),
	}
}

func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byText[text]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cached).vec, true
}

// Set stores vec for text and evicts the least recently used entry when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byText[text]; ok {
		el.Value.(*cached).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.byText[text] = c.order.PushFront(&cached{text: text, vec: vec})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.byText, last.Value.(*cached).text)
	}
}

func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CachedEmbedder answers repeated texts from an EmbeddingCache and forwards the rest.
type CachedEmbedder struct {
	Embedder
	cache *EmbeddingCache
}

func NewCachedEmbedder(e Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: e, cache: NewEmbeddingCache(capacity)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec)
	return vec, nil
}

// EmbedBatch sends only the uncached texts to the wrapped embedder, as one batch, and
// returns vectors in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	misses := make(map[string][]int)
	var pending []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		if _, seen := misses[text]; !seen {
			pending = append(pending, text)
		}
		misses[text] = append(misses[text], i)
	}
	if len(pending) == 0 {
		return out, nil
	}
	vecs, err := c.Embedder.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, text := range pending {
		c.cache.Set(text, vecs[j])
		for _, i := range misses[text] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}
