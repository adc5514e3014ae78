package embedding

import (
	"context"
	"strings"

	"github.com/hyperjump/kotae/pkg/utils"
)

// defaultMockDimensions is used when a non-positive dimension is requested.
const defaultMockDimensions = 384

// MockEmbedder is a deterministic embedder for tests and offline runs. A text's vector
// is the normalized sum of one pseudo-random vector per lower-cased word, so equal
// texts embed identically and texts sharing words score higher than unrelated ones.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder producing vectors of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the unit-length bag-of-words vector for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := SplitWords(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{""}
	}
	emb := make([]float32, e.dimensions)
	for _, w := range words {
		state := HashString(w)
		for i := range emb {
			var r uint64
			state, r = splitmix64(state)
			// top 53 bits mapped to [-1, 1)
			emb[i] += float32(float64(r>>11)/float64(1<<53)*2 - 1)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// splitmix64 advances state and returns the next pseudo-random value.
func splitmix64(state uint64) (uint64, uint64) {
	state += 0x9e3779b97f4a7c15
	z := state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return state, z ^ (z >> 31)
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// Name returns "mock".
func (e *MockEmbedder) Name() string { return "mock" }

func (e *MockEmbedder) Close() error { return nil }
