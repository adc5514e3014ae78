// Package embedding provides text embedding collaborators (Ollama, ONNX, mock) and caching.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/config"
)

// Embedder produces vector embeddings for text. Implementations report failures
// wrapped with models.ErrModelUnavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Name identifies the model; an index built with one name is not queried with another.
	Name() string
	Close() error
}

// New creates the embedder selected by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive.
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "ollama":
		e = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	case "onnx":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		e = onnx
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
