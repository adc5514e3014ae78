// Package generation provides answer generation collaborators (Ollama, echo).
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/config"
)

// Generator turns a fully assembled prompt into answer text. Implementations report
// failures wrapped with models.ErrModelUnavailable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// New creates the generator selected by cfg.Provider.
func New(cfg *config.GenerationConfig) (Generator, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}), nil
	case "echo":
		return EchoGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// EchoGenerator returns the prompt unchanged. It is useful offline and for inspecting
// the assembled prompt.
type EchoGenerator struct{}

// Generate returns prompt.
func (EchoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}

// Name returns "echo".
func (EchoGenerator) Name() string { return "echo" }
