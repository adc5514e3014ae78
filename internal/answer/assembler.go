// Package answer fills the prompt template with retrieved context and asks the
// generation model for an answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// Template placeholders.
const (
	PlaceholderContext  = "{context}"
	PlaceholderQuestion = "{question}"
)

const contextSeparator = "\n\n"

// ValidateTemplate checks that tmpl contains both placeholders and names the first
// one missing.
func ValidateTemplate(tmpl string) error {
	for _, p := range []string{PlaceholderContext, PlaceholderQuestion} {
		if !strings.Contains(tmpl, p) {
			return fmt.Errorf("%w: %s", models.ErrTemplateMissingPlaceholder, p)
		}
	}
	return nil
}

// BuildContext joins chunk contents in retrieval order.
func BuildContext(chunks []*models.RetrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Chunk.Content
	}
	return strings.Join(parts, contextSeparator)
}

// Assemble substitutes the context built from chunks and the question into tmpl.
// Substitution is a single pass, so placeholder text inside chunks or the question
// is left as is.
func Assemble(tmpl, question string, chunks []*models.RetrievedChunk) (string, error) {
	if err := ValidateTemplate(tmpl); err != nil {
		return "", err
	}
	r := strings.NewReplacer(
		PlaceholderContext, BuildContext(chunks),
		PlaceholderQuestion, question,
	)
	return r.Replace(tmpl), nil
}

// Assembler produces answers from retrieved chunks with a generation model.
type Assembler struct {
	generator generation.Generator
	logger    *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler creates an assembler around generator.
func NewAssembler(generator generation.Generator, opts ...Option) *Assembler {
	a := &Assembler{generator: generator, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer assembles the prompt and returns the generated answer. An invalid template
// fails before the generator is called.
func (a *Assembler) Answer(ctx context.Context, tmpl, question string, chunks []*models.RetrievedChunk) (string, error) {
	prompt, err := Assemble(tmpl, question, chunks)
	if err != nil {
		return "", err
	}
	a.logger.Debug("Generating answer",
		zap.String("model", a.generator.Name()),
		zap.Int("chunks", len(chunks)),
		zap.Int("prompt_len", len(prompt)))
	out, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return out, nil
}
