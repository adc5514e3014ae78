//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// ONNXEmbedder is unavailable without CGO; every method fails with
// models.ErrModelUnavailable.
type ONNXEmbedder struct{}

func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, fmt.Errorf("%w: onnx embedder needs a CGO build with onnxruntime", models.ErrModelUnavailable)
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, models.ErrModelUnavailable
}

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, models.ErrModelUnavailable
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Name() string { return "onnx" }

func (e *ONNXEmbedder) Close() error { return nil }
