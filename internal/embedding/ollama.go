package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Default configuration values for the Ollama embedder.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "mxbai-embed-large"
	DefaultOllamaTimeout = 60 * time.Second
	DefaultBatchSize     = 32
)

// OllamaConfig holds configuration for the Ollama embedder.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// Dimensions is the expected vector size; responses of another size are rejected.
	// Zero accepts whatever the model returns.
	Dimensions int
	// BatchSize caps the number of inputs per /api/embed request.
	BatchSize int
	Timeout   time.Duration
}

// OllamaEmbedder generates embeddings with the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	batchSize  int
}

// embedRequest is the Ollama /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama /api/embed response format.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder, filling unset fields with defaults.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &OllamaEmbedder{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}
}

// Embed returns the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs, preserving order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama %s: %w", models.ErrModelUnavailable, e.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama %s (status %d): %s",
			models.ErrModelUnavailable, e.model, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", models.ErrModelUnavailable, err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: ollama %s returned %d embeddings for %d inputs",
			models.ErrModelUnavailable, e.model, len(embedResp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, raw := range embedResp.Embeddings {
		if e.dimensions > 0 && len(raw) != e.dimensions {
			return nil, fmt.Errorf("%w: ollama %s returned %d dimensions, expected %d",
				models.ErrModelUnavailable, e.model, len(raw), e.dimensions)
		}
		vec := utils.Float64sToFloat32s(raw)
		utils.NormalizeL2(vec)
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the configured embedding vector size.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns "ollama/<model>".
func (e *OllamaEmbedder) Name() string {
	return "ollama/" + e.model
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
