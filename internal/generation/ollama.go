package generation

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
)

// Default configuration values for the Ollama generator.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "gemma3"
	DefaultTimeout = 300 * time.Second
)

// OllamaConfig holds configuration for the Ollama generator.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaGenerator generates answers with the Ollama /api/generate endpoint.
type OllamaGenerator struct {
	client  *http.Client
	baseURL string
	model   string
}

// generateRequest is the Ollama /api/generate request format.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the Ollama /api/generate response format.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaGenerator creates an Ollama generator, filling unset fields with defaults.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OllamaGenerator{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}
}

// Generate sends prompt to the model and returns the complete, non-streamed response.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(generateRequest{Model: g.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ollama %s: %w", models.ErrModelUnavailable, g.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: ollama %s (status %d): %s",
			models.ErrModelUnavailable, g.model, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", models.ErrModelUnavailable, err)
	}
	return genResp.Response, nil
}

// Name returns "ollama/<model>".
func (g *OllamaGenerator) Name() string {
	return "ollama/" + g.model
}
