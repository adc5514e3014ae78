package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemma3", req.Model)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "answer to: " + req.Prompt, Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL})
	out, err := g.Generate(context.Background(), "why?")
	require.NoError(t, err)
	assert.Equal(t, "answer to: why?", out)
	assert.Equal(t, "ollama/gemma3", g.Name())
}

func TestOllamaGenerator_errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "p")
	require.ErrorIs(t, err, models.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "status 503")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer bad.Close()
	_, err = NewOllamaGenerator(OllamaConfig{BaseURL: bad.URL}).Generate(context.Background(), "p")
	require.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestEchoGenerator(t *testing.T) {
	out, err := EchoGenerator{}.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "prompt text", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoGenerator{}.Generate(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	g, err := New(&config.GenerationConfig{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/llama3", g.Name())

	g, err = New(&config.GenerationConfig{Provider: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", g.Name())

	_, err = New(&config.GenerationConfig{Provider: "gpt"})
	require.Error(t, err)
}
