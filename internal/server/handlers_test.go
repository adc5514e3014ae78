package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	err        error
	ingestOpts pipeline.IngestOptions
	lastQuery  *models.QueryRequest
}

func (f *fakeService) Ingest(_ context.Context, opts pipeline.IngestOptions) (*models.IngestResponse, error) {
	f.ingestOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResponse{Records: 3, Built: opts.Rebuild}, nil
}

func (f *fakeService) Retrieve(_ context.Context, req *models.QueryRequest) (*models.RetrieveResponse, error) {
	f.lastQuery = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.RetrieveResponse{
		Question: req.Question,
		Results:  []*models.RetrievedChunk{{Chunk: models.Chunk{ID: "c1", Content: "hello"}, Score: 0.9, Rank: 1}},
	}, nil
}

func (f *fakeService) Ask(_ context.Context, req *models.QueryRequest) (*models.AnswerResponse, error) {
	f.lastQuery = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnswerResponse{Question: req.Question, Answer: "42"}, nil
}

func (f *fakeService) Status(context.Context) (*models.IndexStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.IndexStatus{IndexPath: "/idx", Records: 3, EmbeddingModel: "mock"}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	h := NewServer(&fakeService{}, &config.ServerConfig{}, nil).Handler()
	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleAsk(t *testing.T) {
	svc := &fakeService{}
	h := NewServer(svc, &config.ServerConfig{}, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/ask", `{"question":"meaning of life?","top_k":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out models.AnswerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, 3, svc.lastQuery.TopK)
}

func TestHandleRetrieve(t *testing.T) {
	h := NewServer(&fakeService{}, &config.ServerConfig{}, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/retrieve", `{"question":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out models.RetrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c1", out.Results[0].Chunk.ID)
}

func TestHandleQuery_badRequests(t *testing.T) {
	h := NewServer(&fakeService{}, &config.ServerConfig{}, nil).Handler()
	for _, path := range []string{"/api/v1/ask", "/api/v1/retrieve"} {
		w := do(t, h, http.MethodPost, path, `not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)

		w = do(t, h, http.MethodPost, path, `{"question":"  "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "question is required")
	}
}

func TestHandleIngest(t *testing.T) {
	svc := &fakeService{}
	h := NewServer(svc, &config.ServerConfig{}, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/ingest", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.ingestOpts.Rebuild)

	w = do(t, h, http.MethodPost, "/api/v1/ingest", `{"rebuild":true}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, svc.ingestOpts.Rebuild)
}

func TestHandleStatus(t *testing.T) {
	h := NewServer(&fakeService{}, &config.ServerConfig{}, nil).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out models.IndexStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, 3, out.Records)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrDirectoryNotFound, http.StatusNotFound},
		{models.ErrNoEligibleFiles, http.StatusUnprocessableEntity},
		{models.ErrEmptyChunkSet, http.StatusUnprocessableEntity},
		{models.ErrTemplateMissingPlaceholder, http.StatusUnprocessableEntity},
		{models.ErrUnsupportedFormat, http.StatusUnprocessableEntity},
		{models.ErrIndexBuildInProgress, http.StatusConflict},
		{models.ErrIncompatibleIndex, http.StatusConflict},
		{models.ErrModelUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &fakeService{err: fmt.Errorf("wrapped: %w", tt.err)}
			h := NewServer(svc, &config.ServerConfig{}, nil).Handler()
			w := do(t, h, http.MethodPost, "/api/v1/ingest", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
			if tt.err == models.ErrIndexBuildInProgress {
				assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestServer_endToEnd(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "faq.json"),
		[]byte(`{"hours":"nine to five","phone":"555-0100"}`), 0644))

	cfg := &config.Config{
		Storage:    config.StorageConfig{IndexPath: filepath.Join(root, "kotae.db")},
		Embedding:  config.EmbeddingConfig{Provider: "mock", Dimensions: 8},
		Generation: config.GenerationConfig{Provider: "echo"},
		Ingest:     config.IngestConfig{DataDirectory: dataDir},
		Prompt:     config.PromptConfig{Template: "{context}||{question}"},
	}
	config.ApplyDefaults(cfg)
	svc, err := pipeline.New(cfg, embedding.NewMockEmbedder(8), generation.EchoGenerator{}, nil)
	require.NoError(t, err)
	defer svc.Close()

	ts := httptest.NewServer(NewServer(svc, &cfg.Server, nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/ask", "application/json", bytes.NewBufferString(`{"question":"hours?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.AnswerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, `{"hours":"nine to five","phone":"555-0100"}||hours?`, out.Answer)

	resp2, err := http.Post(ts.URL+"/api/v1/ask", "application/json",
		bytes.NewBufferString(`{"question":"hours?","template":"{context} only"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp2.StatusCode)
}
