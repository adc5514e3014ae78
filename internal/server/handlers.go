package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with 409 responses for a build in progress.
const retryAfterSeconds = "5"

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	s.logger.Debug("ask request", zap.String("question", req.Question), zap.Int("top_k", req.TopK))
	resp, err := s.svc.Ask(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, "ask", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	s.logger.Debug("retrieve request", zap.String("question", req.Question), zap.Int("top_k", req.TopK))
	resp, err := s.svc.Retrieve(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, "retrieve", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	Rebuild bool `json:"rebuild"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request", zap.Bool("rebuild", req.Rebuild))
	resp, err := s.svc.Ingest(r.Context(), pipeline.IngestOptions{Rebuild: req.Rebuild})
	if err != nil {
		s.respondServiceError(w, "ingest", err)
		return
	}
	status := http.StatusOK
	if resp.Built {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.respondServiceError(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrDirectoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIndexBuildInProgress),
		errors.Is(err, models.ErrIncompatibleIndex):
		return http.StatusConflict
	case errors.Is(err, models.ErrTemplateMissingPlaceholder),
		errors.Is(err, models.ErrNoEligibleFiles),
		errors.Is(err, models.ErrEmptyChunkSet),
		errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Warn(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	if models.IsTransient(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
