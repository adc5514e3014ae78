// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"go.uber.org/zap"
)

// Service is the pipeline the API exposes.
type Service interface {
	Ingest(ctx context.Context, opts pipeline.IngestOptions) (*models.IngestResponse, error)
	Retrieve(ctx context.Context, req *models.QueryRequest) (*models.RetrieveResponse, error)
	Ask(ctx context.Context, req *models.QueryRequest) (*models.AnswerResponse, error)
	Status(ctx context.Context) (*models.IndexStatus, error)
}

// requestTimeout bounds a request; answer generation on a local model can be slow.
const requestTimeout = 10 * time.Minute

// Server is the HTTP server for the kotae API.
type Server struct {
	svc    Service
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:    svc,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/ingest", s.handleIngest)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
