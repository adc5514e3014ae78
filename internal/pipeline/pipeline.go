// Package pipeline wires ingestion, the vector store, retrieval and answering into one
// service used by the CLI, the HTTP server and the watcher.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vectorstore"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Service runs the ingest, retrieve and ask operations against one data directory and
// one persisted index. It is safe for concurrent use.
type Service struct {
	cfg         *config.Config
	embedder    embedding.Embedder
	coordinator *indexer.Coordinator
	manager     *vectorstore.Manager
	retriever   *search.Retriever
	assembler   *answer.Assembler
	logger      *zap.Logger

	mu    sync.RWMutex
	index *vectorstore.Index
}

// Option configures a Service.
type Option func(*options)

type options struct {
	loader *extract.Loader
}

// WithLoader replaces the document loader used for ingestion.
func WithLoader(l *extract.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// IngestOptions control a single ingestion run.
type IngestOptions struct {
	// Rebuild replaces an existing index regardless of the rebuild policy.
	Rebuild bool
	// IfChanged rebuilds an existing index only when the source fingerprint differs,
	// regardless of the rebuild policy.
	IfChanged bool
}

// New validates cfg and creates a service. The embedder is shared by index builds and
// query embedding; the caller owns and closes it.
func New(cfg *config.Config, embedder embedding.Embedder, generator generation.Generator, logger *zap.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := answer.ValidateTemplate(cfg.Prompt.Template); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	logger = utils.OrNop(logger)

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	coordOpts := []indexer.CoordinatorOption{indexer.WithLogger(logger)}
	if o.loader != nil {
		coordOpts = append(coordOpts, indexer.WithLoader(o.loader))
	}

	var kwOpts *keyword.SearchOptions
	if cfg.Retrieval.KeywordFuzziness > 0 {
		kwOpts = &keyword.SearchOptions{Fuzziness: cfg.Retrieval.KeywordFuzziness}
	}

	return &Service{
		cfg:         cfg,
		embedder:    embedder,
		coordinator: indexer.NewCoordinator(&cfg.Ingest, coordOpts...),
		manager: vectorstore.NewManager(embedder,
			vectorstore.WithLogger(logger),
			vectorstore.WithBatchSize(cfg.Embedding.BatchSize),
			vectorstore.WithRebuildPolicy(cfg.Index.RebuildPolicy)),
		retriever: search.NewRetriever(embedder,
			search.WithKeywordWeight(cfg.Retrieval.KeywordWeight),
			search.WithKeywordOptions(kwOpts),
			search.WithLogger(logger)),
		assembler: answer.NewAssembler(generator, answer.WithLogger(logger)),
		logger:    logger,
	}, nil
}

// DataDirectory returns the configured data directory.
func (s *Service) DataDirectory() string {
	return s.cfg.Ingest.DataDirectory
}

// Ingest discovers and chunks the data directory, then opens or builds the index and
// makes it live. Chunking is skipped when the existing index is kept.
func (s *Service) Ingest(ctx context.Context, opts IngestOptions) (*models.IngestResponse, error) {
	start := time.Now()
	dataDir := s.cfg.Ingest.DataDirectory
	indexPath := s.cfg.Storage.IndexPath

	files, skipped, err := s.coordinator.Discover(dataDir)
	if err != nil {
		return nil, err
	}
	fingerprint, err := indexer.Fingerprint(files)
	if err != nil {
		return nil, err
	}

	build := opts.Rebuild || s.manager.NeedsBuild(indexPath, fingerprint) ||
		(opts.IfChanged && s.fingerprintChanged(indexPath, fingerprint))

	var (
		idx     *vectorstore.Index
		records int
	)
	if !build {
		idx, records, err = s.manager.OpenOrBuild(ctx, indexPath, nil, vectorstore.WithFingerprint(fingerprint))
	} else {
		var chunks []models.Chunk
		chunks, err = s.coordinator.ChunkFiles(ctx, files)
		if err != nil {
			return nil, err
		}
		if opts.Rebuild || vectorstore.Exists(indexPath) {
			idx, records, err = s.manager.Rebuild(ctx, indexPath, chunks, vectorstore.WithFingerprint(fingerprint))
		} else {
			idx, records, err = s.manager.OpenOrBuild(ctx, indexPath, chunks, vectorstore.WithFingerprint(fingerprint))
		}
	}
	if err != nil {
		return nil, err
	}
	s.swap(idx)

	duration := time.Since(start)
	s.logger.Info("Number of embeddings", zap.Int("records", records), zap.String("index", indexPath))
	s.logger.Info("ingestion completed",
		zap.String("data_directory", dataDir),
		zap.Bool("built", build),
		zap.Duration("duration", duration))

	return &models.IngestResponse{
		DataDirectory: dataDir,
		IndexPath:     indexPath,
		Records:       records,
		Built:         build,
		Skipped:       skipped,
		DurationMs:    duration.Milliseconds(),
	}, nil
}

func (s *Service) fingerprintChanged(indexPath, fingerprint string) bool {
	manifest, err := vectorstore.ReadManifest(indexPath)
	if err != nil {
		return false
	}
	return manifest.Fingerprint != fingerprint
}

// Refresh rebuilds the index if the data directory changed since it was built.
func (s *Service) Refresh(ctx context.Context) (*models.IngestResponse, error) {
	return s.Ingest(ctx, IngestOptions{IfChanged: true})
}

// swap makes idx live and closes the previous index once no query uses it.
func (s *Service) swap(idx *vectorstore.Index) {
	s.mu.Lock()
	old := s.index
	s.index = idx
	s.mu.Unlock()
	if old != nil && old != idx {
		if err := old.Close(); err != nil {
			s.logger.Warn("Failed to close previous index", zap.Error(err))
		}
	}
}

// withIndex runs fn with the live index held for reading, ingesting first when no
// index is live.
func (s *Service) withIndex(ctx context.Context, fn func(*vectorstore.Index) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		s.mu.RLock()
		if idx := s.index; idx != nil {
			defer s.mu.RUnlock()
			return fn(idx)
		}
		s.mu.RUnlock()
		if _, err := s.Ingest(ctx, IngestOptions{}); err != nil {
			return err
		}
	}
	return fmt.Errorf("index not available: %s", s.cfg.Storage.IndexPath)
}

// validate checks req and returns the number of chunks to retrieve: the request's
// top_k, or the configured default.
func (s *Service) validate(req *models.QueryRequest) (int, error) {
	explicit := req.TopK > 0
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if !explicit && s.cfg.Retrieval.TopK > 0 {
		return s.cfg.Retrieval.TopK, nil
	}
	return req.TopK, nil
}

// Retrieve returns the chunks that best match the question.
func (s *Service) Retrieve(ctx context.Context, req *models.QueryRequest) (*models.RetrieveResponse, error) {
	start := time.Now()
	k, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	var results []*models.RetrievedChunk
	err = s.withIndex(ctx, func(idx *vectorstore.Index) error {
		var err error
		results, err = s.retriever.Retrieve(ctx, idx, req.Question, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.RetrieveResponse{
		Question:  req.Question,
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Ask retrieves context for the question and generates an answer. The template is
// checked before anything is embedded or generated.
func (s *Service) Ask(ctx context.Context, req *models.QueryRequest) (*models.AnswerResponse, error) {
	start := time.Now()
	k, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	tmpl := req.Template
	if tmpl == "" {
		tmpl = s.cfg.Prompt.Template
	}
	if err := answer.ValidateTemplate(tmpl); err != nil {
		return nil, err
	}

	var results []*models.RetrievedChunk
	err = s.withIndex(ctx, func(idx *vectorstore.Index) error {
		var err error
		results, err = s.retriever.Retrieve(ctx, idx, req.Question, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	text, err := s.assembler.Answer(ctx, tmpl, req.Question, results)
	if err != nil {
		return nil, err
	}
	return &models.AnswerResponse{
		Question:  req.Question,
		Answer:    text,
		Sources:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Status describes the live index, or the persisted one when none is live yet.
func (s *Service) Status(ctx context.Context) (*models.IndexStatus, error) {
	indexPath := s.cfg.Storage.IndexPath
	status := &models.IndexStatus{IndexPath: indexPath}

	s.mu.RLock()
	idx := s.index
	var manifest *vectorstore.Manifest
	if idx != nil {
		m := idx.Manifest()
		manifest = &m
	}
	s.mu.RUnlock()

	if manifest == nil && vectorstore.Exists(indexPath) {
		m, err := vectorstore.ReadManifest(indexPath)
		if err != nil {
			return nil, err
		}
		manifest = m
	}
	if manifest != nil {
		status.Records = manifest.Records
		status.EmbeddingModel = manifest.EmbeddingModel
		status.Dimensions = manifest.Dimensions
		status.Fingerprint = manifest.Fingerprint
		status.CreatedAt = manifest.CreatedAt
	}
	if size, err := storage.DiskUsageBytes(indexPath); err == nil {
		status.DiskUsageBytes = &size
	}
	return status, nil
}

// Close closes the live index.
func (s *Service) Close() error {
	s.mu.Lock()
	idx := s.index
	s.index = nil
	s.mu.Unlock()
	if idx != nil {
		return idx.Close()
	}
	return nil
}
