// Package vectorstore builds, persists and loads vector indexes of chunks.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultBatchSize is the number of chunks embedded per request when unset.
const DefaultBatchSize = 32

const buildSuffix = ".build-"

// Manager creates and opens persisted indexes using one embedder for every index.
type Manager struct {
	embedder  embedding.Embedder
	batchSize int
	policy    string
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for build and open events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBatchSize sets how many chunks are embedded per EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithRebuildPolicy sets what happens when an index exists: config.RebuildNever keeps
// it; config.RebuildOnChange rebuilds it when the source fingerprint differs.
func WithRebuildPolicy(policy string) Option {
	return func(m *Manager) {
		if policy != "" {
			m.policy = policy
		}
	}
}

// BuildOption configures a single OpenOrBuild or Rebuild call.
type BuildOption func(*buildParams)

type buildParams struct {
	fingerprint string
}

// WithFingerprint records the source fingerprint in the manifest and, under the
// on_change policy, rebuilds an existing index whose fingerprint differs.
func WithFingerprint(fp string) BuildOption {
	return func(p *buildParams) {
		p.fingerprint = fp
	}
}

// NewManager creates a manager around embedder.
func NewManager(embedder embedding.Embedder, opts ...Option) *Manager {
	m := &Manager{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		policy:    config.RebuildNever,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Exists reports whether a complete index is present at indexPath.
func Exists(indexPath string) bool {
	_, err := os.Stat(filepath.Join(indexPath, manifestFile))
	return err == nil
}

// checkReplaceable fails with ErrIncompatibleIndex when something other than a kotae
// index occupies indexPath. A missing path, or a directory holding a parseable
// manifest, may be replaced by a build.
func checkReplaceable(indexPath string) error {
	info, err := os.Stat(indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat index path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s exists and is not an index directory", models.ErrIncompatibleIndex, indexPath)
	}
	data, err := os.ReadFile(filepath.Join(indexPath, manifestFile))
	if err != nil {
		return fmt.Errorf("%w: %s exists but has no %s; refusing to replace it",
			models.ErrIncompatibleIndex, indexPath, manifestFile)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil || m.FormatVersion <= 0 {
		return fmt.Errorf("%w: %s holds an unrecognised %s; refusing to replace it",
			models.ErrIncompatibleIndex, indexPath, manifestFile)
	}
	return nil
}

// NeedsBuild reports whether OpenOrBuild would build rather than load, given the
// current rebuild policy and source fingerprint. Under on_change an index built by
// another embedder also counts as stale.
func (m *Manager) NeedsBuild(indexPath, fingerprint string) bool {
	if !Exists(indexPath) {
		return true
	}
	return m.stale(indexPath, fingerprint)
}

func (m *Manager) stale(indexPath, fingerprint string) bool {
	if m.policy != config.RebuildOnChange {
		return false
	}
	manifest, err := ReadManifest(indexPath)
	if err != nil {
		return false
	}
	if manifest.compatible(m.embedder.Name(), m.embedder.Dimensions()) != nil {
		return true
	}
	return fingerprint != "" && manifest.Fingerprint != fingerprint
}

// OpenOrBuild loads the index at indexPath if it exists, ignoring chunks. Otherwise it
// embeds chunks, persists them atomically and opens the result. The int result is the
// record count.
func (m *Manager) OpenOrBuild(ctx context.Context, indexPath string, chunks []models.Chunk, opts ...BuildOption) (*Index, int, error) {
	var p buildParams
	for _, opt := range opts {
		opt(&p)
	}

	unlock := buildLocks.lock(lockKey(indexPath))
	defer unlock()

	if err := checkReplaceable(indexPath); err != nil {
		return nil, 0, err
	}
	if Exists(indexPath) && !m.stale(indexPath, p.fingerprint) {
		idx, err := m.Open(ctx, indexPath)
		if err != nil {
			return nil, 0, err
		}
		return idx, idx.Size(), nil
	}
	if Exists(indexPath) {
		m.logger.Info("Source files changed, rebuilding index", zap.String("path", indexPath))
	}
	return m.build(ctx, indexPath, chunks, p)
}

// Rebuild builds a new index from chunks and atomically replaces any index at indexPath.
func (m *Manager) Rebuild(ctx context.Context, indexPath string, chunks []models.Chunk, opts ...BuildOption) (*Index, int, error) {
	var p buildParams
	for _, opt := range opts {
		opt(&p)
	}
	unlock := buildLocks.lock(lockKey(indexPath))
	defer unlock()
	return m.build(ctx, indexPath, chunks, p)
}

// Open loads the index at indexPath and checks it against the embedder.
func (m *Manager) Open(ctx context.Context, indexPath string) (*Index, error) {
	manifest, err := ReadManifest(indexPath)
	if err != nil {
		return nil, err
	}
	if err := manifest.compatible(m.embedder.Name(), m.embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("open %s: %w", indexPath, err)
	}

	vectors, err := vector.LoadMemoryIndex(filepath.Join(indexPath, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	chunks, err := loadChunks(ctx, filepath.Join(indexPath, chunksFile))
	if err != nil {
		return nil, err
	}
	ids := vectors.IDs()
	if len(ids) != len(chunks) || len(chunks) != manifest.Records {
		return nil, fmt.Errorf("%w: %s: %d vectors, %d chunks, manifest says %d",
			models.ErrIncompatibleIndex, indexPath, len(ids), len(chunks), manifest.Records)
	}
	for i, id := range ids {
		if chunks[i].ID != id {
			return nil, fmt.Errorf("%w: %s: vector %d is %s, chunk is %s",
				models.ErrIncompatibleIndex, indexPath, i, id, chunks[i].ID)
		}
	}

	var keywords keyword.KeywordIndex
	kw, err := keyword.OpenBleveIndexReadOnly(filepath.Join(indexPath, keywordDir))
	if err != nil {
		m.logger.Warn("Keyword index unavailable, hybrid retrieval disabled",
			zap.String("path", indexPath), zap.Error(err))
	} else if n, err := kw.DocCount(); err != nil || n != uint64(len(chunks)) {
		m.logger.Warn("Keyword index out of step with chunks, hybrid retrieval disabled",
			zap.String("path", indexPath), zap.Uint64("docs", n), zap.Int("chunks", len(chunks)), zap.Error(err))
		_ = kw.Close()
	} else {
		keywords = kw
	}

	m.logger.Info("Opened index",
		zap.String("path", indexPath),
		zap.Int("records", len(chunks)),
		zap.String("model", manifest.EmbeddingModel))
	return newIndex(indexPath, *manifest, vectors, chunks, keywords), nil
}

func loadChunks(ctx context.Context, dbPath string) ([]models.Chunk, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrIncompatibleIndex, err)
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	chunks, err := store.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return chunks, nil
}

// build runs with the keyed mutex held.
func (m *Manager) build(ctx context.Context, indexPath string, chunks []models.Chunk, p buildParams) (*Index, int, error) {
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrEmptyChunkSet, indexPath)
	}
	if err := checkReplaceable(indexPath); err != nil {
		return nil, 0, err
	}
	release, err := acquireLockFile(indexPath)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	removeStaleBuilds(indexPath, m.logger)

	start := time.Now()
	tmp := indexPath + buildSuffix + uuid.NewString()
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, 0, fmt.Errorf("failed to create build directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	vectors, err := m.embedChunks(ctx, chunks)
	if err != nil {
		return nil, 0, err
	}
	manifest := &Manifest{
		FormatVersion:  FormatVersion,
		EmbeddingModel: m.embedder.Name(),
		Dimensions:     len(vectors[0]),
		Records:        len(chunks),
		Fingerprint:    p.fingerprint,
		CreatedAt:      time.Now().UTC(),
	}
	if err := writeIndexFiles(ctx, tmp, chunks, vectors, manifest); err != nil {
		return nil, 0, err
	}
	if err := replaceDir(tmp, indexPath); err != nil {
		return nil, 0, err
	}
	committed = true

	m.logger.Info("Built index",
		zap.String("path", indexPath),
		zap.Int("records", len(chunks)),
		zap.Duration("duration", time.Since(start)))

	idx, err := m.Open(ctx, indexPath)
	if err != nil {
		return nil, 0, err
	}
	return idx, idx.Size(), nil
}

// embedChunks embeds chunk contents in batches, preserving order.
func (m *Manager) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + m.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, ch := range chunks[start:end] {
			texts[i] = ch.Content
		}
		batch, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
				models.ErrModelUnavailable, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		m.logger.Debug("Embedded batch", zap.Int("from", start), zap.Int("to", end))
	}
	return vectors, nil
}

func writeIndexFiles(ctx context.Context, dir string, chunks []models.Chunk, vectors [][]float32, manifest *Manifest) error {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	vi, err := vector.NewMemoryIndex(manifest.Dimensions)
	if err != nil {
		return err
	}
	if err := vi.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to add vectors: %w", err)
	}
	if err := vi.Save(filepath.Join(dir, vectorsFile)); err != nil {
		return fmt.Errorf("failed to save vectors: %w", err)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, chunksFile))
	if err != nil {
		return err
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	n, err := store.CountChunks(ctx)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if n != int64(len(chunks)) {
		_ = store.Close()
		return fmt.Errorf("chunk store holds %d of %d chunks", n, len(chunks))
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close chunk store: %w", err)
	}

	kw, err := keyword.NewBleveIndex(filepath.Join(dir, keywordDir))
	if err != nil {
		return err
	}
	if err := kw.IndexChunks(ctx, chunks); err != nil {
		_ = kw.Close()
		return err
	}
	if err := kw.Close(); err != nil {
		return fmt.Errorf("failed to close keyword index: %w", err)
	}

	return writeManifest(dir, manifest)
}

// replaceDir moves the finished build at tmp onto indexPath. An existing index is
// moved aside first and removed once the new one is in place; anything else at
// indexPath is left untouched and the build fails.
func replaceDir(tmp, indexPath string) error {
	if err := checkReplaceable(indexPath); err != nil {
		return err
	}
	if _, err := os.Stat(indexPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmp, indexPath); err != nil {
			return fmt.Errorf("failed to move index into place: %w", err)
		}
		return nil
	}
	old := indexPath + buildSuffix + uuid.NewString() + "-old"
	if err := os.Rename(indexPath, old); err != nil {
		return fmt.Errorf("failed to move old index aside: %w", err)
	}
	if err := os.Rename(tmp, indexPath); err != nil {
		_ = os.Rename(old, indexPath)
		return fmt.Errorf("failed to move index into place: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}

// removeStaleBuilds deletes build directories left by interrupted builds. It runs with
// the lock file held.
func removeStaleBuilds(indexPath string, logger *zap.Logger) {
	matches, err := filepath.Glob(indexPath + buildSuffix + "*")
	if err != nil {
		return
	}
	for _, dir := range matches {
		logger.Info("Removing interrupted build", zap.String("path", dir))
		_ = os.RemoveAll(dir)
	}
}
