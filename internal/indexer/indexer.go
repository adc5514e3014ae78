package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator discovers eligible files in a data directory and turns them into one
// ordered chunk sequence: all PDFs by name, then all JSON files by name.
type Coordinator struct {
	loader  *extract.Loader
	text    *TextSplitter
	json    *JSONSplitter
	workers int
	logger  *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for skipped files and per-file chunk counts.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLoader replaces the default document loader.
func WithLoader(l *extract.Loader) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.loader = l
		}
	}
}

// NewCoordinator creates a coordinator from the ingest configuration.
func NewCoordinator(cfg *config.IngestConfig, opts ...CoordinatorOption) *Coordinator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	c := &Coordinator{
		text:    NewTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		json:    NewJSONSplitter(cfg.ChunkSize, cfg.ConvertJSONLists),
		workers: workers,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		c.loader = extract.NewLoader(extract.WithLogger(c.logger))
	}
	return c
}

// Discover lists the eligible files directly inside dir in ingestion order and
// returns the names of skipped entries. Subdirectories are not scanned.
func (c *Coordinator) Discover(dir string) ([]models.SourceFile, []string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", models.ErrDirectoryNotFound, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read directory: %w", err)
	}

	var pdfs, jsons []models.SourceFile
	var skipped []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		kind, ok := models.KindForPath(entry.Name())
		if !ok || entry.IsDir() {
			skipped = append(skipped, entry.Name())
			c.logger.Warn("Ignoring unsupported entry", zap.String("path", path))
			continue
		}
		switch kind {
		case models.KindPDF:
			pdfs = append(pdfs, models.SourceFile{Path: path, Kind: kind})
		case models.KindJSON:
			jsons = append(jsons, models.SourceFile{Path: path, Kind: kind})
		}
	}
	if len(pdfs) == 0 && len(jsons) == 0 {
		return nil, skipped, fmt.Errorf("%w: %s", models.ErrNoEligibleFiles, dir)
	}

	byPath := func(files []models.SourceFile) {
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	}
	byPath(pdfs)
	byPath(jsons)
	return append(pdfs, jsons...), skipped, nil
}

// Ingest discovers the files in dir and chunks them.
func (c *Coordinator) Ingest(ctx context.Context, dir string) ([]models.Chunk, error) {
	files, _, err := c.Discover(dir)
	if err != nil {
		return nil, err
	}
	return c.ChunkFiles(ctx, files)
}

// ChunkFiles loads and splits files, possibly in parallel, and concatenates their
// chunks in the order of files. A chunk ID seen twice is kept only once.
func (c *Coordinator) ChunkFiles(ctx context.Context, files []models.SourceFile) ([]models.Chunk, error) {
	perFile := make([][]models.Chunk, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := c.chunkFile(f)
			if err != nil {
				return err
			}
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, chunks := range perFile {
		total += len(chunks)
	}
	all := make([]models.Chunk, 0, total)
	seen := make(map[string]struct{}, total)
	for _, chunks := range perFile {
		for _, ch := range chunks {
			if _, dup := seen[ch.ID]; dup {
				c.logger.Warn("Dropping duplicate chunk",
					zap.String("id", ch.ID),
					zap.String("path", ch.Source()))
				continue
			}
			seen[ch.ID] = struct{}{}
			all = append(all, ch)
		}
	}
	c.logger.Info("Chunked files",
		zap.Int("files", len(files)),
		zap.Int("chunks", len(all)))
	return all, nil
}

func (c *Coordinator) chunkFile(f models.SourceFile) ([]models.Chunk, error) {
	docs, err := c.loader.Load(f.Path, f.Kind)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	switch f.Kind {
	case models.KindPDF:
		chunks = c.text.SplitDocuments(docs)
	case models.KindJSON:
		chunks, err = c.json.Split(docs[0].Raw, f.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q (%s)", models.ErrUnsupportedFormat, f.Kind, f.Path)
	}
	for i := range chunks {
		if chunks[i].Oversized() {
			c.logger.Warn("Chunk exceeds size limit",
				zap.String("id", chunks[i].ID),
				zap.String("path", f.Path),
				zap.String("json_path", chunks[i].Metadata[models.MetaJSONPath]))
		}
	}
	c.logger.Debug("Chunked file",
		zap.String("path", f.Path),
		zap.String("kind", string(f.Kind)),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}
