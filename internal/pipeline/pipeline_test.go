package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// formFeedPages treats the file bytes as page texts separated by form feeds.
type formFeedPages struct{}

func (formFeedPages) Pages(content []byte) ([]string, error) {
	return strings.Split(string(content), "\f"), nil
}

type countingEmbedder struct {
	*embedding.MockEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

type fixture struct {
	cfg      *config.Config
	dataDir  string
	embedder *countingEmbedder
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0644))
	}
	cfg := &config.Config{
		Storage:    config.StorageConfig{IndexPath: filepath.Join(root, "kotae.db")},
		Embedding:  config.EmbeddingConfig{Provider: "mock", Dimensions: 16},
		Generation: config.GenerationConfig{Provider: "echo"},
		Ingest:     config.IngestConfig{DataDirectory: dataDir, ChunkSize: 100, ChunkOverlap: 20},
	}
	config.ApplyDefaults(cfg)
	return &fixture{
		cfg:      cfg,
		dataDir:  dataDir,
		embedder: &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(16)},
	}
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	loader := extract.NewLoader(extract.WithPageExtractor(formFeedPages{}))
	svc, err := New(f.cfg, f.embedder, generation.EchoGenerator{}, nil, WithLoader(loader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

var sampleFiles = map[string]string{
	"handbook.pdf": "Employees get twenty vacation days per year.\fThe office opens at nine.",
	"faq.json":     `{"shipping":{"days":3,"carrier":"parcel post"},"returns":"within thirty days"}`,
	"notes.txt":    "ignored",
}

func TestNew_validation(t *testing.T) {
	f := newFixture(t, nil)
	emb := embedding.NewMockEmbedder(8)
	gen := generation.EchoGenerator{}

	cfg := *f.cfg
	cfg.Ingest.DataDirectory = ""
	_, err := New(&cfg, emb, gen, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_directory")

	cfg = *f.cfg
	cfg.Prompt.Template = "Context: {context}"
	_, err = New(&cfg, emb, gen, nil)
	require.ErrorIs(t, err, models.ErrTemplateMissingPlaceholder)

	_, err = New(f.cfg, nil, gen, nil)
	require.Error(t, err)
	_, err = New(f.cfg, emb, nil, nil)
	require.Error(t, err)
}

func TestIngest_buildThenLoad(t *testing.T) {
	f := newFixture(t, sampleFiles)
	ctx := context.Background()

	resp, err := f.service(t).Ingest(ctx, IngestOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Built)
	assert.Greater(t, resp.Records, 2)
	assert.Equal(t, []string{"notes.txt"}, resp.Skipped)
	assert.Equal(t, f.cfg.Storage.IndexPath, resp.IndexPath)

	f.embedder.calls.Store(0)
	resp2, err := f.service(t).Ingest(ctx, IngestOptions{})
	require.NoError(t, err)
	assert.False(t, resp2.Built)
	assert.Equal(t, resp.Records, resp2.Records)
	assert.Zero(t, f.embedder.calls.Load())
}

func TestIngest_emptyDirectory(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service(t).Ingest(context.Background(), IngestOptions{})
	require.ErrorIs(t, err, models.ErrNoEligibleFiles)
	assert.NoDirExists(t, f.cfg.Storage.IndexPath)
}

func TestIngest_forcedRebuild(t *testing.T) {
	f := newFixture(t, sampleFiles)
	ctx := context.Background()
	svc := f.service(t)

	_, err := svc.Ingest(ctx, IngestOptions{})
	require.NoError(t, err)
	f.embedder.calls.Store(0)

	resp, err := svc.Ingest(ctx, IngestOptions{Rebuild: true})
	require.NoError(t, err)
	assert.True(t, resp.Built)
	assert.NotZero(t, f.embedder.calls.Load())
}

func TestRefresh_rebuildsOnlyWhenSourcesChange(t *testing.T) {
	f := newFixture(t, sampleFiles)
	ctx := context.Background()
	svc := f.service(t)

	first, err := svc.Ingest(ctx, IngestOptions{})
	require.NoError(t, err)

	resp, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Built)

	path := filepath.Join(f.dataDir, "extra.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"warranty":"two years"}`), 0644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	resp, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Built)
	assert.Equal(t, first.Records+1, resp.Records)

	results, err := svc.Retrieve(ctx, &models.QueryRequest{Question: "warranty", TopK: 100})
	require.NoError(t, err)
	assert.Len(t, results.Results, resp.Records)
}

func TestRetrieve_ingestsOnFirstUse(t *testing.T) {
	f := newFixture(t, sampleFiles)
	svc := f.service(t)

	resp, err := svc.Retrieve(context.Background(), &models.QueryRequest{Question: "vacation days", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, "vacation days", resp.Question)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
	assert.DirExists(t, f.cfg.Storage.IndexPath)
}

func TestRetrieve_usesConfiguredTopK(t *testing.T) {
	f := newFixture(t, sampleFiles)
	f.cfg.Retrieval.TopK = 1
	resp, err := f.service(t).Retrieve(context.Background(), &models.QueryRequest{Question: "office"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestRetrieve_emptyQuestion(t *testing.T) {
	f := newFixture(t, sampleFiles)
	_, err := f.service(t).Retrieve(context.Background(), &models.QueryRequest{})
	require.Error(t, err)
	assert.Zero(t, f.embedder.calls.Load())
}

func TestAsk_echoesAssembledPrompt(t *testing.T) {
	f := newFixture(t, sampleFiles)
	f.cfg.Prompt.Template = "CTX[{context}] Q[{question}]"
	svc := f.service(t)

	resp, err := svc.Ask(context.Background(), &models.QueryRequest{Question: "When does the office open?", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 3)
	assert.True(t, strings.HasPrefix(resp.Answer, "CTX["))
	assert.True(t, strings.HasSuffix(resp.Answer, "Q[When does the office open?]"))
	for _, src := range resp.Sources {
		assert.Contains(t, resp.Answer, src.Chunk.Content)
	}
}

func TestAsk_templateMissingQuestionFailsBeforeAnyModelCall(t *testing.T) {
	f := newFixture(t, sampleFiles)
	svc := f.service(t)

	_, err := svc.Ask(context.Background(), &models.QueryRequest{
		Question: "anything",
		Template: "Only context: {context}",
	})
	require.ErrorIs(t, err, models.ErrTemplateMissingPlaceholder)
	assert.Contains(t, err.Error(), "{question}")
	assert.Zero(t, f.embedder.calls.Load())
	assert.NoDirExists(t, f.cfg.Storage.IndexPath)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, sampleFiles)
	ctx := context.Background()
	svc := f.service(t)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Records)

	resp, err := svc.Ingest(ctx, IngestOptions{})
	require.NoError(t, err)

	status, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.Records, status.Records)
	assert.Equal(t, "mock", status.EmbeddingModel)
	assert.Equal(t, 16, status.Dimensions)
	assert.NotEmpty(t, status.Fingerprint)
	require.NotNil(t, status.DiskUsageBytes)
	assert.Greater(t, *status.DiskUsageBytes, int64(0))

	// A fresh service reads the persisted manifest without opening the index.
	status, err = f.service(t).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.Records, status.Records)
}
