package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"gopkg.in/yaml.v3"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// Files inside an index directory.
const (
	manifestFile = "manifest.yaml"
	vectorsFile  = "vectors.bin"
	chunksFile   = "chunks.db"
	keywordDir   = "keyword.bleve"
)

// Manifest describes a persisted index. It is written last, so an index directory
// with a manifest is complete.
type Manifest struct {
	FormatVersion  int       `yaml:"format_version"`
	EmbeddingModel string    `yaml:"embedding_model"`
	Dimensions     int       `yaml:"dimensions"`
	Records        int       `yaml:"records"`
	Fingerprint    string    `yaml:"fingerprint,omitempty"`
	CreatedAt      time.Time `yaml:"created_at"`
}

func writeManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest of the index at dir. A missing or unreadable
// manifest, or one from another format version, is reported as ErrIncompatibleIndex.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrIncompatibleIndex, dir, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid manifest: %w", models.ErrIncompatibleIndex, dir, err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %s: format version %d, want %d",
			models.ErrIncompatibleIndex, dir, m.FormatVersion, FormatVersion)
	}
	return &m, nil
}

// compatible checks that an index built per m can be queried with an embedder named
// name producing vectors of dims dimensions. dims <= 0 means unknown.
func (m *Manifest) compatible(name string, dims int) error {
	if m.EmbeddingModel != name {
		return fmt.Errorf("%w: built with %q, embedder is %q",
			models.ErrIncompatibleIndex, m.EmbeddingModel, name)
	}
	if dims > 0 && m.Dimensions != dims {
		return fmt.Errorf("%w: built with %d dimensions, embedder has %d",
			models.ErrIncompatibleIndex, m.Dimensions, dims)
	}
	return nil
}
