// Package config provides configuration loading and structs for kotae.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the location of the persisted vector index.
type StorageConfig struct {
	IndexPath string `yaml:"index_path"`
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	// Provider is one of "ollama", "onnx" or "mock".
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
	// ModelPath and MaxTokens apply to the onnx provider only.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GenerationConfig selects and configures the generation model.
type GenerationConfig struct {
	// Provider is one of "ollama" or "echo".
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// IngestConfig holds discovery and chunking settings.
type IngestConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	ConvertJSONLists bool   `yaml:"convert_json_lists"`
	Workers          int    `yaml:"workers"`
}

// Rebuild policies for an existing index.
const (
	RebuildNever    = "never"
	RebuildOnChange = "on_change"
)

// IndexConfig holds index lifecycle settings.
type IndexConfig struct {
	RebuildPolicy string `yaml:"rebuild_policy"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// KeywordWeight in [0,1] blends BM25 scores into the ranking; 0 is pure similarity.
	KeywordWeight float64 `yaml:"keyword_weight"`
	// KeywordFuzziness is the edit distance allowed per query term in keyword search (0-2).
	KeywordFuzziness int `yaml:"keyword_fuzziness"`
}

// PromptConfig holds the answer prompt template.
type PromptConfig struct {
	Template string `yaml:"template"`
}

// WatchConfig holds data directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// Environment variables that override file settings.
const (
	EnvDataDir   = "KOTAE_DATA_DIR"
	EnvIndexPath = "KOTAE_INDEX_PATH"
	EnvOllamaURL = "KOTAE_OLLAMA_URL"
	EnvDebug     = "KOTAE_DEBUG"
)

// Load reads and parses the config file at path, applies environment overrides and
// defaults, and expands paths. A .env file next to the config is loaded first if present.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Ingest.DataDirectory = expandPath(cfg.Ingest.DataDirectory, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	return &cfg, nil
}

// Default returns a config with defaults and environment overrides applied, for
// running without a config file. Relative paths resolve against the working directory.
func Default() *Config {
	var cfg Config
	_ = loadDotEnv(".env")
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg
}

// loadDotEnv loads path into the environment without overriding variables already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with values from KOTAE_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Ingest.DataDirectory = v
	}
	if v := os.Getenv(EnvIndexPath); v != "" {
		cfg.Storage.IndexPath = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.Embedding.BaseURL = v
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ingest.DataDirectory) == "" {
		return fmt.Errorf("ingest.data_directory is required")
	}
	if strings.TrimSpace(c.Prompt.Template) == "" {
		return fmt.Errorf("prompt.template is required")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be less than chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Index.RebuildPolicy {
	case RebuildNever, RebuildOnChange:
	default:
		return fmt.Errorf("index.rebuild_policy must be %q or %q, got %q",
			RebuildNever, RebuildOnChange, c.Index.RebuildPolicy)
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.KeywordWeight > 1 {
		return fmt.Errorf("retrieval.keyword_weight must be in [0,1], got %g", c.Retrieval.KeywordWeight)
	}
	if c.Retrieval.KeywordFuzziness < 0 || c.Retrieval.KeywordFuzziness > 2 {
		return fmt.Errorf("retrieval.keyword_fuzziness must be 0, 1 or 2, got %d", c.Retrieval.KeywordFuzziness)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Relative paths are relative to configDir;
// paths starting with "~/" are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
