package config

// DefaultTemplate is the prompt used when none is configured.
const DefaultTemplate = `Answer the question using only the context below. If the context does not contain the answer, say so.

Context:
{context}

Question: {question}
`

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "./kotae.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "mxbai-embed-large"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 60
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gemma3"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 300
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Index.RebuildPolicy == "" {
		cfg.Index.RebuildPolicy = RebuildNever
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Prompt.Template == "" {
		cfg.Prompt.Template = DefaultTemplate
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 2000
	}
}
