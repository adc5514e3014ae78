package models

import "time"

// RetrievedChunk is a single retrieval hit, best match first.
type RetrievedChunk struct {
	Chunk         Chunk   `json:"chunk"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	Rank          int     `json:"rank"`
}

// RetrieveResponse is the response for a retrieve request.
type RetrieveResponse struct {
	Question  string            `json:"question"`
	Results   []*RetrievedChunk `json:"results"`
	QueryTime int64             `json:"query_time_ms"`
}

// AnswerResponse is the response for an ask request.
type AnswerResponse struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Sources   []*RetrievedChunk `json:"sources"`
	QueryTime int64             `json:"query_time_ms"`
}

// IngestResponse reports the outcome of an ingestion run.
type IngestResponse struct {
	DataDirectory string   `json:"data_directory"`
	IndexPath     string   `json:"index_path"`
	Records       int      `json:"records"`
	Built         bool     `json:"built"`
	Skipped       []string `json:"skipped,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
}

// IndexStatus describes the live index.
type IndexStatus struct {
	IndexPath      string    `json:"index_path"`
	Records        int       `json:"records"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	DiskUsageBytes *int64    `json:"disk_usage_bytes,omitempty"`
}
