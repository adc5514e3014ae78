// Package models defines core data structures for sources, documents, chunks, and answers.
package models

import (
	"path/filepath"
	"strings"
)

// SourceKind is the type of an ingestible source file.
type SourceKind string

const (
	// KindPDF is a PDF file; it is loaded one Document per page.
	KindPDF SourceKind = "pdf"
	// KindJSON is a JSON file; it is split structure-aware.
	KindJSON SourceKind = "json"
)

// Metadata keys set on documents and chunks.
const (
	MetaSource          = "source"
	MetaKind            = "kind"
	MetaPage            = "page"
	MetaJSONPath        = "json_path"
	MetaAtomicOversized = "atomic_oversized"
)

// KindForPath classifies a file by its extension (case-insensitive).
// The second return value is false for extensions that are not ingested.
func KindForPath(path string) (SourceKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, true
	case ".json":
		return KindJSON, true
	default:
		return "", false
	}
}

// SourceFile is a file discovered in the data directory.
type SourceFile struct {
	Path string     `json:"path"`
	Kind SourceKind `json:"kind"`
}

// Document is the normalized in-memory form of (part of) a source file.
// PDF pages carry their text in Text; JSON documents carry the file bytes in Raw.
type Document struct {
	Text     string            `json:"text"`
	Raw      []byte            `json:"-"`
	Metadata map[string]string `json:"metadata"`
}

// Chunk is a bounded-size unit of source text prepared for embedding.
// SequenceIndex is the position of the chunk within its source file.
type Chunk struct {
	ID            string            `json:"id"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SequenceIndex int               `json:"sequence_index"`
}

// Oversized reports whether the chunk is an atomic unit that exceeds the size limit.
func (c *Chunk) Oversized() bool {
	return c.Metadata[MetaAtomicOversized] == "true"
}

// Source returns the source path recorded in the chunk metadata.
func (c *Chunk) Source() string {
	return c.Metadata[MetaSource]
}

// VectorRecord pairs a chunk with its embedding. Records are created once at build time.
type VectorRecord struct {
	Vector []float32 `json:"-"`
	Chunk  Chunk     `json:"chunk"`
}
