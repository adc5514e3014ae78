package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      *QueryRequest
		wantErr  bool
		wantTopK int
	}{
		{"empty question", &QueryRequest{Question: ""}, true, 0},
		{"sets default top_k", &QueryRequest{Question: "x"}, false, DefaultTopK},
		{"keeps explicit top_k", &QueryRequest{Question: "x", TopK: 3}, false, 3},
		{"caps top_k", &QueryRequest{Question: "x", TopK: 500}, false, maxTopK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.req.TopK, tt.wantTopK)
			}
		})
	}
}

func TestKindForPath(t *testing.T) {
	tests := []struct {
		path   string
		want   SourceKind
		wantOK bool
	}{
		{"a.pdf", KindPDF, true},
		{"dir/B.PDF", KindPDF, true},
		{"data.json", KindJSON, true},
		{"notes.txt", "", false},
		{"json", "", false},
		{"archive.json.gz", "", false},
	}
	for _, tt := range tests {
		got, ok := KindForPath(tt.path)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("KindForPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("build %s: %w", "/tmp/x", ErrIndexBuildInProgress)) {
		t.Error("wrapped ErrIndexBuildInProgress should be transient")
	}
	if IsTransient(ErrEmptyChunkSet) {
		t.Error("ErrEmptyChunkSet should not be transient")
	}
	if IsTransient(errors.New("other")) {
		t.Error("unrelated error should not be transient")
	}
}

func TestChunk_Oversized(t *testing.T) {
	c := Chunk{Metadata: map[string]string{MetaAtomicOversized: "true", MetaSource: "/d/a.json"}}
	if !c.Oversized() {
		t.Error("expected oversized")
	}
	if c.Source() != "/d/a.json" {
		t.Errorf("Source() = %q", c.Source())
	}
	var plain Chunk
	if plain.Oversized() {
		t.Error("chunk without metadata should not be oversized")
	}
}
