// Package cli provides output helpers for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewLen is the number of runes of chunk content shown in text output.
const previewLen = 200

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResults writes retrieved chunks to w in the given format.
// Unknown formats are written as text.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d chunks in %dms\n\n", len(response.Results), response.QueryTime)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

// WriteAnswer writes a generated answer followed by its sources.
func WriteAnswer(w io.Writer, response *models.AnswerResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "%s\n", strings.TrimRight(response.Answer, "\n"))
	if len(response.Sources) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n--- Sources (%d, %dms) ---\n", len(response.Sources), response.QueryTime)
	for _, result := range response.Sources {
		fmt.Fprintf(w, "[%d] %s\n", result.Rank, sourceLabel(result.Chunk))
	}
	return nil
}

// WriteIngest writes the outcome of an ingestion run.
func WriteIngest(w io.Writer, response *models.IngestResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	action := "Loaded"
	if response.Built {
		action = "Built"
	}
	fmt.Fprintf(w, "%s index %s with %d records from %s in %dms\n",
		action, response.IndexPath, response.Records, response.DataDirectory, response.DurationMs)
	for _, name := range response.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", name)
	}
	return nil
}

// WriteStatus writes index status.
func WriteStatus(w io.Writer, status *models.IndexStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "index_path:         %s\n", status.IndexPath)
	if status.EmbeddingModel == "" {
		fmt.Fprintln(w, "records:            0   # index not built")
	} else {
		fmt.Fprintf(w, "records:            %d   # count of embedded chunks\n", status.Records)
		fmt.Fprintf(w, "embedding_model:    %s\n", status.EmbeddingModel)
		fmt.Fprintf(w, "dimensions:         %d\n", status.Dimensions)
		fmt.Fprintf(w, "created_at:         %s\n", status.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if status.Fingerprint != "" {
		fmt.Fprintf(w, "fingerprint:        %s\n", utils.Truncate(status.Fingerprint, 12))
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # index files on disk\n", *status.DiskUsageBytes)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.RetrievedChunk) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Semantic: %.4f, Keyword: %.4f)\n",
		result.Rank, result.Score, result.SemanticScore, result.KeywordScore)
	fmt.Fprintf(w, "Source: %s\n", sourceLabel(result.Chunk))
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(utils.CollapseWhitespace(result.Chunk.Content), previewLen))
	fmt.Fprintln(w)
}

// sourceLabel names where a chunk came from: the file plus its page or JSON path.
func sourceLabel(c models.Chunk) string {
	label := c.Source()
	if page, ok := c.Metadata[models.MetaPage]; ok {
		return fmt.Sprintf("%s (page %s)", label, page)
	}
	if path, ok := c.Metadata[models.MetaJSONPath]; ok {
		return fmt.Sprintf("%s (%s)", label, path)
	}
	return label
}
