package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kotae/internal/models"
)

const batchSize = 500

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries match exact words.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("json_path", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates a Bleve index at path, or opens it if it already exists.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// OpenBleveIndexReadOnly opens an existing index without taking the writer lock, so
// several processes can query the same persisted index.
func OpenBleveIndexReadOnly(path string) (*BleveIndex, error) {
	index, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// sourceTerms returns the file name of a chunk's source with separators as spaces,
// so "employee_handbook-2024.pdf" is searchable as "employee handbook 2024".
func sourceTerms(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
}

// IndexChunks indexes chunks in batches, keyed by chunk ID.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []models.Chunk) error {
	batch := b.index.NewBatch()
	for _, ch := range chunks {
		doc := map[string]interface{}{
			"content":   ch.Content,
			"source":    sourceTerms(ch.Source()),
			"kind":      ch.Metadata[models.MetaKind],
			"json_path": ch.Metadata[models.MetaJSONPath],
		}
		if err := batch.Index(ch.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", ch.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to write Bleve batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to write Bleve batch: %w", err)
		}
	}
	return nil
}

// Search runs a match query over content and source and returns up to limit results.
// When opts.SourceBoost > 1, source matches are weighted by it; when opts.Fuzziness > 0,
// each term matches within that edit distance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	sourceBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.SourceBoost > 0 {
			sourceBoost = opts.SourceBoost
		}
		fuzziness = opts.Fuzziness
	}

	contentQuery := b.fieldQuery(query, "content", fuzziness, 1.0)
	sourceQuery := b.fieldQuery(query, "source", fuzziness, sourceBoost)
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(contentQuery, sourceQuery))
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// fieldQuery builds a match query on field, or a disjunction of fuzzy term queries
// when fuzziness > 0.
func (b *BleveIndex) fieldQuery(queryStr, field string, fuzziness int, boost float64) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
