package search

import (
	"sort"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// FusedResult is one candidate after blending; Score is what it is ranked by.
type FusedResult struct {
	ID            string
	Position      int
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores maps each hit ID to its score divided by the best score.
// When no hit scores above zero every value is 0.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	best := 0.0
	for _, r := range results {
		best = max(best, r.Score)
	}
	normalized := make(map[string]float64, len(results))
	for _, r := range results {
		if best > 0 {
			normalized[r.ID] = r.Score / best
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse blends semantic results with normalized keyword scores as
// (1-keywordWeight)*semantic + keywordWeight*keyword. Keyword hits missing from
// semantic are ignored, so semantic must cover every candidate. Results are sorted by
// score, equal scores by position.
func Fuse(semantic []*vector.VectorResult, keywordScores map[string]float64, keywordWeight float64) []*FusedResult {
	results := make([]*FusedResult, 0, len(semantic))
	for _, r := range semantic {
		kw := keywordScores[r.ID]
		results = append(results, &FusedResult{
			ID:            r.ID,
			Position:      r.Position,
			SemanticScore: r.Score,
			KeywordScore:  kw,
			Score:         (1-keywordWeight)*r.Score + keywordWeight*kw,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	return results
}
