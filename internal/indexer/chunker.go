// Package indexer discovers source files and splits them into ordered chunks.
package indexer

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// MetaStartIndex records the rune offset of a text chunk within its page.
const MetaStartIndex = "start_index"

// defaultSeparators are tried coarsest first. The empty separator splits into runes.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// TextSplitter splits free text recursively on a ranked list of separators.
// Separators stay attached to the end of the preceding piece, so the pieces of a
// segment always concatenate back to the segment.
type TextSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewTextSplitter creates a splitter with the given size and overlap (in runes).
// Non-positive size falls back to DefaultChunkSize; overlap is clamped below size.
func NewTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &TextSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// piece is a contiguous span of the input; start is its rune offset.
type piece struct {
	text  string
	start int
	size  int
}

func newPiece(text string, start int) piece {
	return piece{text: text, start: start, size: utf8.RuneCountInString(text)}
}

// splitText splits text into spans of at most chunkSize runes. Spans produced by one
// merge run overlap by up to chunkOverlap runes.
func (s *TextSplitter) splitText(text string) []piece {
	if text == "" {
		return nil
	}
	return s.split(newPiece(text, 0), s.separators)
}

// split breaks seg on the first separator it contains and recurses into pieces still
// longer than chunkSize with the finer separators. The list ends with "", which splits
// into single runes, so recursion always bottoms out in pieces that fit; a run with no
// coarser separator is cut at the rune level and re-merged with overlap.
func (s *TextSplitter) split(seg piece, separators []string) []piece {
	sep := ""
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(seg.text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var out, good []piece
	for _, p := range splitKeep(seg, sep) {
		if p.size <= s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		out = append(out, s.split(p, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// splitKeep splits seg on sep, keeping sep at the end of each piece but the last.
func splitKeep(seg piece, sep string) []piece {
	if sep == "" {
		pieces := make([]piece, 0, seg.size)
		offset := seg.start
		for _, r := range seg.text {
			pieces = append(pieces, piece{text: string(r), start: offset, size: 1})
			offset++
		}
		return pieces
	}
	parts := strings.SplitAfter(seg.text, sep)
	pieces := make([]piece, 0, len(parts))
	offset := seg.start
	for _, part := range parts {
		if part == "" {
			continue
		}
		p := newPiece(part, offset)
		pieces = append(pieces, p)
		offset += p.size
	}
	return pieces
}

// merge greedily packs consecutive pieces into spans of at most chunkSize runes,
// carrying up to chunkOverlap runes of trailing pieces into the next span.
func (s *TextSplitter) merge(pieces []piece) []piece {
	var out, window []piece
	total := 0
	for _, p := range pieces {
		if total+p.size > s.chunkSize && len(window) > 0 {
			out = append(out, join(window))
			for total > s.chunkOverlap || (total+p.size > s.chunkSize && total > 0) {
				total -= window[0].size
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.size
	}
	if len(window) > 0 {
		out = append(out, join(window))
	}
	return out
}

func join(window []piece) piece {
	var b strings.Builder
	size := 0
	for _, p := range window {
		b.WriteString(p.text)
		size += p.size
	}
	return piece{text: b.String(), start: window[0].start, size: size}
}

// SplitDocuments splits the pages of one source file into chunks. Sequence indexes
// run across pages, starting at zero. Whitespace-only spans are dropped.
func (s *TextSplitter) SplitDocuments(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, doc := range docs {
		for _, p := range s.splitText(doc.Text) {
			if strings.TrimSpace(p.text) == "" {
				continue
			}
			meta := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[MetaStartIndex] = strconv.Itoa(p.start)
			seq := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:            fileid.ChunkID(doc.Metadata[models.MetaSource], seq),
				Content:       p.text,
				Metadata:      meta,
				SequenceIndex: seq,
			})
		}
	}
	return chunks
}
