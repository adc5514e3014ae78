package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/tidwall/gjson"
)

// rootPath is the json_path of a chunk whose entries share no common prefix.
const rootPath = "$"

// JSONSplitter splits a JSON document into chunks of nested objects whose compact
// serialization stays within maxChunkSize runes. Merging every chunk's object
// reconstructs the original document.
type JSONSplitter struct {
	maxChunkSize int
	convertLists bool
}

// NewJSONSplitter creates a structure-aware splitter. When convertLists is true,
// arrays are descended as objects keyed by element index instead of kept whole.
func NewJSONSplitter(maxChunkSize int, convertLists bool) *JSONSplitter {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	return &JSONSplitter{maxChunkSize: maxChunkSize, convertLists: convertLists}
}

// jsonObject is an insertion-ordered JSON object under construction.
type jsonObject struct {
	entries []jsonEntry
}

// jsonEntry holds either a nested object or a compact raw value.
type jsonEntry struct {
	key string
	obj *jsonObject
	raw string
}

func (o *jsonObject) clone() *jsonObject {
	c := &jsonObject{entries: make([]jsonEntry, len(o.entries))}
	for i, e := range o.entries {
		c.entries[i] = e
		if e.obj != nil {
			c.entries[i].obj = e.obj.clone()
		}
	}
	return c
}

// set stores raw at path, reusing the trailing nested object for a shared prefix.
// Entries arrive in document order, so a shared prefix is always the last entry.
func (o *jsonObject) set(path []string, raw string) {
	cur := o
	for _, key := range path[:len(path)-1] {
		n := len(cur.entries)
		if n > 0 && cur.entries[n-1].key == key && cur.entries[n-1].obj != nil {
			cur = cur.entries[n-1].obj
			continue
		}
		child := &jsonObject{}
		cur.entries = append(cur.entries, jsonEntry{key: key, obj: child})
		cur = child
	}
	cur.entries = append(cur.entries, jsonEntry{key: path[len(path)-1], raw: raw})
}

func (o *jsonObject) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, e := range o.entries {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(e.key)
		b.Write(key)
		b.WriteByte(':')
		if e.obj != nil {
			e.obj.write(b)
		} else {
			b.WriteString(e.raw)
		}
	}
	b.WriteByte('}')
}

func (o *jsonObject) String() string {
	var b strings.Builder
	o.write(&b)
	return b.String()
}

// jsonChunk accumulates entries until it is full.
type jsonChunk struct {
	obj       *jsonObject
	paths     [][]string
	oversized bool
}

func newJSONChunk() *jsonChunk {
	return &jsonChunk{obj: &jsonObject{}}
}

func (c *jsonChunk) empty() bool {
	return len(c.paths) == 0
}

type jsonSplitRun struct {
	s      *JSONSplitter
	chunks []*jsonChunk
}

func (r *jsonSplitRun) current() *jsonChunk {
	return r.chunks[len(r.chunks)-1]
}

func (r *jsonSplitRun) startChunk() {
	if !r.current().empty() {
		r.chunks = append(r.chunks, newJSONChunk())
	}
}

// Split splits raw JSON from source into ordered chunks.
func (s *JSONSplitter) Split(raw []byte, source string) ([]models.Chunk, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("parse %s: invalid JSON", source)
	}
	root := gjson.ParseBytes(raw)
	run := &jsonSplitRun{s: s, chunks: []*jsonChunk{newJSONChunk()}}

	var contents []string
	var paths []string
	var oversized []bool
	if s.descends(root) {
		if err := run.walk(root, nil); err != nil {
			return nil, fmt.Errorf("split %s: %w", source, err)
		}
		for _, c := range run.chunks {
			if c.empty() {
				continue
			}
			contents = append(contents, c.obj.String())
			paths = append(paths, commonPath(c.paths))
			oversized = append(oversized, c.oversized)
		}
	} else {
		value, err := compact(root.Raw)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", source, err)
		}
		contents = append(contents, value)
		paths = append(paths, rootPath)
		oversized = append(oversized, utf8.RuneCountInString(value) > s.maxChunkSize)
	}

	chunks := make([]models.Chunk, 0, len(contents))
	for i, content := range contents {
		meta := map[string]string{
			models.MetaSource:   source,
			models.MetaKind:     string(models.KindJSON),
			models.MetaJSONPath: paths[i],
		}
		if oversized[i] {
			meta[models.MetaAtomicOversized] = "true"
		}
		chunks = append(chunks, models.Chunk{
			ID:            fileid.ChunkID(source, i),
			Content:       content,
			Metadata:      meta,
			SequenceIndex: i,
		})
	}
	return chunks, nil
}

// descends reports whether v is a non-empty container the splitter walks into.
func (s *JSONSplitter) descends(v gjson.Result) bool {
	if v.IsObject() {
		return len(v.Map()) > 0
	}
	if v.IsArray() && s.convertLists {
		return len(v.Array()) > 0
	}
	return false
}

func (r *jsonSplitRun) walk(v gjson.Result, path []string) error {
	var err error
	index := 0
	v.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if v.IsArray() {
			name = strconv.Itoa(index)
		}
		index++
		childPath := append(append(make([]string, 0, len(path)+1), path...), name)
		err = r.add(value, childPath)
		return err == nil
	})
	return err
}

func (r *jsonSplitRun) add(value gjson.Result, path []string) error {
	raw, err := compact(value.Raw)
	if err != nil {
		return err
	}
	cur := r.current()
	if !cur.oversized && r.fits(cur, path, raw) {
		cur.obj.set(path, raw)
		cur.paths = append(cur.paths, path)
		return nil
	}

	r.startChunk()
	if r.s.descends(value) {
		return r.walk(value, path)
	}

	cur = r.current()
	cur.obj.set(path, raw)
	cur.paths = append(cur.paths, path)
	if utf8.RuneCountInString(cur.obj.String()) > r.s.maxChunkSize {
		cur.oversized = true
		r.startChunk()
	}
	return nil
}

// fits reports whether adding raw at path keeps c within the size limit.
func (r *jsonSplitRun) fits(c *jsonChunk, path []string, raw string) bool {
	candidate := c.obj.clone()
	candidate.set(path, raw)
	return utf8.RuneCountInString(candidate.String()) <= r.s.maxChunkSize
}

func compact(raw string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// commonPath returns the longest common prefix of paths rendered by formatPath, or "$"
// when there is none.
func commonPath(paths [][]string) string {
	if len(paths) == 0 {
		return rootPath
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		n := 0
		for n < len(prefix) && n < len(p) && prefix[n] == p[n] {
			n++
		}
		prefix = prefix[:n]
	}
	if len(prefix) == 0 {
		return rootPath
	}
	return formatPath(prefix)
}

// formatPath joins keys with dots. A key that is empty, is "$", or contains a dot,
// bracket, quote or backslash is written as ["key"] with Go string quoting, so
// {"a.b":1} gives ["a.b"] while {"a":{"b":1}} gives a.b.
func formatPath(keys []string) string {
	var b strings.Builder
	for i, k := range keys {
		if k == "" || k == rootPath || strings.ContainsAny(k, ".[]\"\\") {
			b.WriteByte('[')
			b.WriteString(strconv.Quote(k))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(k)
	}
	return b.String()
}
