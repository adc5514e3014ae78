package indexer

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		existing, exists := dst[k].(map[string]any)
		if ok && exists {
			deepMerge(existing, sub)
			continue
		}
		dst[k] = v
	}
}

func mergeChunks(t *testing.T, chunks []models.Chunk) map[string]any {
	t.Helper()
	merged := map[string]any{}
	for _, ch := range chunks {
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(ch.Content), &obj), "chunk %d", ch.SequenceIndex)
		deepMerge(merged, obj)
	}
	return merged
}

func sampleJSON() []byte {
	var b strings.Builder
	b.WriteString(`{"title":"Handbook","version":3,"sections":{`)
	for i := 0; i < 12; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `"s%02d":{"heading":"Section %d","body":"%s","tags":["t%d","u%d"]}`,
			i, i, strings.Repeat("lorem ipsum ", i+1), i, i)
	}
	b.WriteString(`},"empty":{},"flag":true,"nothing":null}`)
	return []byte(b.String())
}

func TestJSONSplitter_oversizedLeaf(t *testing.T) {
	raw := []byte(`{"a": {"b": "` + strings.Repeat("x", 5000) + `"}}`)
	s := NewJSONSplitter(1000, false)

	chunks, err := s.Split(raw, "/data/big.json")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Oversized())
	assert.Equal(t, "a.b", chunks[0].Metadata[models.MetaJSONPath])
	assert.Equal(t, "json", chunks[0].Metadata[models.MetaKind])
	assert.Equal(t, `{"a":{"b":"`+strings.Repeat("x", 5000)+`"}}`, chunks[0].Content)
}

func TestJSONSplitter_fitsWhole(t *testing.T) {
	raw := []byte(`{ "a": {"x": "1", "y": "2"},
	  "b": "3" }`)
	chunks, err := NewJSONSplitter(1000, false).Split(raw, "/data/small.json")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, `{"a":{"x":"1","y":"2"},"b":"3"}`, chunks[0].Content)
	assert.Equal(t, "$", chunks[0].Metadata[models.MetaJSONPath])
	assert.False(t, chunks[0].Oversized())
}

func TestJSONSplitter_noLossAndSizeBound(t *testing.T) {
	raw := sampleJSON()
	var original map[string]any
	require.NoError(t, json.Unmarshal(raw, &original))

	for _, max := range []int{60, 120, 300} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			chunks, err := NewJSONSplitter(max, false).Split(raw, "/data/handbook.json")
			require.NoError(t, err)
			require.NotEmpty(t, chunks)
			for i, ch := range chunks {
				assert.Equal(t, i, ch.SequenceIndex)
				assert.NotEmpty(t, ch.Metadata[models.MetaJSONPath])
				if !ch.Oversized() {
					assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), max, "chunk %d", i)
				}
			}
			assert.Equal(t, original, mergeChunks(t, chunks))
		})
	}
}

func TestJSONSplitter_deterministic(t *testing.T) {
	raw := sampleJSON()
	s := NewJSONSplitter(120, false)
	first, err := s.Split(raw, "/data/handbook.json")
	require.NoError(t, err)
	second, err := s.Split(raw, "/data/handbook.json")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJSONSplitter_convertLists(t *testing.T) {
	raw := []byte(`{"items":["aaaaaaaaaa","bbbbbbbbbb","cccccccccc"]}`)

	atomic, err := NewJSONSplitter(30, false).Split(raw, "/d/list.json")
	require.NoError(t, err)
	require.Len(t, atomic, 1)
	assert.True(t, atomic[0].Oversized())
	assert.Equal(t, "items", atomic[0].Metadata[models.MetaJSONPath])

	converted, err := NewJSONSplitter(30, true).Split(raw, "/d/list.json")
	require.NoError(t, err)
	require.Len(t, converted, 3)
	for i, ch := range converted {
		assert.False(t, ch.Oversized())
		assert.Equal(t, fmt.Sprintf("items.%d", i), ch.Metadata[models.MetaJSONPath])
	}
	assert.Equal(t, `{"items":{"0":"aaaaaaaaaa"}}`, converted[0].Content)
	assert.Equal(t, map[string]any{
		"items": map[string]any{"0": "aaaaaaaaaa", "1": "bbbbbbbbbb", "2": "cccccccccc"},
	}, mergeChunks(t, converted))
}

func TestJSONSplitter_nonObjectRoot(t *testing.T) {
	chunks, err := NewJSONSplitter(100, false).Split([]byte(` [1, 2, 3] `), "/d/arr.json")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "[1,2,3]", chunks[0].Content)
	assert.Equal(t, "$", chunks[0].Metadata[models.MetaJSONPath])
}

func TestJSONSplitter_emptyObject(t *testing.T) {
	chunks, err := NewJSONSplitter(100, false).Split([]byte(`{}`), "/d/empty.json")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestJSONSplitter_invalid(t *testing.T) {
	_, err := NewJSONSplitter(100, false).Split([]byte(`{"a":`), "/d/bad.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/d/bad.json")
}

func TestCommonPath(t *testing.T) {
	tests := []struct {
		paths [][]string
		want  string
	}{
		{nil, "$"},
		{[][]string{{"a", "b"}}, "a.b"},
		{[][]string{{"a", "b"}, {"a", "c"}}, "a"},
		{[][]string{{"a"}, {"b"}}, "$"},
		{[][]string{{"a", "b", "c"}, {"a", "b"}}, "a.b"},
		{[][]string{{"a.b"}}, `["a.b"]`},
		{[][]string{{"a", "b.c", "d"}}, `a["b.c"].d`},
		{[][]string{{"", "x"}}, `[""].x`},
		{[][]string{{"$"}}, `["$"]`},
		{[][]string{{`say "hi"`}}, `["say \"hi\""]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, commonPath(tt.paths))
	}
}

func TestJSONSplitter_dottedKeysStayDistinct(t *testing.T) {
	s := NewJSONSplitter(20, false)
	dotted, err := s.Split([]byte(`{"a.b":"`+strings.Repeat("x", 40)+`"}`), "/data/dotted.json")
	require.NoError(t, err)
	nested, err := s.Split([]byte(`{"a":{"b":"`+strings.Repeat("x", 40)+`"}}`), "/data/nested.json")
	require.NoError(t, err)

	require.Len(t, dotted, 1)
	require.Len(t, nested, 1)
	assert.Equal(t, `["a.b"]`, dotted[0].Metadata[models.MetaJSONPath])
	assert.Equal(t, "a.b", nested[0].Metadata[models.MetaJSONPath])
}
