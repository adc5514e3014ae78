package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePages struct {
	pages []string
	err   error
}

func (f fakePages) Pages([]byte) ([]string, error) {
	return f.pages, f.err
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

func TestLoad_pdfOneDocumentPerPage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.pdf", []byte("%PDF-1.4"))
	pages := []string{
		strings.Repeat("a", 1000),
		strings.Repeat("b", 1000),
		strings.Repeat("c", 1000),
	}
	l := NewLoader(WithPageExtractor(fakePages{pages: pages}))

	docs, err := l.Load(path, models.KindPDF)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, doc := range docs {
		assert.Equal(t, pages[i], doc.Text)
		assert.Equal(t, path, doc.Metadata[models.MetaSource])
		assert.Equal(t, "pdf", doc.Metadata[models.MetaKind])
		assert.Equal(t, []string{"1", "2", "3"}[i], doc.Metadata[models.MetaPage])
	}
}

func TestLoad_pdfExtractorError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.pdf", []byte("garbage"))
	l := NewLoader(WithPageExtractor(fakePages{err: errors.New("boom")}))

	_, err := l.Load(path, models.KindPDF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf")
}

func TestLoad_pdfGenerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generated.pdf")

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 12)
	for _, text := range []string{"First page", "Second page", "Third page"} {
		doc.AddPage()
		doc.Cell(40, 10, text)
	}
	require.NoError(t, doc.OutputFileAndClose(path))

	docs, err := NewLoader().Load(path, models.KindPDF)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "3", docs[2].Metadata[models.MetaPage])
}

func TestLoad_json(t *testing.T) {
	dir := t.TempDir()
	raw := []byte(`{"a":{"b":"x"}}`)
	path := writeFile(t, dir, "data.json", raw)

	docs, err := NewLoader().Load(path, models.KindJSON)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, raw, docs[0].Raw)
	assert.Equal(t, "json", docs[0].Metadata[models.MetaKind])
}

func TestLoad_invalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", []byte(`{"a":`))

	_, err := NewLoader().Load(path, models.KindJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoad_unsupportedKind(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("hello"))

	_, err := NewLoader().Load(path, models.SourceKind("txt"))
	require.ErrorIs(t, err, models.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "txt")
}

func TestLoad_missingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.json"), models.KindJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNormalizePageText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"trailing spaces", "a  \nb\t", "a\nb"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"invalid utf8", "hello\x80world", "hello�world"},
		{"unchanged", "one. two\n\nthree", "one. two\n\nthree"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePageText(tt.in))
		})
	}
}
