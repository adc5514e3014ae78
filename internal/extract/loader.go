// Package extract loads PDF and JSON source files into documents.
package extract

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Loader reads source files into documents. PDFs yield one document per page;
// JSON files yield a single document carrying the validated raw bytes.
type Loader struct {
	pages  PageExtractor
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		ld.logger = utils.OrNop(l)
	}
}

// WithPageExtractor replaces the default PDF page extractor.
func WithPageExtractor(p PageExtractor) Option {
	return func(ld *Loader) {
		if p != nil {
			ld.pages = p
		}
	}
}

// NewLoader returns a Loader using the ledongthuc/pdf page extractor by default.
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{
		pages:  PDFPageExtractor{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load reads the file at path according to kind.
// Returns ErrUnsupportedFormat for any kind other than pdf or json.
func (l *Loader) Load(path string, kind models.SourceKind) ([]models.Document, error) {
	switch kind {
	case models.KindPDF, models.KindJSON:
	default:
		return nil, fmt.Errorf("%w: %q (%s)", models.ErrUnsupportedFormat, kind, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	if kind == models.KindJSON {
		doc, err := loadJSON(content, path)
		if err != nil {
			return nil, err
		}
		return []models.Document{doc}, nil
	}

	pages, err := l.pages.Pages(content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	docs := make([]models.Document, 0, len(pages))
	for i, text := range pages {
		docs = append(docs, models.Document{
			Text: NormalizePageText(text),
			Metadata: map[string]string{
				models.MetaSource: path,
				models.MetaKind:   string(models.KindPDF),
				models.MetaPage:   strconv.Itoa(i + 1),
			},
		})
	}
	l.logger.Debug("Loaded PDF",
		zap.String("path", path),
		zap.Int("pages", len(docs)))
	return docs, nil
}
