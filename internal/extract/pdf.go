package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageExtractor returns the plain text of every page of a PDF, in page order.
type PageExtractor interface {
	Pages(content []byte) ([]string, error)
}

// PDFPageExtractor extracts page text with github.com/ledongthuc/pdf.
type PDFPageExtractor struct{}

// Pages implements PageExtractor. Pages without content yield an empty string so
// page numbering is preserved.
func (PDFPageExtractor) Pages(content []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
