package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"

	"docpipe/internal/common"
)

// PDFSource is the primary extraction strategy: in-process per-page text
// via the pdf reader. A page that fails to decode yields an empty page so
// the caller can escalate it to OCR instead of losing the document.
type PDFSource struct {
	logger *slog.Logger
}

func NewPDFSource(logger *slog.Logger) *PDFSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFSource{logger: logger}
}

func (s *PDFSource) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, common.ExtractionError(fmt.Sprintf("open pdf %s", path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("closing pdf", "path", path, "error", cerr)
		}
	}()

	total := r.NumPage()
	pages := make([]Page, 0, total)
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return pages, common.TimeoutError("pdf extraction interrupted", err)
		}
		page := Page{Number: num}
		p := r.Page(num)
		if p.V.IsNull() {
			s.logger.Warn("null pdf page, keeping placeholder", "path", path, "page", num)
			pages = append(pages, page)
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Page-level failure: log and keep an empty page.
			s.logger.Warn("page text extraction failed", "path", path, "page", num, "error", err)
			pages = append(pages, page)
			continue
		}
		page.Text = text
		pages = append(pages, page)
	}
	return pages, nil
}
