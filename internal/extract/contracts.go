package extract

import (
	"context"
	"time"
)

// Page is one page's extracted content.
type Page struct {
	Number     int    `json:"page_number"`
	Text       string `json:"text"`
	OCRApplied bool   `json:"ocr_applied"`
}

// WordCount counts whitespace-separated words on the page.
func (p Page) WordCount() int {
	return countWords(p.Text)
}

// Result is the outcome of extracting one document.
type Result struct {
	Pages    []Page        `json:"pages"`
	Method   string        `json:"method"` // "pdf-text" | "pdf-fallback"
	OCRPages int           `json:"ocr_pages"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`
}

// PageCount returns the number of extracted pages.
func (r *Result) PageCount() int {
	return len(r.Pages)
}

// PageSource extracts per-page text from a document.
// Implementations must return pages in document order. A page that cannot
// be read is included with empty text rather than aborting the document;
// an error means the document itself could not be opened.
type PageSource interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// OCREngine re-extracts a single page via optical character recognition.
type OCREngine interface {
	RecognizePage(ctx context.Context, path string, pageNumber int) (string, error)
}
