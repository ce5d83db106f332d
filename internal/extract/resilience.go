package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"docpipe/internal/common"
)

// Options controls the resilience behavior around the extraction strategies.
type Options struct {
	MaxFileSizeMB int
	OCREnabled    bool
	WordThreshold int // pages below this word count are escalated to OCR
	OCRAttempts   int
	OCRRetryDelay time.Duration
}

// Extractor produces a best-effort result for one document: primary strategy
// with per-page isolation, full fallback when the primary cannot open the
// document, and per-page OCR escalation for low-density pages.
type Extractor struct {
	primary  PageSource
	fallback PageSource
	ocr      OCREngine
	opts     Options
	logger   *slog.Logger
}

func NewExtractor(primary, fallback PageSource, ocr OCREngine, opts Options, logger *slog.Logger) *Extractor {
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = 100
	}
	if opts.WordThreshold <= 0 {
		opts.WordThreshold = 50
	}
	if opts.OCRAttempts < 1 {
		opts.OCRAttempts = 2
	}
	if opts.OCRRetryDelay <= 0 {
		opts.OCRRetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{primary: primary, fallback: fallback, ocr: ocr, opts: opts, logger: logger}
}

// Process extracts all pages from the document at path. It fails hard only
// when the input is invalid, both strategies fail, or nothing was extracted.
func (e *Extractor) Process(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	if err := e.validate(path); err != nil {
		return nil, err
	}

	res := &Result{Method: "pdf-text"}
	pages, err := e.primary.ExtractPages(ctx, path)
	if err != nil {
		if common.HasCode(err, common.CodeTimeout) {
			return nil, err
		}
		e.logger.Warn("primary extraction failed, falling back", "path", path, "error", err)
		res.Method = "pdf-fallback"
		res.Warnings = append(res.Warnings, fmt.Sprintf("primary extraction failed: %v", err))
		pages, err = e.fallback.ExtractPages(ctx, path)
		if err != nil {
			return nil, common.CriticalError(
				fmt.Sprintf("both extraction strategies failed for %s", path), err)
		}
	}

	for i := range pages {
		if cerr := ctx.Err(); cerr != nil {
			return nil, common.TimeoutError("extraction interrupted", cerr)
		}
		e.escalatePage(ctx, path, &pages[i])
	}

	if len(pages) == 0 {
		return nil, common.ExtractionError(fmt.Sprintf("no pages extracted from %s", path), nil)
	}

	res.Pages = pages
	for _, p := range pages {
		if p.OCRApplied {
			res.OCRPages++
		}
	}
	res.Duration = time.Since(start)
	e.logger.Info("document extracted",
		"path", path,
		"method", res.Method,
		"pages", len(pages),
		"ocr_pages", res.OCRPages,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Extractor) validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return common.FileSystemError(fmt.Sprintf("input file not found: %s", path), err)
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB > float64(e.opts.MaxFileSizeMB) {
		return common.ValidationError(
			fmt.Sprintf("file size %.1fMB exceeds limit %dMB: %s", sizeMB, e.opts.MaxFileSizeMB, path), nil)
	}
	return nil
}

// escalatePage runs OCR on a single low-density page. The page keeps its
// original text whenever OCR fails or yields no improvement; a page-level
// problem never escalates past the document boundary.
func (e *Extractor) escalatePage(ctx context.Context, path string, page *Page) {
	if !e.opts.OCREnabled || e.ocr == nil {
		return
	}
	originalWords := page.WordCount()
	if originalWords >= e.opts.WordThreshold {
		return
	}

	var ocrText string
	policy := common.RetryPolicy{
		MaxAttempts: e.opts.OCRAttempts,
		Delay:       e.opts.OCRRetryDelay,
		ShouldRetry: func(err error) bool { return common.HasCode(err, common.CodeOCR) },
	}
	err := common.Retry(ctx, policy, e.logger, fmt.Sprintf("ocr page %d", page.Number), func() error {
		text, rerr := e.ocr.RecognizePage(ctx, path, page.Number)
		if rerr != nil {
			return rerr
		}
		ocrText = text
		return nil
	})
	if err != nil {
		e.logger.Warn("ocr escalation failed, keeping original text",
			"path", path, "page", page.Number, "error", err)
		return
	}

	if countWords(ocrText) > originalWords {
		page.Text = ocrText
		page.OCRApplied = true
		e.logger.Debug("ocr improved page", "path", path, "page", page.Number)
	}
}
