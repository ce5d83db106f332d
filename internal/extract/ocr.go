package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docpipe/internal/common"
)

// TesseractEngine renders a single PDF page to an image and runs tesseract
// on it. Failures are OCR-coded so the resilience layer treats them as
// transient and retries within its attempt budget.
type TesseractEngine struct {
	pdftoppm  string
	tesseract string
	language  string
	dpi       int
	runner    Runner
	logger    *slog.Logger
}

// TesseractConfig carries the binary names and rasterization settings.
type TesseractConfig struct {
	Pdftoppm  string
	Tesseract string
	Language  string
	DPI       int
}

func NewTesseractEngine(cfg TesseractConfig, logger *slog.Logger) *TesseractEngine {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractEngine{
		pdftoppm:  cfg.Pdftoppm,
		tesseract: cfg.Tesseract,
		language:  cfg.Language,
		dpi:       cfg.DPI,
		runner:    execRunner{},
		logger:    logger,
	}
}

func (e *TesseractEngine) RecognizePage(ctx context.Context, path string, pageNumber int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "docpipe-ocr-*")
	if err != nil {
		return "", common.OCRError("create ocr temp dir", err)
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			e.logger.Warn("failed to remove ocr temp dir", "dir", tmpDir, "error", rerr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png -f <n> -l <n> <in.pdf> <tmp/page>
	pageArg := fmt.Sprintf("%d", pageNumber)
	_, errb, err := e.runner.Run(ctx, e.pdftoppm,
		"-r", fmt.Sprintf("%d", e.dpi), "-png", "-f", pageArg, "-l", pageArg, path, prefix)
	if err != nil {
		return "", common.OCRError("pdftoppm: "+strings.TrimSpace(string(errb)), err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", common.OCRError(fmt.Sprintf("pdftoppm produced no image for page %d", pageNumber), nil)
	}

	// tesseract <img> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.tesseract, matches[0], "stdout", "-l", e.language)
	if err != nil {
		return "", common.OCRError("tesseract: "+strings.TrimSpace(string(errb)), err)
	}
	return strings.TrimSpace(string(out)), nil
}
