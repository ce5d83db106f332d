package extract

import (
	"context"
	"log/slog"
	"strings"

	"docpipe/internal/common"
)

// PdftotextSource is the fallback extraction strategy: whole-document text
// via the poppler pdftotext binary, split into pages on form feeds.
type PdftotextSource struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

func NewPdftotextSource(bin string, logger *slog.Logger) *PdftotextSource {
	if bin == "" {
		bin = "pdftotext"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PdftotextSource{bin: bin, runner: execRunner{}, logger: logger}
}

func (s *PdftotextSource) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := s.runner.Run(ctx, s.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, common.ExtractionError("pdftotext: "+strings.TrimSpace(string(errb)), err)
	}

	// A form-feed \f is the default page separator.
	raw := strings.Split(string(out), "\f")
	if len(raw) > 1 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1] // trailing separator after the last page
	}
	pages := make([]Page, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages, nil
}
