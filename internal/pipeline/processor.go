package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"time"

	"docpipe/internal/batch"
	"docpipe/internal/common"
	"docpipe/internal/extract"
)

// Processor coordinates extraction, segmentation, enrichment and timeline
// building for one document. Only extraction is part of this core; the
// later stages are collaborators behind narrow interfaces.
type Processor struct {
	Logger    *slog.Logger
	Extractor *extract.Extractor
	Segmenter Segmenter
	Enricher  Enricher
	Timeline  TimelineBuilder
}

func NewProcessor(logger *slog.Logger, extractor *extract.Extractor, seg Segmenter, enr Enricher, tl TimelineBuilder) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if seg == nil {
		seg = passthroughSegmenter{}
	}
	if enr == nil {
		enr = passthroughEnricher{}
	}
	if tl == nil {
		tl = dateOrderTimeline{}
	}
	return &Processor{Logger: logger, Extractor: extractor, Segmenter: seg, Enricher: enr, Timeline: tl}
}

// Process runs the full stage chain for one file.
func (p *Processor) Process(ctx context.Context, path string) (*Document, error) {
	res, err := p.Extractor.Process(ctx, path)
	if err != nil {
		p.Logger.Error("processor.extract.failed", "path", path, "err", err)
		return nil, err
	}
	p.Logger.Info("processor.extract.ok",
		"path", path,
		"method", res.Method,
		"pages", res.PageCount(),
		"ocr_pages", res.OCRPages,
	)

	segments, err := p.Segmenter.Segment(ctx, res.Pages)
	if err != nil {
		return nil, common.WrapError(err, "segment document")
	}
	segments, err = p.Enricher.Enrich(ctx, segments)
	if err != nil {
		return nil, common.WrapError(err, "enrich segments")
	}
	timeline, err := p.Timeline.BuildTimeline(ctx, segments)
	if err != nil {
		return nil, common.WrapError(err, "build timeline")
	}

	return &Document{
		SourcePath: path,
		PageCount:  res.PageCount(),
		Pages:      res.Pages,
		Segments:   segments,
		Timeline:   timeline,
		Method:     res.Method,
		OCRPages:   res.OCRPages,
		CreatedAt:  time.Now(),
	}, nil
}

// RunJob processes one file and writes the structured document to
// outputPath as JSON. Satisfies the batch orchestrator's Runner.
func (p *Processor) RunJob(ctx context.Context, inputPath, outputPath string) (*batch.JobResult, error) {
	doc, err := p.Process(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, common.WrapError(err, "marshal document")
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return nil, common.FileSystemError("write output file", err)
	}
	return &batch.JobResult{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Pages:      doc.PageCount,
		OCRPages:   doc.OCRPages,
		Segments:   len(doc.Segments),
	}, nil
}

// passthroughSegmenter wraps each page in one segment.
type passthroughSegmenter struct{}

func (passthroughSegmenter) Segment(_ context.Context, pages []extract.Page) ([]Segment, error) {
	segments := make([]Segment, 0, len(pages))
	for _, pg := range pages {
		segments = append(segments, Segment{Text: pg.Text, PageStart: pg.Number, PageEnd: pg.Number})
	}
	return segments, nil
}

type passthroughEnricher struct{}

func (passthroughEnricher) Enrich(_ context.Context, segments []Segment) ([]Segment, error) {
	return segments, nil
}

// dateOrderTimeline keeps only dated segments, oldest first.
type dateOrderTimeline struct{}

func (dateOrderTimeline) BuildTimeline(_ context.Context, segments []Segment) ([]Segment, error) {
	var dated []Segment
	for _, s := range segments {
		if s.Date != nil {
			dated = append(dated, s)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool { return dated[i].Date.Before(*dated[j].Date) })
	return dated, nil
}
