package pipeline

import (
	"context"
	"time"

	"docpipe/internal/extract"
)

// Segment is one logical section of a document.
type Segment struct {
	Title     string     `json:"title,omitempty"`
	Text      string     `json:"text"`
	PageStart int        `json:"page_start"`
	PageEnd   int        `json:"page_end"`
	Keywords  []string   `json:"keywords,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
}

// Document is the final structured output for one input file.
type Document struct {
	SourcePath string         `json:"source_path"`
	PageCount  int            `json:"page_count"`
	Pages      []extract.Page `json:"pages"`
	Segments   []Segment      `json:"segments"`
	Timeline   []Segment      `json:"timeline"`
	Method     string         `json:"method"`
	OCRPages   int            `json:"ocr_pages"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Segmenter splits extracted pages into logical sections. The segmentation
// heuristics live outside this core.
type Segmenter interface {
	Segment(ctx context.Context, pages []extract.Page) ([]Segment, error)
}

// Enricher attaches metadata (keywords, dates) to segments.
type Enricher interface {
	Enrich(ctx context.Context, segments []Segment) ([]Segment, error)
}

// TimelineBuilder orders dated segments chronologically.
type TimelineBuilder interface {
	BuildTimeline(ctx context.Context, segments []Segment) ([]Segment, error)
}
