package task

import (
	"time"

	"docpipe/constants"
	"docpipe/internal/extract"
)

// Job tracks a single document's processing request through the queue.
// Fields are mutated only under the queue mutex; Status and List hand out
// copies so callers never observe a job mid-update.
type Job struct {
	ID                string               `json:"id"`
	Filename          string               `json:"filename"`
	SourcePath        string               `json:"source_path"`
	Status            constants.JobStatus  `json:"status"`
	CreatedAt         time.Time            `json:"created_at"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	Progress          float64              `json:"progress"`
	CurrentPage       *int                 `json:"current_page,omitempty"`
	TotalPages        *int                 `json:"total_pages,omitempty"`
	Result            *extract.Result      `json:"result,omitempty"`
	Error             string               `json:"error,omitempty"`
	ProcessingSeconds float64              `json:"processing_time_seconds,omitempty"`
	FileSizeMB        float64              `json:"file_size_mb,omitempty"`
}

// QueueStatus is the point-in-time view of the queue exposed to the API.
type QueueStatus struct {
	QueueSize       int     `json:"queue_size"`
	ProcessingTasks int     `json:"processing_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	FailedTasks     int     `json:"failed_tasks"`
	ActiveWorkers   int     `json:"active_workers"`
	MaxWorkers      int     `json:"max_workers"`
	TotalProcessed  int     `json:"total_processed"`
	TotalFailed     int     `json:"total_failed"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Statistics aggregates terminal outcomes across the queue's lifetime.
type Statistics struct {
	TotalRequests          int     `json:"total_requests"`
	CompletedRequests      int     `json:"completed_requests"`
	FailedRequests         int     `json:"failed_requests"`
	AverageProcessingTime  float64 `json:"average_processing_time"`
	AverageFileSizeMB      float64 `json:"average_file_size_mb"`
	AveragePagesPerDoc     float64 `json:"average_pages_per_document"`
	TotalPagesProcessed    int     `json:"total_pages_processed"`
	TotalOCRPages          int     `json:"total_ocr_pages"`
}
