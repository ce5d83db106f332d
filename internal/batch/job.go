package batch

import (
	"time"
)

// Job statuses persisted in the resume snapshot.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one file's entry within a batch run.
type Job struct {
	ID         string     `json:"id"`
	InputPath  string     `json:"input_path"`
	OutputPath string     `json:"output_path"`
	Status     string     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
}

// JobResult summarizes one successfully processed file.
type JobResult struct {
	InputPath       string  `json:"input_path"`
	OutputPath      string  `json:"output_path"`
	DurationSeconds float64 `json:"duration"`
	Pages           int     `json:"pages"`
	OCRPages        int     `json:"ocr_pages"`
	Segments        int     `json:"segments"`
}

// Duration returns the job duration in seconds, or 0 until both stamps exist.
func (j *Job) Duration() float64 {
	if j.StartTime != nil && j.EndTime != nil {
		return j.EndTime.Sub(*j.StartTime).Seconds()
	}
	return 0
}

// Progress tracks aggregate counters for one batch run. All mutation happens
// under the orchestrator mutex; callbacks receive copies.
type Progress struct {
	TotalJobs      int        `json:"total_jobs"`
	CompletedJobs  int        `json:"completed_jobs"`
	FailedJobs     int        `json:"failed_jobs"`
	ProcessingJobs int        `json:"processing_jobs"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}

// PendingJobs derives the number of jobs not yet dispatched.
func (p Progress) PendingJobs() int {
	return p.TotalJobs - p.CompletedJobs - p.FailedJobs - p.ProcessingJobs
}

// CompletionRate returns completed jobs as a percentage of the batch.
func (p Progress) CompletionRate() float64 {
	if p.TotalJobs == 0 {
		return 0
	}
	return float64(p.CompletedJobs) / float64(p.TotalJobs) * 100
}

// FailureRate returns failed jobs as a percentage of the batch.
func (p Progress) FailureRate() float64 {
	if p.TotalJobs == 0 {
		return 0
	}
	return float64(p.FailedJobs) / float64(p.TotalJobs) * 100
}

// ETASeconds extrapolates time to completion from elapsed time per
// completed job. Undefined (false) until at least one job has completed.
func (p Progress) ETASeconds() (float64, bool) {
	if p.CompletedJobs == 0 {
		return 0, false
	}
	elapsed := time.Since(p.StartTime).Seconds()
	perJob := elapsed / float64(p.CompletedJobs)
	remaining := p.TotalJobs - p.CompletedJobs - p.FailedJobs
	return float64(remaining) * perJob, true
}

// IsComplete reports whether every job has settled.
func (p Progress) IsComplete() bool {
	return p.CompletedJobs+p.FailedJobs == p.TotalJobs
}

// maxErrorMessages caps the error list carried in Statistics.
const maxErrorMessages = 5

// Statistics is the terminal summary of a batch run. Computed once after
// the run settles, never mutated after.
type Statistics struct {
	TotalJobs                int      `json:"total_jobs"`
	SuccessfulJobs           int      `json:"successful_jobs"`
	FailedJobs               int      `json:"failed_jobs"`
	TotalDuration            float64  `json:"total_duration"`
	AverageDuration          float64  `json:"average_duration"`
	FastestJob               float64  `json:"fastest_job"`
	SlowestJob               float64  `json:"slowest_job"`
	TotalPagesProcessed      int      `json:"total_pages_processed"`
	AveragePagesPerJob       float64  `json:"average_pages_per_job"`
	ThroughputJobsPerMinute  float64  `json:"throughput_jobs_per_minute"`
	ThroughputPagesPerMinute float64  `json:"throughput_pages_per_minute"`
	PeakMemoryMB             float64  `json:"peak_memory_mb"`
	Errors                   []string `json:"errors,omitempty"`
	ErrorsTruncated          int      `json:"errors_truncated,omitempty"`
}
