package batch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/common"
	"docpipe/internal/perf"
)

// Runner processes one file and writes its output artifact.
type Runner interface {
	RunJob(ctx context.Context, inputPath, outputPath string) (*JobResult, error)
}

// Orchestrator fans a list of files out across a bounded worker pool,
// tracks per-job and aggregate progress, and checkpoints to a resume file
// so an interrupted run can continue where it left off.
type Orchestrator struct {
	runner           Runner
	governor         *perf.Governor
	logger           *slog.Logger
	maxWorkers       int
	progressCallback func(Progress)

	mu           sync.Mutex
	batchID      string
	jobs         []*Job
	progress     Progress
	resumeFile   string
	peakMemoryMB float64
}

type Option func(*Orchestrator)

func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithProgressCallback installs a hook invoked after every job settles.
// Calls are not ordered across jobs; only final counts are exact.
func WithProgressCallback(fn func(Progress)) Option {
	return func(o *Orchestrator) {
		o.progressCallback = fn
	}
}

func WithGovernor(g *perf.Governor) Option {
	return func(o *Orchestrator) {
		o.governor = g
	}
}

func NewOrchestrator(runner Runner, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		runner:     runner,
		logger:     logger,
		maxWorkers: runtime.NumCPU(),
		batchID:    uuid.NewString(),
		progress:   Progress{StartTime: time.Now()},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger.Info("initialized batch orchestrator", "batch_id", o.batchID, "max_workers", o.maxWorkers)
	return o
}

// BatchID returns the id persisted in the resume snapshot.
func (o *Orchestrator) BatchID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batchID
}

// AddFile appends a single file to the batch, creating the output directory.
func (o *Orchestrator) AddFile(inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return common.FileSystemError(fmt.Sprintf("input file not found: %s", inputPath), err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return common.FileSystemError("create output directory", err)
	}
	o.mu.Lock()
	o.jobs = append(o.jobs, &Job{
		ID:         uuid.NewString(),
		InputPath:  inputPath,
		OutputPath: outputPath,
		Status:     StatusPending,
	})
	o.progress.TotalJobs = len(o.jobs)
	o.mu.Unlock()
	o.logger.Info("added file to batch", "input", inputPath)
	return nil
}

// AddDirectory walks inputDir, appending one job per file matching pattern.
// Output artifacts mirror the input tree under outputDir as <stem>.json.
func (o *Orchestrator) AddDirectory(inputDir, outputDir, pattern string, recursive bool) error {
	if pattern == "" {
		pattern = "*.pdf"
	}
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return common.FileSystemError(fmt.Sprintf("input directory not found: %s", inputDir), err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return common.FileSystemError("create output directory", err)
	}

	matched := 0
	walkErr := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			o.logger.Warn("skipping unreadable path", "path", path, "error", werr)
			return nil
		}
		if d.IsDir() {
			if !recursive && path != inputDir {
				return filepath.SkipDir
			}
			return nil
		}
		ok, merr := filepath.Match(pattern, d.Name())
		if merr != nil {
			return merr
		}
		if !ok {
			return nil
		}
		rel, rerr := filepath.Rel(inputDir, path)
		if rerr != nil {
			return rerr
		}
		stem := strings.TrimSuffix(rel, filepath.Ext(rel))
		outputPath := filepath.Join(outputDir, stem+".json")
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return err
		}
		o.mu.Lock()
		o.jobs = append(o.jobs, &Job{
			ID:         uuid.NewString(),
			InputPath:  path,
			OutputPath: outputPath,
			Status:     StatusPending,
		})
		o.progress.TotalJobs = len(o.jobs)
		o.mu.Unlock()
		matched++
		return nil
	})
	if walkErr != nil {
		return common.FileSystemError("walk input directory", walkErr)
	}
	o.logger.Info("added directory to batch", "dir", inputDir, "pattern", pattern, "matched", matched)
	return nil
}

// SetResumeFile designates where checkpoints are written.
func (o *Orchestrator) SetResumeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.FileSystemError("create resume file directory", err)
	}
	o.mu.Lock()
	o.resumeFile = path
	o.mu.Unlock()
	return nil
}

// Jobs returns copies of all batch jobs.
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, *j)
	}
	return out
}

// JobStatus returns a copy of one job by id.
func (o *Orchestrator) JobStatus(id string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, j := range o.jobs {
		if j.ID == id {
			return *j, true
		}
	}
	return Job{}, false
}

// FailedJobs returns copies of all failed jobs.
func (o *Orchestrator) FailedJobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Job
	for _, j := range o.jobs {
		if j.Status == StatusFailed {
			out = append(out, *j)
		}
	}
	return out
}

// ProgressSnapshot returns the current aggregate counters.
func (o *Orchestrator) ProgressSnapshot() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Run processes every pending or failed job with bounded parallelism and
// returns the terminal statistics. With resume=true an existing snapshot
// replaces the in-memory state first, so only unfinished work is retried.
// Failed jobs never abort the run; on full success the resume file is
// removed, otherwise it is kept for a later Run(resume) or RetryFailedJobs.
func (o *Orchestrator) Run(ctx context.Context, resume bool) (Statistics, error) {
	o.mu.Lock()
	if len(o.jobs) == 0 {
		o.mu.Unlock()
		return Statistics{}, common.ValidationError("no jobs to process", nil)
	}
	resumeFile := o.resumeFile
	o.mu.Unlock()

	if resume && resumeFile != "" {
		if _, err := os.Stat(resumeFile); err == nil {
			if err := o.loadSnapshot(resumeFile); err != nil {
				return Statistics{}, err
			}
			// ETA and throughput measure this run, not the wall-clock
			// gap since the interrupted one.
			o.mu.Lock()
			o.progress.StartTime = time.Now()
			o.progress.EndTime = nil
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	var selected []*Job
	for _, j := range o.jobs {
		if j.Status == StatusPending || j.Status == StatusFailed {
			selected = append(selected, j)
		}
	}
	o.mu.Unlock()

	if len(selected) == 0 {
		o.logger.Info("no jobs to process")
		return o.calculateStatistics(), nil
	}
	o.logger.Info("processing batch", "jobs", len(selected), "workers", o.maxWorkers)

	chunkSize := len(selected)
	if o.governor != nil {
		chunkSize = o.governor.OptimalBatchSize(len(selected), o.estimateItemSizeMB(selected))
	}

	for start := 0; start < len(selected); start += chunkSize {
		end := start + chunkSize
		if end > len(selected) {
			end = len(selected)
		}
		o.dispatch(ctx, selected[start:end])

		if o.governor != nil {
			currentMB, err := o.governor.CheckMemory()
			o.observeMemory(currentMB)
			if err != nil {
				// Shrink the next chunk instead of aborting the run.
				o.governor.ReclaimMemory()
				if chunkSize > 1 {
					chunkSize = chunkSize / 2
				}
				o.logger.Warn("memory pressure between batches, shrinking chunk",
					"current_mb", currentMB, "next_chunk", chunkSize, "error", err)
			}
		}
	}

	o.mu.Lock()
	now := time.Now()
	o.progress.EndTime = &now
	o.mu.Unlock()

	stats := o.calculateStatistics()
	o.logger.Info("batch processing completed",
		"successful", stats.SuccessfulJobs, "failed", stats.FailedJobs)

	if resumeFile != "" {
		if stats.FailedJobs == 0 {
			if err := os.Remove(resumeFile); err != nil && !os.IsNotExist(err) {
				o.logger.Warn("failed to remove resume file", "path", resumeFile, "error", err)
			}
		} else {
			o.logger.Info("keeping resume file for retry", "path", resumeFile, "failed_jobs", stats.FailedJobs)
		}
	}
	return stats, nil
}

// RetryFailedJobs resets every failed job to pending and re-runs the batch.
func (o *Orchestrator) RetryFailedJobs(ctx context.Context) (Statistics, error) {
	o.mu.Lock()
	reset := 0
	for _, j := range o.jobs {
		if j.Status != StatusFailed {
			continue
		}
		j.Status = StatusPending
		j.Error = ""
		j.StartTime = nil
		j.EndTime = nil
		j.Result = nil
		reset++
	}
	o.progress.FailedJobs = 0
	o.progress.ProcessingJobs = 0
	o.mu.Unlock()

	if reset == 0 {
		o.logger.Info("no failed jobs to retry")
		return o.calculateStatistics(), nil
	}
	o.logger.Info("retrying failed jobs", "count", reset)
	return o.Run(ctx, false)
}

// dispatch runs one chunk of jobs across the worker pool and waits for it
// to settle. Dispatch order is insertion order; completion order is not
// guaranteed.
func (o *Orchestrator) dispatch(ctx context.Context, jobs []*Job) {
	ch := make(chan *Job)
	var wg sync.WaitGroup
	workers := o.maxWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				o.processJob(ctx, job)
			}
		}()
	}
	for _, job := range jobs {
		ch <- job
	}
	close(ch)
	wg.Wait()
}

// processJob runs one job. The mutex is held only for status writes and
// counter updates, never across the extraction call; the snapshot is
// written after the lock is released, so a crash in between leaves an
// at-most-one-job-stale resume file.
func (o *Orchestrator) processJob(ctx context.Context, job *Job) {
	o.mu.Lock()
	now := time.Now()
	job.Status = StatusProcessing
	job.StartTime = &now
	o.progress.ProcessingJobs++
	input, output := job.InputPath, job.OutputPath
	o.mu.Unlock()

	result, err := o.runner.RunJob(ctx, input, output)

	o.mu.Lock()
	end := time.Now()
	job.EndTime = &end
	o.progress.ProcessingJobs--
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		o.progress.FailedJobs++
		o.logger.Error("batch job failed", "job_id", job.ID, "input", input, "error", err)
	} else {
		job.Status = StatusCompleted
		result.DurationSeconds = job.Duration()
		job.Result = result
		o.progress.CompletedJobs++
		o.logger.Info("batch job completed", "job_id", job.ID, "input", input)
	}
	progressCopy := o.progress
	resumeFile := o.resumeFile
	o.mu.Unlock()

	if o.progressCallback != nil {
		o.progressCallback(progressCopy)
	}
	if resumeFile != "" {
		if serr := o.saveSnapshot(resumeFile); serr != nil {
			o.logger.Warn("failed to save resume state", "path", resumeFile, "error", serr)
		}
	}
}

func (o *Orchestrator) estimateItemSizeMB(jobs []*Job) float64 {
	var total float64
	n := 0
	for _, j := range jobs {
		if info, err := os.Stat(j.InputPath); err == nil {
			total += float64(info.Size()) / (1024 * 1024)
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return total / float64(n)
}

func (o *Orchestrator) observeMemory(currentMB float64) {
	o.mu.Lock()
	if currentMB > o.peakMemoryMB {
		o.peakMemoryMB = currentMB
	}
	o.mu.Unlock()
}

func (o *Orchestrator) calculateStatistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Statistics{
		TotalJobs:    len(o.jobs),
		PeakMemoryMB: o.peakMemoryMB,
	}
	var durations []float64
	var errorMessages []string
	for _, j := range o.jobs {
		switch j.Status {
		case StatusCompleted:
			stats.SuccessfulJobs++
			if d := j.Duration(); d > 0 {
				durations = append(durations, d)
			}
			if j.Result != nil {
				stats.TotalPagesProcessed += j.Result.Pages
			}
		case StatusFailed:
			stats.FailedJobs++
			if j.Error != "" {
				errorMessages = append(errorMessages, j.Error)
			}
		}
	}

	if len(errorMessages) > maxErrorMessages {
		stats.ErrorsTruncated = len(errorMessages) - maxErrorMessages
		errorMessages = errorMessages[:maxErrorMessages]
	}
	stats.Errors = errorMessages

	if stats.SuccessfulJobs == 0 {
		return stats
	}

	for _, d := range durations {
		stats.TotalDuration += d
	}
	if len(durations) > 0 {
		stats.AverageDuration = stats.TotalDuration / float64(len(durations))
		stats.FastestJob = durations[0]
		stats.SlowestJob = durations[0]
		for _, d := range durations[1:] {
			if d < stats.FastestJob {
				stats.FastestJob = d
			}
			if d > stats.SlowestJob {
				stats.SlowestJob = d
			}
		}
	}
	stats.AveragePagesPerJob = float64(stats.TotalPagesProcessed) / float64(stats.SuccessfulJobs)

	if o.progress.EndTime != nil {
		batchSeconds := o.progress.EndTime.Sub(o.progress.StartTime).Seconds()
		if batchSeconds > 0 {
			stats.ThroughputJobsPerMinute = float64(stats.SuccessfulJobs) / batchSeconds * 60
			stats.ThroughputPagesPerMinute = float64(stats.TotalPagesProcessed) / batchSeconds * 60
		}
	}
	return stats
}
