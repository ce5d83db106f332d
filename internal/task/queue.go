package task

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"docpipe/constants"
	"docpipe/internal/common"
	"docpipe/internal/extract"
)

// Processor is the unit of work a job wraps.
type Processor interface {
	Process(ctx context.Context, path string) (*extract.Result, error)
}

// ErrQueueStopped is returned by Submit after Stop.
var ErrQueueStopped = errors.New("task queue is stopped")

// Queue accepts document-processing requests and runs at most N at a time.
// Callers poll status or request cancellation without blocking.
type Queue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan string
	stop chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*Job
	cancels   map[string]context.CancelFunc
	running   bool
	stopped   bool
	processed int
	failed    int
	startTime time.Time

	onError func(jobID string, err error)
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithErrorHandler installs a hook invoked with job context whenever a job
// terminates in failure.
func WithErrorHandler(fn func(jobID string, err error)) Option {
	return func(q *Queue) {
		q.onError = fn
	}
}

func NewQueue(proc Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:      proc,
		logger:    logger,
		workers:   4,
		timeout:   5 * time.Minute,
		ch:        make(chan string, 256),
		stop:      make(chan struct{}),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
		startTime: time.Now(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start spawns the worker loops. Idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running || q.stopped {
		return
	}
	q.running = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	q.logger.Info("task queue started", "workers", q.workers)
}

// Submit creates a pending job and enqueues it. The job exists before
// Submit returns, so Status never misses a freshly submitted id.
func (q *Queue) Submit(filename, path string) (string, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}

	id := uuid.NewString()
	job := &Job{
		ID:         id,
		Filename:   filename,
		SourcePath: path,
		Status:     constants.JobStatusPending,
		CreatedAt:  time.Now(),
	}
	if info, err := os.Stat(path); err == nil {
		job.FileSizeMB = float64(info.Size()) / (1024 * 1024)
	}
	q.jobs[id] = job
	q.mu.Unlock()

	select {
	case q.ch <- id:
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", id)
		q.ch <- id
	}
	q.logger.Info("queued document for processing", "job_id", id, "filename", filename)
	return id, nil
}

// Status returns a copy of the job, or false if the id is unknown.
func (q *Queue) Status(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns copies of all known jobs.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	return out
}

// Cancel flips a non-terminal job to cancelled immediately and signals the
// owning worker, if any, to stop. The in-flight extraction may still run to
// completion; its result is discarded rather than stored (see worker).
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	if cancel, active := q.cancels[id]; active {
		cancel()
		delete(q.cancels, id)
	}
	now := time.Now()
	job.Status = constants.JobStatusCancelled
	job.CompletedAt = &now
	q.logger.Info("cancelled job", "job_id", id)
	return true
}

// Cleanup removes terminal jobs whose completion is older than maxAge and
// returns how many were dropped.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Info("cleaned up old jobs", "removed", removed)
	}
	return removed
}

// QueueStatus reports counts at this instant.
func (q *Queue) QueueStatus() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{
		ActiveWorkers:  len(q.cancels),
		MaxWorkers:     q.workers,
		TotalProcessed: q.processed,
		TotalFailed:    q.failed,
		UptimeSeconds:  time.Since(q.startTime).Seconds(),
	}
	for _, job := range q.jobs {
		switch job.Status {
		case constants.JobStatusPending:
			st.QueueSize++
		case constants.JobStatusProcessing:
			st.ProcessingTasks++
		case constants.JobStatusCompleted:
			st.CompletedTasks++
		case constants.JobStatusFailed:
			st.FailedTasks++
		}
	}
	return st
}

// Statistics aggregates completed-job metrics.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Statistics{
		TotalRequests:  len(q.jobs),
		FailedRequests: q.failed,
	}
	var totalTime, totalSize float64
	for _, job := range q.jobs {
		if job.Status != constants.JobStatusCompleted {
			continue
		}
		stats.CompletedRequests++
		totalTime += job.ProcessingSeconds
		totalSize += job.FileSizeMB
		if job.Result != nil {
			stats.TotalPagesProcessed += job.Result.PageCount()
			stats.TotalOCRPages += job.Result.OCRPages
		}
	}
	if stats.CompletedRequests > 0 {
		n := float64(stats.CompletedRequests)
		stats.AverageProcessingTime = totalTime / n
		stats.AverageFileSizeMB = totalSize / n
		stats.AveragePagesPerDoc = float64(stats.TotalPagesProcessed) / n
	}
	return stats
}

// Stop signals all workers to exit, cancels in-flight work, and joins.
// No worker touches a job after Stop returns.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.running = false
	close(q.stop)
	for id, cancel := range q.cancels {
		cancel()
		delete(q.cancels, id)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("task queue stopped")
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	q.logger.Info("worker started", "worker_id", workerID)
	for {
		select {
		case <-q.stop:
			q.logger.Info("worker stopped", "worker_id", workerID)
			return
		case id := <-q.ch:
			q.runJob(workerID, id)
		}
	}
}

func (q *Queue) runJob(workerID int, id string) {
	q.mu.Lock()
	if q.stopped {
		// Stop has already swept the cancels map; starting this job now
		// would leave its context uncancellable. It stays pending.
		q.mu.Unlock()
		return
	}
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn("job not found", "worker_id", workerID, "job_id", id)
		return
	}
	if job.Status != constants.JobStatusPending {
		// Cancelled (or cleaned up) while sitting in the queue.
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = constants.JobStatusProcessing
	job.StartedAt = &now
	path := job.SourcePath

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	q.cancels[id] = cancel
	q.mu.Unlock()

	start := time.Now()
	result, err := q.proc.Process(ctx, path)
	elapsed := time.Since(start).Seconds()
	cancel()

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = common.TimeoutError("extraction exceeded time budget", err)
	}

	q.mu.Lock()
	delete(q.cancels, id)
	if job.Status == constants.JobStatusCancelled {
		// Late-arriving outcome after cancellation is discarded.
		q.mu.Unlock()
		q.logger.Info("discarding result of cancelled job", "worker_id", workerID, "job_id", id)
		return
	}
	done := time.Now()
	job.CompletedAt = &done
	job.ProcessingSeconds = elapsed
	if err != nil {
		job.Status = constants.JobStatusFailed
		job.Error = err.Error()
		job.Progress = 0
		q.failed++
		q.mu.Unlock()
		q.logger.Error("job failed", "worker_id", workerID, "job_id", id, "error", err)
		if q.onError != nil {
			q.onError(id, err)
		}
		return
	}
	job.Status = constants.JobStatusCompleted
	job.Result = result
	job.Progress = 1.0
	pages := result.PageCount()
	job.CurrentPage = &pages
	job.TotalPages = &pages
	q.processed++
	q.mu.Unlock()
	q.logger.Info("job completed", "worker_id", workerID, "job_id", id, "seconds", elapsed, "pages", pages)
}
