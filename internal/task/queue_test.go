package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/constants"
	"docpipe/internal/extract"
)

// fakeProcessor simulates extraction with a configurable delay and failure
// set, while tracking the peak number of concurrent invocations.
type fakeProcessor struct {
	delay   time.Duration
	failOn  map[string]error
	block   chan struct{} // when set, Process waits here or for ctx
	active  atomic.Int32
	peak    atomic.Int32
	started chan string
}

func (p *fakeProcessor) Process(ctx context.Context, path string) (*extract.Result, error) {
	cur := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		prev := p.peak.Load()
		if cur <= prev || p.peak.CompareAndSwap(prev, cur) {
			break
		}
	}
	if p.started != nil {
		p.started <- path
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := p.failOn[path]; ok {
		return nil, err
	}
	return &extract.Result{
		Pages:  []extract.Page{{Number: 1, Text: "hello world"}},
		Method: "pdf-text",
	}, nil
}

func waitForStatus(t *testing.T, q *Queue, id string, want constants.JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := q.Status(id); ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := q.Status(id)
	t.Fatalf("job %s never reached %s (last: %s)", id, want, job.Status)
	return Job{}
}

func TestSubmitAndComplete(t *testing.T) {
	q := NewQueue(&fakeProcessor{}, nil, WithWorkers(2))
	q.Start()
	defer q.Stop()

	id, err := q.Submit("doc.pdf", "/tmp/doc.pdf")
	require.NoError(t, err)

	// Submit registers the job before returning.
	job, ok := q.Status(id)
	require.True(t, ok)

	job = waitForStatus(t, q, id, constants.JobStatusCompleted)
	assert.Equal(t, 1.0, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.PageCount())
	require.NotNil(t, job.TotalPages)
	assert.Equal(t, 1, *job.TotalPages)
	assert.NotNil(t, job.CompletedAt)
}

func TestFailedJobRecordsError(t *testing.T) {
	var gotID string
	var gotErr error
	var mu sync.Mutex
	proc := &fakeProcessor{failOn: map[string]error{"/tmp/bad.pdf": errors.New("unreadable")}}
	q := NewQueue(proc, nil, WithWorkers(1), WithErrorHandler(func(id string, err error) {
		mu.Lock()
		gotID, gotErr = id, err
		mu.Unlock()
	}))
	q.Start()
	defer q.Stop()

	id, err := q.Submit("bad.pdf", "/tmp/bad.pdf")
	require.NoError(t, err)

	job := waitForStatus(t, q, id, constants.JobStatusFailed)
	assert.Contains(t, job.Error, "unreadable")
	assert.Nil(t, job.Result)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, id, gotID)
	assert.Error(t, gotErr)
}

func TestConcurrencyNeverExceedsWorkerCount(t *testing.T) {
	proc := &fakeProcessor{delay: 20 * time.Millisecond}
	q := NewQueue(proc, nil, WithWorkers(2), WithQueueSize(32))
	q.Start()
	defer q.Stop()

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := q.Submit("doc.pdf", "/tmp/doc.pdf")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, q, id, constants.JobStatusCompleted)
	}
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))

	st := q.QueueStatus()
	assert.Equal(t, 10, st.TotalProcessed)
	assert.Equal(t, 0, st.TotalFailed)
	assert.Equal(t, 10, st.CompletedTasks)
}

func TestCancelPendingJob(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{}), started: make(chan string, 16)}
	q := NewQueue(proc, nil, WithWorkers(1), WithQueueSize(16))
	q.Start()
	defer q.Stop()
	defer close(proc.block)

	first, err := q.Submit("a.pdf", "/tmp/a.pdf")
	require.NoError(t, err)
	<-proc.started // worker is now parked on the first job

	second, err := q.Submit("b.pdf", "/tmp/b.pdf")
	require.NoError(t, err)

	assert.True(t, q.Cancel(second))
	job, ok := q.Status(second)
	require.True(t, ok)
	assert.Equal(t, constants.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	// Cancelling again, or cancelling a terminal job, reports false.
	assert.False(t, q.Cancel(second))
	assert.False(t, q.Cancel("no-such-id"))
	_ = first
}

func TestCancelInFlightDiscardsResult(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{}), started: make(chan string, 1)}
	q := NewQueue(proc, nil, WithWorkers(1))
	q.Start()
	defer q.Stop()

	id, err := q.Submit("a.pdf", "/tmp/a.pdf")
	require.NoError(t, err)
	<-proc.started

	require.True(t, q.Cancel(id))
	close(proc.block) // let the processor finish successfully

	// The worker sees the cancelled status and drops the late result.
	time.Sleep(50 * time.Millisecond)
	job, ok := q.Status(id)
	require.True(t, ok)
	assert.Equal(t, constants.JobStatusCancelled, job.Status)
	assert.Nil(t, job.Result)

	st := q.QueueStatus()
	assert.Equal(t, 0, st.TotalProcessed)
}

func TestProcessTimeoutFailsJob(t *testing.T) {
	proc := &fakeProcessor{delay: time.Hour}
	q := NewQueue(proc, nil, WithWorkers(1), WithProcessTimeout(30*time.Millisecond))
	q.Start()
	defer q.Stop()

	id, err := q.Submit("slow.pdf", "/tmp/slow.pdf")
	require.NoError(t, err)

	job := waitForStatus(t, q, id, constants.JobStatusFailed)
	assert.Contains(t, job.Error, "time budget")
}

func TestCleanupRemovesOnlyOldTerminalJobs(t *testing.T) {
	q := NewQueue(&fakeProcessor{}, nil, WithWorkers(1))
	q.Start()
	defer q.Stop()

	done, err := q.Submit("old.pdf", "/tmp/old.pdf")
	require.NoError(t, err)
	waitForStatus(t, q, done, constants.JobStatusCompleted)

	// Nothing is old enough yet.
	assert.Equal(t, 0, q.Cleanup(time.Hour))

	// With a zero max age every terminal job qualifies.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, q.Cleanup(0))
	_, ok := q.Status(done)
	assert.False(t, ok)
}

func TestStatisticsAggregation(t *testing.T) {
	proc := &fakeProcessor{failOn: map[string]error{"/tmp/bad.pdf": errors.New("boom")}}
	q := NewQueue(proc, nil, WithWorkers(2))
	q.Start()
	defer q.Stop()

	good1, _ := q.Submit("a.pdf", "/tmp/a.pdf")
	good2, _ := q.Submit("b.pdf", "/tmp/b.pdf")
	bad, _ := q.Submit("bad.pdf", "/tmp/bad.pdf")
	waitForStatus(t, q, good1, constants.JobStatusCompleted)
	waitForStatus(t, q, good2, constants.JobStatusCompleted)
	waitForStatus(t, q, bad, constants.JobStatusFailed)

	stats := q.Statistics()
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.CompletedRequests)
	assert.Equal(t, 1, stats.FailedRequests)
	assert.Equal(t, 2, stats.TotalPagesProcessed)
	assert.Equal(t, 1.0, stats.AveragePagesPerDoc)
}

func TestSubmitAfterStopFails(t *testing.T) {
	q := NewQueue(&fakeProcessor{}, nil, WithWorkers(1))
	q.Start()
	q.Stop()

	_, err := q.Submit("doc.pdf", "/tmp/doc.pdf")
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestStopReturnsPromptlyWithBacklog(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{}), started: make(chan string, 8)}
	q := NewQueue(proc, nil, WithWorkers(1), WithQueueSize(16))
	q.Start()

	// Park the single worker on the first job, then queue a backlog
	// behind it.
	first, err := q.Submit("a.pdf", "/tmp/a.pdf")
	require.NoError(t, err)
	<-proc.started
	var backlog []string
	for i := 0; i < 7; i++ {
		id, err := q.Submit("b.pdf", "/tmp/b.pdf")
		require.NoError(t, err)
		backlog = append(backlog, id)
	}

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on backlog jobs")
	}

	// Only the in-flight job settled; the backlog was never started.
	job, ok := q.Status(first)
	require.True(t, ok)
	assert.True(t, job.Status.Terminal())
	for _, id := range backlog {
		job, ok := q.Status(id)
		require.True(t, ok)
		assert.Equal(t, constants.JobStatusPending, job.Status)
	}
}

func TestStopJoinsWorkers(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{}), started: make(chan string, 1)}
	q := NewQueue(proc, nil, WithWorkers(1))
	q.Start()

	id, err := q.Submit("a.pdf", "/tmp/a.pdf")
	require.NoError(t, err)
	<-proc.started

	done := make(chan struct{})
	go func() {
		q.Stop() // cancels the in-flight context, so the processor returns
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	job, ok := q.Status(id)
	require.True(t, ok)
	assert.True(t, job.Status.Terminal())
}
