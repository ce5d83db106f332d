// Package history records finished batch runs so past processing can be
// inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"docpipe/internal/batch"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id      TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	total_jobs    INTEGER NOT NULL,
	succeeded     INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	total_pages   INTEGER NOT NULL,
	peak_memory_mb REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
`

// RunRecord is one row in the processing history.
type RunRecord struct {
	BatchID      string
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalJobs    int
	Succeeded    int
	Failed       int
	TotalPages   int
	PeakMemoryMB float64
}

// Store persists batch run summaries in a local SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the database at path, creating directories and schema
// as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragma: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts one finished batch run.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs
			(batch_id, started_at, finished_at, total_jobs, succeeded, failed, total_pages, peak_memory_mb)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.TotalJobs, rec.Succeeded, rec.Failed, rec.TotalPages, rec.PeakMemoryMB,
	)
	if err != nil {
		return fmt.Errorf("insert batch run: %w", err)
	}
	s.logger.Info("recorded batch run", "batch_id", rec.BatchID, "succeeded", rec.Succeeded, "failed", rec.Failed)
	return nil
}

// RecordStatistics converts terminal batch statistics into a history row.
func (s *Store) RecordStatistics(ctx context.Context, batchID string, progress batch.Progress, stats batch.Statistics) error {
	finished := time.Now()
	if progress.EndTime != nil {
		finished = *progress.EndTime
	}
	return s.RecordRun(ctx, RunRecord{
		BatchID:      batchID,
		StartedAt:    progress.StartTime,
		FinishedAt:   finished,
		TotalJobs:    stats.TotalJobs,
		Succeeded:    stats.SuccessfulJobs,
		Failed:       stats.FailedJobs,
		TotalPages:   stats.TotalPagesProcessed,
		PeakMemoryMB: stats.PeakMemoryMB,
	})
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, started_at, finished_at, total_jobs, succeeded, failed, total_pages, peak_memory_mb
		 FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batch runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished string
		if err := rows.Scan(&rec.BatchID, &started, &finished,
			&rec.TotalJobs, &rec.Succeeded, &rec.Failed, &rec.TotalPages, &rec.PeakMemoryMB); err != nil {
			return nil, fmt.Errorf("scan batch run: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, started); perr == nil {
			rec.StartedAt = t
		}
		if t, perr := time.Parse(time.RFC3339Nano, finished); perr == nil {
			rec.FinishedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
