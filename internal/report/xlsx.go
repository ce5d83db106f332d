// Package report renders batch results as an XLSX workbook for review
// outside the pipeline.
package report

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"docpipe/internal/batch"
)

// BuildBatchReport returns an XLSX workbook (as bytes) with a summary sheet
// and one row per job.
func BuildBatchReport(stats batch.Statistics, jobs []batch.Job, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	const summarySheet = "Summary"
	const jobsSheet = "Jobs"

	// The default sheet becomes Summary.
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(jobsSheet); err != nil {
		return nil, err
	}

	summary := [][]any{
		{"Total Jobs", stats.TotalJobs},
		{"Successful Jobs", stats.SuccessfulJobs},
		{"Failed Jobs", stats.FailedJobs},
		{"Total Duration (s)", stats.TotalDuration},
		{"Average Duration (s)", stats.AverageDuration},
		{"Fastest Job (s)", stats.FastestJob},
		{"Slowest Job (s)", stats.SlowestJob},
		{"Total Pages", stats.TotalPagesProcessed},
		{"Average Pages/Job", stats.AveragePagesPerJob},
		{"Throughput (jobs/min)", stats.ThroughputJobsPerMinute},
		{"Throughput (pages/min)", stats.ThroughputPagesPerMinute},
		{"Peak Memory (MB)", stats.PeakMemoryMB},
	}
	for i, row := range summary {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue(summarySheet, keyCell, row[0])
		_ = f.SetCellValue(summarySheet, valCell, row[1])
	}
	errRow := len(summary) + 2
	for i, msg := range stats.Errors {
		cell, _ := excelize.CoordinatesToCellName(1, errRow+i)
		_ = f.SetCellValue(summarySheet, cell, fmt.Sprintf("Error: %s", msg))
	}
	if stats.ErrorsTruncated > 0 {
		cell, _ := excelize.CoordinatesToCellName(1, errRow+len(stats.Errors))
		_ = f.SetCellValue(summarySheet, cell, fmt.Sprintf("... and %d more errors", stats.ErrorsTruncated))
	}

	headers := []string{"Job ID", "Input", "Output", "Status", "Duration (s)", "Pages", "OCR Pages", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, h)
	}
	for r, job := range jobs {
		values := []any{job.ID, job.InputPath, job.OutputPath, job.Status, job.Duration()}
		if job.Result != nil {
			values = append(values, job.Result.Pages, job.Result.OCRPages)
		} else {
			values = append(values, "", "")
		}
		values = append(values, job.Error)
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(jobsSheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize report: %w", err)
	}
	logger.Info("built batch report", "jobs", len(jobs), "duration_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
