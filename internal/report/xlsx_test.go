package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docpipe/internal/batch"
)

func TestBuildBatchReport(t *testing.T) {
	stats := batch.Statistics{
		TotalJobs:           3,
		SuccessfulJobs:      2,
		FailedJobs:          1,
		TotalPagesProcessed: 10,
		Errors:              []string{"EXTRACTION_ERROR: poisoned document"},
	}
	jobs := []batch.Job{
		{ID: "j1", InputPath: "/in/a.pdf", OutputPath: "/out/a.json", Status: batch.StatusCompleted,
			Result: &batch.JobResult{Pages: 6, OCRPages: 1}},
		{ID: "j2", InputPath: "/in/b.pdf", OutputPath: "/out/b.json", Status: batch.StatusCompleted,
			Result: &batch.JobResult{Pages: 4}},
		{ID: "j3", InputPath: "/in/c.pdf", OutputPath: "/out/c.json", Status: batch.StatusFailed,
			Error: "poisoned document"},
	}

	data, err := BuildBatchReport(stats, jobs, nil)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Summary", "Jobs"}, f.GetSheetList())

	total, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "3", total)

	header, err := f.GetCellValue("Jobs", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Job ID", header)

	firstID, err := f.GetCellValue("Jobs", "A2")
	require.NoError(t, err)
	assert.Equal(t, "j1", firstID)

	failRowErr, err := f.GetCellValue("Jobs", "H4")
	require.NoError(t, err)
	assert.Equal(t, "poisoned document", failRowErr)
}

func TestBuildBatchReportEmptyBatch(t *testing.T) {
	data, err := BuildBatchReport(batch.Statistics{}, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
