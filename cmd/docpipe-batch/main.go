package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"docpipe/internal/batch"
	"docpipe/internal/common"
	"docpipe/internal/extract"
	"docpipe/internal/history"
	"docpipe/internal/perf"
	"docpipe/internal/pipeline"
	"docpipe/internal/report"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir         = flag.String("dir", "", "directory of documents to process")
		in          = flag.String("in", "", "single input file to process")
		out         = flag.String("out", "", "output directory (or output file with -in)")
		pattern     = flag.String("pattern", "*.pdf", "file pattern for -dir")
		recursive   = flag.Bool("recursive", true, "recurse into subdirectories with -dir")
		workers     = flag.Int("workers", 0, "worker pool size (default: CPU count)")
		resume      = flag.Bool("resume", false, "resume from the resume file")
		resumeFile  = flag.String("resume-file", "", "path to the resume checkpoint file")
		retryFailed = flag.Bool("retry-failed", false, "after the run, retry failed jobs once")
		reportPath  = flag.String("report", "", "write an XLSX report to this path")
	)
	flag.Parse()

	if *dir == "" && *in == "" {
		printError("Error: one of --dir or --in is required\n")
		os.Exit(1)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *workers <= 0 {
		*workers = cfg.Batch.MaxWorkers
	}

	extractor := extract.NewExtractor(
		extract.NewPDFSource(logger),
		extract.NewPdftotextSource(cfg.OCR.Pdftotext, logger),
		extract.NewTesseractEngine(extract.TesseractConfig{
			Pdftoppm:  cfg.OCR.Pdftoppm,
			Tesseract: cfg.OCR.Tesseract,
			Language:  cfg.OCR.Language,
			DPI:       cfg.OCR.DPI,
		}, logger),
		extract.Options{
			MaxFileSizeMB: cfg.Processing.MaxFileSizeMB,
			OCREnabled:    cfg.OCR.Enabled,
			WordThreshold: cfg.OCR.WordThreshold,
			OCRAttempts:   cfg.OCR.MaxAttempts,
			OCRRetryDelay: cfg.OCR.RetryDelay,
		},
		logger,
	)
	proc := pipeline.NewProcessor(logger, extractor, nil, nil, nil)
	governor := perf.NewGovernor(cfg.Processing.MaxMemoryMB, cfg.Processing.MemoryMonitoring, logger)

	orch := batch.NewOrchestrator(proc, logger,
		batch.WithMaxWorkers(*workers),
		batch.WithGovernor(governor),
		batch.WithProgressCallback(func(p batch.Progress) {
			if eta, ok := p.ETASeconds(); ok {
				logger.Info("progress",
					"completed", p.CompletedJobs, "failed", p.FailedJobs,
					"total", p.TotalJobs, "eta_seconds", int(eta))
			}
		}),
	)

	if *resumeFile != "" {
		if err := orch.SetResumeFile(*resumeFile); err != nil {
			logger.Error("failed to set resume file", "error", err)
			os.Exit(1)
		}
	}

	if *in != "" {
		outPath := *out
		if outPath == "" {
			stem := *in
			stem = stem[:len(stem)-len(filepath.Ext(stem))]
			outPath = stem + ".json"
		}
		if err := orch.AddFile(*in, outPath); err != nil {
			logger.Error("failed to add file", "error", err)
			os.Exit(1)
		}
	}
	if *dir != "" {
		outDir := *out
		if outDir == "" {
			outDir = filepath.Join(filepath.Dir(*dir), "docpipe-output")
		}
		if err := orch.AddDirectory(*dir, outDir, *pattern, *recursive); err != nil {
			logger.Error("failed to add directory", "error", err)
			os.Exit(1)
		}
	}

	stats, err := orch.Run(ctx, *resume)
	if err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}
	if *retryFailed && stats.FailedJobs > 0 {
		stats, err = orch.RetryFailedJobs(ctx)
		if err != nil {
			logger.Error("retry run failed", "error", err)
			os.Exit(1)
		}
	}

	// Record the run in the local processing history.
	if store, herr := history.Open(cfg.History.DBPath, logger); herr != nil {
		logger.Warn("history store unavailable", "error", herr)
	} else {
		if rerr := store.RecordStatistics(ctx, orch.BatchID(), orch.ProgressSnapshot(), stats); rerr != nil {
			logger.Warn("failed to record batch run", "error", rerr)
		}
		_ = store.Close()
	}

	if *reportPath != "" {
		data, berr := report.BuildBatchReport(stats, orch.Jobs(), logger)
		if berr != nil {
			logger.Error("failed to build report", "error", berr)
			os.Exit(1)
		}
		if werr := os.WriteFile(*reportPath, data, 0o644); werr != nil {
			logger.Error("failed to write report", "error", werr)
			os.Exit(1)
		}
		logger.Info("report written", "path", *reportPath)
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Jobs: %d\n", stats.TotalJobs)
	fmt.Printf("- Successful: %d\n", stats.SuccessfulJobs)
	fmt.Printf("- Failed: %d\n", stats.FailedJobs)
	fmt.Printf("- Pages processed: %d\n", stats.TotalPagesProcessed)
	fmt.Printf("- Throughput: %.1f jobs/min\n", stats.ThroughputJobsPerMinute)
	for _, msg := range stats.Errors {
		fmt.Printf("- Error: %s\n", msg)
	}
	if stats.ErrorsTruncated > 0 {
		fmt.Printf("- ... and %d more errors\n", stats.ErrorsTruncated)
	}
	if stats.FailedJobs > 0 {
		os.Exit(1)
	}
}
