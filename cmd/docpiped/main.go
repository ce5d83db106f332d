package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"docpipe/internal/common"
	"docpipe/internal/extract"
	"docpipe/internal/server"
	"docpipe/internal/task"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
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

	queue := task.NewQueue(extractor, logger,
		task.WithWorkers(cfg.Queue.Workers),
		task.WithQueueSize(cfg.Queue.Size),
		task.WithProcessTimeout(cfg.Processing.ExtractionTimeout),
		task.WithErrorHandler(func(jobID string, err error) {
			logger.Error("job terminated in failure", "job_id", jobID, "error", err)
		}),
	)
	queue.Start()

	srv := server.New(queue, logger)

	// Sweep aged terminal jobs on a fixed interval.
	retention := time.Duration(cfg.Queue.RetentionHours) * time.Hour
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()
	go func() {
		for range cleanupTicker.C {
			queue.Cleanup(retention)
		}
	}()

	go func() {
		if err := srv.Start(cfg.Server.Addr); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()
	logger.Info("docpiped started", "addr", cfg.Server.Addr, "workers", cfg.Queue.Workers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	queue.Stop()
}
