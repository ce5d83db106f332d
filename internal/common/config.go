package common

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Processing ProcessingConfig
	OCR        OCRConfig
	Queue      QueueConfig
	Batch      BatchConfig
	Server     ServerConfig
	History    HistoryConfig
}

// ProcessingConfig holds per-document processing limits
type ProcessingConfig struct {
	MaxFileSizeMB     int
	ExtractionTimeout time.Duration
	MaxMemoryMB       int
	MemoryMonitoring  bool
}

// OCRConfig holds OCR escalation configuration
type OCRConfig struct {
	Enabled       bool
	Language      string
	WordThreshold int // minimum words per page before OCR is attempted
	DPI           int
	MaxAttempts   int
	RetryDelay    time.Duration
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
}

// QueueConfig holds task queue configuration
type QueueConfig struct {
	Workers        int
	Size           int
	RetentionHours int
}

// BatchConfig holds batch orchestrator configuration
type BatchConfig struct {
	MaxWorkers int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Addr string
}

// HistoryConfig holds the processing-history store configuration
type HistoryConfig struct {
	DBPath string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Processing: ProcessingConfig{
			MaxFileSizeMB:     getEnvAsInt("MAX_FILE_SIZE_MB", 100),
			ExtractionTimeout: getEnvAsDuration("EXTRACTION_TIMEOUT", 5*time.Minute),
			MaxMemoryMB:       getEnvAsInt("MAX_MEMORY_MB", 512),
			MemoryMonitoring:  getEnvAsBool("MEMORY_MONITORING", true),
		},
		OCR: OCRConfig{
			Enabled:       getEnvAsBool("OCR_ENABLED", true),
			Language:      getEnv("OCR_LANGUAGE", "eng"),
			WordThreshold: getEnvAsInt("OCR_WORD_THRESHOLD", 50),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxAttempts:   getEnvAsInt("OCR_MAX_ATTEMPTS", 2),
			RetryDelay:    getEnvAsDuration("OCR_RETRY_DELAY", time.Second),
			Pdftotext:     getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 4),
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			RetentionHours: getEnvAsInt("QUEUE_RETENTION_HOURS", 24),
		},
		Batch: BatchConfig{
			MaxWorkers: getEnvAsInt("BATCH_MAX_WORKERS", runtime.NumCPU()),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		History: HistoryConfig{
			DBPath: getEnv("HISTORY_DB_PATH", "./docpipe-history.db"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration, failing fast on bad values.
func (c *Config) Validate() error {
	if c.Processing.MaxFileSizeMB <= 0 {
		return ValidationError("MAX_FILE_SIZE_MB must be positive", ErrInvalidInput)
	}
	if c.Processing.ExtractionTimeout <= 0 {
		return ValidationError("EXTRACTION_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Processing.MaxMemoryMB <= 0 {
		return ValidationError("MAX_MEMORY_MB must be positive", ErrInvalidInput)
	}
	if c.OCR.WordThreshold < 0 {
		return ValidationError("OCR_WORD_THRESHOLD must not be negative", ErrInvalidInput)
	}
	if c.OCR.MaxAttempts < 1 {
		return ValidationError("OCR_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 || c.Queue.Size <= 0 {
		return ValidationError("QUEUE_WORKERS and QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Batch.MaxWorkers <= 0 {
		return ValidationError("BATCH_MAX_WORKERS must be positive", ErrInvalidInput)
	}
	return nil
}
