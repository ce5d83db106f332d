package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes used across the processing core.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeFileSystem = "FILESYSTEM_ERROR"
	CodeExtraction = "EXTRACTION_ERROR"
	CodeOCR        = "OCR_ERROR"
	CodeResource   = "RESOURCE_ERROR"
	CodeTimeout    = "TIMEOUT_ERROR"
	CodeRetryable  = "RETRYABLE_ERROR"
	CodeCritical   = "CRITICAL_ERROR"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ValidationError(message string, cause error) *AppError {
	return NewAppError(CodeValidation, message, cause)
}

func FileSystemError(message string, cause error) *AppError {
	return NewAppError(CodeFileSystem, message, cause)
}

func ExtractionError(message string, cause error) *AppError {
	return NewAppError(CodeExtraction, message, cause)
}

func OCRError(message string, cause error) *AppError {
	return NewAppError(CodeOCR, message, cause)
}

func ResourceExhaustedError(message string, cause error) *AppError {
	return NewAppError(CodeResource, message, cause)
}

func TimeoutError(message string, cause error) *AppError {
	return NewAppError(CodeTimeout, message, cause)
}

func RetryableError(message string, cause error) *AppError {
	return NewAppError(CodeRetryable, message, cause)
}

func CriticalError(message string, cause error) *AppError {
	return NewAppError(CodeCritical, message, cause)
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var ae *AppError
	for errors.As(err, &ae) {
		if ae.Code == code {
			return true
		}
		err = ae.Cause
		if err == nil {
			return false
		}
		ae = nil
	}
	return false
}

// IsRetryable reports whether err is a transient failure worth retrying.
// OCR failures are transient (the engine can flake on a single page);
// critical errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeCritical) {
		return false
	}
	return HasCode(err, CodeRetryable) || HasCode(err, CodeOCR)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
