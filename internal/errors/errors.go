package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the invoice OCR worker
 *
 * Design Pattern: Factory Pattern for error creation
 * SOLID Principle: Single Responsibility (each error type has one purpose)
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorImageDecodeFailed  ErrorCode = "IMAGE_DECODE_FAILED"
	ErrorRecognitionFailed  ErrorCode = "RECOGNITION_FAILED"
	ErrorAIExtractionFailed ErrorCode = "AI_EXTRACTION_FAILED"

	// Worker errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches ProcessingErrors by code so callers can branch on the taxonomy
// with errors.Is instead of type switches.
func (e *ProcessingError) Is(target error) bool {
	var pe *ProcessingError
	if !errors.As(target, &pe) {
		return false
	}
	return e.Code == pe.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrImageDecode  = &ProcessingError{Code: ErrorImageDecodeFailed}
	ErrRecognition  = &ProcessingError{Code: ErrorRecognitionFailed}
	ErrAIExtraction = &ProcessingError{Code: ErrorAIExtractionFailed}
)

// Factory functions for common errors

func NewImageDecodeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecodeFailed,
		Message:   "Uploaded file could not be decoded as an image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRecognitionError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Message:   "Text recognition failed",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewAIExtractionError(jobID string, model string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAIExtractionFailed,
		Message:   fmt.Sprintf("AI extraction call failed (model: %s)", model),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model": model,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store extraction results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
