package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewImageDecodeError("job-1", fmt.Errorf("bad magic bytes"))

	if !errors.Is(err, ErrImageDecode) {
		t.Error("decode error should match ErrImageDecode")
	}
	if errors.Is(err, ErrRecognition) {
		t.Error("decode error must not match ErrRecognition")
	}

	wrapped := fmt.Errorf("pipeline: %w", err)
	if !errors.Is(wrapped, ErrImageDecode) {
		t.Error("matching should survive wrapping")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewAIExtractionError("job-2", "gemini-2.0-flash-exp", cause)

	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestToMap(t *testing.T) {
	err := NewProcessingTimeoutError("job-3", 2*time.Minute, fmt.Errorf("deadline exceeded"))
	m := err.ToMap()

	if m["error_code"] != "PROCESSING_TIMEOUT" {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["timeout_duration"] != "2m0s" {
		t.Errorf("timeout_duration = %v", m["timeout_duration"])
	}
	if m["cause"] != "deadline exceeded" {
		t.Errorf("cause = %v", m["cause"])
	}
}
