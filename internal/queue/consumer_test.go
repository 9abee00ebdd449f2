/**
 * Queue consumer handler tests
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/faturalab/ocr-worker/internal/processor"
)

type fakeProcessor struct {
	result *processor.OCRResult
	err    error
	gotReq *processor.ProcessRequest
}

func (f *fakeProcessor) ProcessInvoice(ctx context.Context, req *processor.ProcessRequest, progress processor.ProgressFunc) (*processor.OCRResult, error) {
	f.gotReq = req
	if progress != nil {
		progress(processor.StageDone, 1.0)
	}
	return f.result, f.err
}

type fakeStore struct {
	statuses []string
	saved    bool
	saveErr  error
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, jobID, status string, progress int, metadata map[string]interface{}) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) SaveResult(ctx context.Context, jobID, userID string, result *processor.OCRResult) error {
	f.saved = true
	return f.saveErr
}

func newTestConsumer(t *testing.T, p InvoiceProcessorInterface, s ResultStore) *Consumer {
	t.Helper()
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:    "redis://localhost:6379",
		QueueName:   "invoice-ocr",
		Concurrency: 1,
		Processor:   p,
		Store:       s,
	})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return c
}

func newTask(t *testing.T, payload TaskPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(TaskTypeProcessInvoice, data)
}

func TestHandleProcessInvoice(t *testing.T) {
	p := &fakeProcessor{result: &processor.OCRResult{Confidence: 82}}
	s := &fakeStore{}
	c := newTestConsumer(t, p, s)

	task := newTask(t, TaskPayload{
		JobID:     "job-1",
		UserID:    "user-1",
		Filename:  "receipt.png",
		MimeType:  "image/png",
		ImageData: []byte("img"),
		Mode:      "vision",
	})
	if err := c.handleProcessInvoice(context.Background(), task); err != nil {
		t.Fatalf("handleProcessInvoice: %v", err)
	}

	if p.gotReq.Mode != processor.ModeVision {
		t.Errorf("mode = %v, want vision", p.gotReq.Mode)
	}
	if !s.saved {
		t.Error("result was not saved")
	}
	if len(s.statuses) != 2 || s.statuses[0] != "processing" || s.statuses[1] != "completed" {
		t.Errorf("status sequence = %v", s.statuses)
	}
}

func TestHandleProcessInvoiceFailure(t *testing.T) {
	p := &fakeProcessor{err: fmt.Errorf("recognition failed")}
	s := &fakeStore{}
	c := newTestConsumer(t, p, s)

	task := newTask(t, TaskPayload{JobID: "job-2", ImageData: []byte("img")})
	if err := c.handleProcessInvoice(context.Background(), task); err == nil {
		t.Fatal("expected handler error for failed processing")
	}

	if s.saved {
		t.Error("failed job must not save a result")
	}
	if len(s.statuses) != 2 || s.statuses[1] != "failed" {
		t.Errorf("status sequence = %v", s.statuses)
	}
}

func TestHandleProcessInvoiceBadPayload(t *testing.T) {
	c := newTestConsumer(t, &fakeProcessor{}, &fakeStore{})

	cases := map[string]TaskPayload{
		"missing jobId": {ImageData: []byte("img")},
		"missing image": {JobID: "job-3"},
	}
	for name, payload := range cases {
		if err := c.handleProcessInvoice(context.Background(), newTask(t, payload)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestResolveMode(t *testing.T) {
	cases := map[string]processor.Mode{
		"heuristic": processor.ModeHeuristic,
		"text":      processor.ModeText,
		"vision":    processor.ModeVision,
		"":          processor.ModeText,
		"bogus":     processor.ModeText,
	}
	for in, want := range cases {
		if got := resolveMode(in); got != want {
			t.Errorf("resolveMode(%q) = %v, want %v", in, got, want)
		}
	}
}
