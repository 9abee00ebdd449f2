/**
 * Queue Consumer for the invoice OCR worker
 *
 * Consumes invoice:process tasks from Redis via Asynq. Each task carries one
 * uploaded image; the handler runs the OCR pipeline under a per-job timeout,
 * persists the outcome and mirrors lifecycle plus per-stage progress into
 * Redis for the upload UI.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/faturalab/ocr-worker/internal/errors"
	"github.com/faturalab/ocr-worker/internal/processor"
)

// TaskTypeProcessInvoice is the Asynq task type this worker consumes.
const TaskTypeProcessInvoice = "invoice:process"

// TaskPayload is the JSON payload of an invoice:process task. ImageData is
// base64 in the wire JSON; encoding/json handles the []byte conversion.
type TaskPayload struct {
	JobID     string `json:"jobId"`
	UserID    string `json:"userId"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType,omitempty"`
	ImageData []byte `json:"imageData"`
	Mode      string `json:"mode,omitempty"`
}

// InvoiceProcessorInterface is the pipeline contract the consumer drives.
type InvoiceProcessorInterface interface {
	ProcessInvoice(ctx context.Context, req *processor.ProcessRequest, progress processor.ProgressFunc) (*processor.OCRResult, error)
}

// ResultStore persists job state and final extraction results.
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
	SaveResult(ctx context.Context, jobID, userID string, result *processor.OCRResult) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	ProcessingTimeout int64 // milliseconds
	Processor         InvoiceProcessorInterface
	Store             ResultStore
	Progress          *ProgressPublisher
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor InvoiceProcessorInterface
	store     ResultStore
	progress  *ProgressPublisher
	config    *ConsumerConfig
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		store:     cfg.Store,
		progress:  cfg.Progress,
		config:    cfg,
	}

	mux.HandleFunc(TaskTypeProcessInvoice, consumer.handleProcessInvoice)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleProcessInvoice processes one invoice OCR task
func (c *Consumer) handleProcessInvoice(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload missing jobId")
	}
	if len(payload.ImageData) == 0 {
		return fmt.Errorf("task payload missing image data")
	}

	log.Printf("[Job %s] Processing invoice: filename=%s, size=%d bytes, user=%s",
		payload.JobID, payload.Filename, len(payload.ImageData), payload.UserID)

	c.markStarted(ctx, payload.JobID)

	timeout := 120 * time.Second
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessInvoice(processCtx, &processor.ProcessRequest{
		JobID:     payload.JobID,
		UserID:    payload.UserID,
		Filename:  payload.Filename,
		MimeType:  payload.MimeType,
		ImageData: payload.ImageData,
		Mode:      resolveMode(payload.Mode),
	}, c.progressFunc(ctx, payload.JobID))

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v", payload.JobID, duration)
			timeoutErr := errors.NewProcessingTimeoutError(payload.JobID, timeout, err)
			c.markFailed(ctx, payload.JobID, timeoutErr)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		log.Printf("[Job %s] Processing failed after %v: %v", payload.JobID, duration, err)
		c.markFailed(ctx, payload.JobID, err)
		return fmt.Errorf("invoice processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed in %v: confidence=%.1f, aiEnhanced=%v",
		payload.JobID, duration, result.Confidence, result.AIEnhanced)

	c.markCompleted(ctx, payload.JobID, payload.UserID, result, duration)

	return nil
}

// progressFunc bridges the pipeline's progress callback onto the Redis
// event channel. Uses the outer context so final updates still go out when
// the per-job timeout fires.
func (c *Consumer) progressFunc(ctx context.Context, jobID string) processor.ProgressFunc {
	if c.progress == nil {
		return nil
	}
	return func(stage string, fraction float64) {
		c.progress.JobProgress(ctx, jobID, stage, fraction)
	}
}

func (c *Consumer) markStarted(ctx context.Context, jobID string) {
	if c.progress != nil {
		c.progress.JobStarted(ctx, jobID)
	}
	if c.store != nil {
		if err := c.store.UpdateJobStatus(ctx, jobID, "processing", 0, nil); err != nil {
			log.Printf("[Job %s] Warning: Failed to update status to processing: %v", jobID, err)
		}
	}
}

func (c *Consumer) markCompleted(ctx context.Context, jobID, userID string, result *processor.OCRResult, duration time.Duration) {
	if c.progress != nil {
		c.progress.JobCompleted(ctx, jobID, result)
	}
	if c.store == nil {
		return
	}
	if err := c.store.SaveResult(ctx, jobID, userID, result); err != nil {
		log.Printf("[Job %s] Warning: Failed to save result: %v", jobID, err)
	}
	if err := c.store.UpdateJobStatus(ctx, jobID, "completed", 100, map[string]interface{}{
		"confidence":     result.Confidence,
		"aiEnhanced":     result.AIEnhanced,
		"processingTime": duration.Milliseconds(),
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", jobID, err)
	}
}

func (c *Consumer) markFailed(ctx context.Context, jobID string, jobErr error) {
	if c.progress != nil {
		c.progress.JobFailed(ctx, jobID, jobErr)
	}
	if c.store != nil {
		if err := c.store.UpdateJobStatus(ctx, jobID, "failed", 100, map[string]interface{}{
			"error": jobErr.Error(),
		}); err != nil {
			log.Printf("[Job %s] Warning: Failed to update status to failed: %v", jobID, err)
		}
	}
}

// resolveMode maps the wire mode string onto a pipeline mode, defaulting to
// text enhancement for unknown values.
func resolveMode(mode string) processor.Mode {
	switch processor.Mode(mode) {
	case processor.ModeHeuristic, processor.ModeText, processor.ModeVision:
		return processor.Mode(mode)
	default:
		return processor.ModeText
	}
}
