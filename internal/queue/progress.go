/**
 * Redis progress publisher
 *
 * Mirrors each job's lifecycle into Redis so the upload UI can stream it:
 * - membership sets (<queue>:processing / :completed / :failed) for cheap
 *   queue introspection
 * - result and error hashes keyed by job ID
 * - a pub/sub channel (<queue>:events) carrying per-stage progress events
 *   for WebSocket forwarding
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faturalab/ocr-worker/internal/logging"
)

// ProgressPublisher pushes job state and pipeline progress into Redis.
type ProgressPublisher struct {
	client    *redis.Client
	queueName string
	logger    *logging.Logger
}

// NewProgressPublisher creates a publisher on the given Redis URL.
func NewProgressPublisher(redisURL, queueName string) (*ProgressPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &ProgressPublisher{
		client:    redis.NewClient(opt),
		queueName: queueName,
		logger:    logging.NewLogger("ProgressPublisher"),
	}, nil
}

// JobStarted marks a job as in flight.
func (p *ProgressPublisher) JobStarted(ctx context.Context, jobID string) {
	p.client.SAdd(ctx, p.key("processing"), jobID)
	p.publish(ctx, map[string]interface{}{
		"event": "job:processing",
		"jobId": jobID,
	})
}

// JobProgress publishes one pipeline progress update.
func (p *ProgressPublisher) JobProgress(ctx context.Context, jobID, stage string, fraction float64) {
	p.publish(ctx, map[string]interface{}{
		"event":    "job:progress",
		"jobId":    jobID,
		"stage":    stage,
		"fraction": fraction,
	})
}

// JobCompleted records the final result and moves the job to the completed set.
func (p *ProgressPublisher) JobCompleted(ctx context.Context, jobID string, result interface{}) {
	p.client.SRem(ctx, p.key("processing"), jobID)
	p.client.SAdd(ctx, p.key("completed"), jobID)
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			p.client.HSet(ctx, p.key("results"), jobID, data)
		}
	}
	p.publish(ctx, map[string]interface{}{
		"event": "job:completed",
		"jobId": jobID,
	})
}

// JobFailed records the failure and moves the job to the failed set.
func (p *ProgressPublisher) JobFailed(ctx context.Context, jobID string, jobErr error) {
	p.client.SRem(ctx, p.key("processing"), jobID)
	p.client.SAdd(ctx, p.key("failed"), jobID)
	if jobErr != nil {
		errorData, _ := json.Marshal(map[string]interface{}{"error": jobErr.Error()})
		p.client.HSet(ctx, p.key("errors"), jobID, errorData)
	}
	p.publish(ctx, map[string]interface{}{
		"event": "job:failed",
		"jobId": jobID,
	})
}

// Stats returns the current set sizes for queue introspection.
func (p *ProgressPublisher) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, state := range []string{"processing", "completed", "failed"} {
		n, err := p.client.SCard(ctx, p.key(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s set: %w", state, err)
		}
		stats[state] = n
	}
	return stats, nil
}

// Close releases the Redis connection.
func (p *ProgressPublisher) Close() error {
	return p.client.Close()
}

func (p *ProgressPublisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", p.queueName, suffix)
}

func (p *ProgressPublisher) publish(ctx context.Context, event map[string]interface{}) {
	event["timestamp"] = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.client.Publish(ctx, p.key("events"), data).Err(); err != nil {
		p.logger.Debug("Failed to publish event", "error", err)
	}
}
