// Package queue carries loyalty events between the webhook intake and the worker over Redis lists.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEvents is the Redis list key for earn and redeem jobs.
	QueueEvents = "loyalty:events"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "loyalty:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEarn   JobType = "earn"
	JobTypeRedeem JobType = "redeem"
)

// EarnPayload is the payload for earn jobs.
type EarnPayload struct {
	CustomerID   string `json:"customer_id"`
	OrderID      string `json:"order_id"`
	EarnedAmount int64  `json:"earned_amount"`
}

// RedeemPayload is the payload for redeem jobs.
type RedeemPayload struct {
	CustomerID string `json:"customer_id"`
	Code       string `json:"code"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client listClient
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client listClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueEarn enqueues an earn job and returns its id.
func (q *Queue) EnqueueEarn(ctx context.Context, payload EarnPayload) (string, error) {
	id, err := q.enqueue(ctx, JobTypeEarn, payload)
	if err != nil {
		return "", err
	}
	q.logger.Debug("enqueued earn job", zap.String("job_id", id), zap.String("customer_id", payload.CustomerID), zap.String("order_id", payload.OrderID))
	return id, nil
}

// EnqueueRedeem enqueues a redeem job and returns its id.
func (q *Queue) EnqueueRedeem(ctx context.Context, payload RedeemPayload) (string, error) {
	id, err := q.enqueue(ctx, JobTypeRedeem, payload)
	if err != nil {
		return "", err
	}
	q.logger.Debug("enqueued redeem job", zap.String("job_id", id), zap.String("customer_id", payload.CustomerID))
	return id, nil
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueEvents, raw).Err(); err != nil {
		return "", fmt.Errorf("rpush: %w", err)
	}
	return job.ID, nil
}

// Dequeue blocks until a job is available, timeout passes, or ctx is done. A nil job with a nil
// error means nothing was available or the entry was unreadable.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueEvents).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
// It reports whether the job went to the DLQ.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxRetries {
		return true, q.DeadLetter(ctx, raw, job)
	}
	if err := q.client.RPush(ctx, QueueEvents, raw).Err(); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// DeadLetter pushes raw to the DLQ.
func (q *Queue) DeadLetter(ctx context.Context, raw []byte, job *Job) error {
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.String("last_error", job.LastError))
	return nil
}
