package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/pkg/queue"
)

// EventService handles one earn or redeem event.
type EventService interface {
	OnEarn(ctx context.Context, req models.EarnRequest) (models.EarnResponse, error)
	OnRedeem(ctx context.Context, req models.RedeemRequest) (models.RedeemResponse, error)
}

// JobQueue is the subset of queue.Queue the processor uses.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
	DeadLetter(ctx context.Context, raw []byte, job *queue.Job) error
}

// errMalformed marks jobs that can never succeed and go straight to the DLQ.
var errMalformed = errors.New("malformed job")

// EventProcessor drains the event queue into the loyalty service.
type EventProcessor struct {
	svc         EventService
	queue       JobQueue
	pollTimeout time.Duration
	backoff     time.Duration
	logger      *zap.Logger
}

// NewEventProcessor creates an event processor.
func NewEventProcessor(svc EventService, q JobQueue, logger *zap.Logger) *EventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProcessor{svc: svc, queue: q, pollTimeout: 5 * time.Second, backoff: queue.RetryBackoff, logger: logger}
}

// SetBackoff sets the pause after a failed job or dequeue error.
func (p *EventProcessor) SetBackoff(d time.Duration) { p.backoff = d }

// Process executes one job. Outcomes that replaying cannot change (validation errors, unknown or
// already redeemed codes) are logged and return nil.
func (p *EventProcessor) Process(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Type {
	case queue.JobTypeEarn:
		var payload queue.EarnPayload
		if uerr := json.Unmarshal(job.Payload, &payload); uerr != nil {
			return fmt.Errorf("%w: unmarshal earn payload: %v", errMalformed, uerr)
		}
		amount := payload.EarnedAmount
		var resp models.EarnResponse
		resp, err = p.svc.OnEarn(ctx, models.EarnRequest{CustomerID: payload.CustomerID, OrderID: payload.OrderID, EarnedAmount: &amount})
		if err == nil {
			p.logger.Info("earn job completed",
				zap.String("job_id", job.ID),
				zap.String("customer_id", payload.CustomerID),
				zap.Int("new_codes", len(resp.NewCodes)),
				zap.Int64("balance", resp.Balance),
			)
		}
	case queue.JobTypeRedeem:
		var payload queue.RedeemPayload
		if uerr := json.Unmarshal(job.Payload, &payload); uerr != nil {
			return fmt.Errorf("%w: unmarshal redeem payload: %v", errMalformed, uerr)
		}
		var resp models.RedeemResponse
		resp, err = p.svc.OnRedeem(ctx, models.RedeemRequest{CustomerID: payload.CustomerID, Code: payload.Code})
		if err == nil {
			p.logger.Info("redeem job completed", zap.String("job_id", job.ID), zap.String("customer_id", payload.CustomerID), zap.String("message", resp.Message))
		}
	default:
		return fmt.Errorf("%w: unknown job type %q", errMalformed, job.Type)
	}

	if err != nil && !errs.Retryable(err) {
		p.logger.Warn("job dropped", zap.String("job_id", job.ID), zap.String("code", string(errs.CodeOf(err))), zap.Error(err))
		return nil
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EventProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("event worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		p.handle(ctx, job)
	}
}

func (p *EventProcessor) handle(ctx context.Context, job *queue.Job) {
	err := p.Process(ctx, job)
	if err == nil {
		return
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))

	// Use a fresh context so a shutdown mid-job still requeues it.
	requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errors.Is(err, errMalformed) {
		job.LastError = err.Error()
		raw, merr := json.Marshal(job)
		if merr != nil {
			p.logger.Error("marshal job for dlq failed", zap.Error(merr))
			return
		}
		if dlqErr := p.queue.DeadLetter(requeueCtx, raw, job); dlqErr != nil {
			p.logger.Error("dlq push failed", zap.Error(dlqErr))
		}
		return
	}
	if _, reErr := p.queue.Retry(requeueCtx, job, err); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	p.sleep(ctx)
}

func (p *EventProcessor) sleep(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
