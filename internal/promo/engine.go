// Package promo materializes reward codes as redeemable discounts in the storefront.
package promo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/pkg/metrics"
	"github.com/dogdollars/loyalty/pkg/retry"
)

// CodeRequest describes one discount to create. Code doubles as the idempotency key.
type CodeRequest struct {
	Code            string
	CustomerID      string
	OrderID         string
	Index           int
	DiscountPercent decimal.Decimal
	StartsAt        time.Time
	EndsAt          time.Time
}

// Engine creates single-use, whole-order percentage discounts.
type Engine interface {
	// CreateCode must be idempotent on req.Code: creating an existing code succeeds.
	CreateCode(ctx context.Context, req CodeRequest) (string, error)
}

// Retrying decorates an Engine with bounded retries and maps failures to errs.ErrCodeGeneration.
type Retrying struct {
	next    Engine
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// WithRetry wraps next. m may be nil.
func WithRetry(next Engine, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, metrics: m, logger: logger}
}

// CreateCode implements Engine.
func (r *Retrying) CreateCode(ctx context.Context, req CodeRequest) (string, error) {
	var code string
	start := time.Now()
	err := retry.Do(ctx, r.policy, r.logger, "promo.create_code", func(ctx context.Context) error {
		c, err := r.next.CreateCode(ctx, req)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	r.metrics.ObserveExternalCall("promo", "create_code", time.Since(start), err)
	if err != nil {
		var de *errs.DomainError
		if errors.As(err, &de) {
			return "", err
		}
		return "", errs.ErrCodeGeneration.WithContext("code", req.Code).Wrap(err)
	}
	return code, nil
}
