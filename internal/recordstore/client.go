// Package recordstore abstracts the external per-customer attribute store.
//
// Backends make no atomicity promise: Set may ignore expectedVersion entirely. Callers own every
// read-modify-write sequence and must serialize writers per customer themselves.
package recordstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/pkg/metrics"
	"github.com/dogdollars/loyalty/pkg/retry"
)

// Attribute is one stored value plus the backend's opaque version token (may be empty).
type Attribute struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version string `json:"version,omitempty"`
}

// Client is the consumed Record Store interface. Keys are scoped to the client's namespace.
type Client interface {
	// Get returns every attribute of the customer; an unknown customer yields an empty map.
	Get(ctx context.Context, customerID string) (map[string]Attribute, error)
	// Set writes one attribute and returns its new version token. expectedVersion is advisory.
	Set(ctx context.Context, customerID, key, value, expectedVersion string) (string, error)
}

// Retrying decorates a Client with bounded retries and error classification.
type Retrying struct {
	next    Client
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// WithRetry wraps next so every call has a timeout, is retried on transient failure,
// and surfaces failures as errs.ErrStoreUnavailable (or errs.ErrConflict).
// Call latency and failures are recorded in m, which may be nil.
func WithRetry(next Client, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, metrics: m, logger: logger}
}

// Get implements Client.
func (r *Retrying) Get(ctx context.Context, customerID string) (map[string]Attribute, error) {
	var out map[string]Attribute
	start := time.Now()
	err := retry.Do(ctx, r.policy, r.logger, "recordstore.get", func(ctx context.Context) error {
		attrs, err := r.next.Get(ctx, customerID)
		if err != nil {
			return permanentIfCoded(err)
		}
		out = attrs
		return nil
	})
	r.metrics.ObserveExternalCall("recordstore", "get", time.Since(start), err)
	if err != nil {
		return nil, errs.Unavailable("recordstore.get", err)
	}
	return out, nil
}

// Set implements Client.
func (r *Retrying) Set(ctx context.Context, customerID, key, value, expectedVersion string) (string, error) {
	var version string
	start := time.Now()
	err := retry.Do(ctx, r.policy, r.logger, "recordstore.set", func(ctx context.Context) error {
		v, err := r.next.Set(ctx, customerID, key, value, expectedVersion)
		if err != nil {
			return permanentIfCoded(err)
		}
		version = v
		return nil
	})
	r.metrics.ObserveExternalCall("recordstore", "set", time.Since(start), err)
	if err != nil {
		return "", errs.Unavailable("recordstore.set", err)
	}
	return version, nil
}

func permanentIfCoded(err error) error {
	var de *errs.DomainError
	if errors.As(err, &de) {
		return retry.Permanent(err)
	}
	return err
}
