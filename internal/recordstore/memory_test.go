package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/pkg/metrics"
	"github.com/dogdollars/loyalty/pkg/retry"
)

func TestMemory_VersionedWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v1, err := m.Set(ctx, "c1", "k", "a", "")
	require.NoError(t, err)
	v2, err := m.Set(ctx, "c1", "k", "b", v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = m.Set(ctx, "c1", "k", "c", v1)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	attrs, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "b", attrs["k"].Value)
}

func TestRetrying_ConflictIsNotRetried(t *testing.T) {
	m := NewMemory()
	calls := 0
	m.SetSetHook(func(string, string, string) error {
		calls++
		return nil
	})
	m.Put("c1", "k", "a")
	store := WithRetry(m, retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil, nil)

	_, err := store.Set(context.Background(), "c1", "k", "b", "stale")

	assert.True(t, errors.Is(err, errs.ErrConflict))
	assert.Equal(t, 1, calls)
}

func TestRetrying_TransientThenSuccess(t *testing.T) {
	m := NewMemory()
	failures := 2
	m.SetGetHook(func(string) error {
		if failures > 0 {
			failures--
			return errors.New("timeout")
		}
		return nil
	})
	store := WithRetry(m, retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil, nil)

	_, err := store.Get(context.Background(), "c1")
	assert.NoError(t, err)
}

func TestRetrying_RecordsCallMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMemory()
	m.SetGetHook(func(string) error { return errors.New("timeout") })
	store := WithRetry(m, retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond}, metrics.New(reg), nil)

	_, err := store.Get(context.Background(), "c1")
	require.True(t, errors.Is(err, errs.ErrStoreUnavailable))
	_, err = store.Set(context.Background(), "c1", "k", "v", "")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "loyalty_external_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "loyalty_external_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
