package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLeases implements SET NX and the two lease scripts over a map.
type fakeLeases struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{values: make(map[string]string)}
}

func (f *fakeLeases) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	if _, held := f.values[key]; held {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeLeases) run(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] != args[0] {
		cmd.SetVal(int64(0))
		return cmd
	}
	if sha == releaseScript.Hash() {
		delete(f.values, keys[0])
	}
	cmd.SetVal(int64(1))
	return cmd
}

func (f *fakeLeases) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, redis.NewScript(script).Hash(), keys, args...)
}

func (f *fakeLeases) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, sha, keys, args...)
}

func (f *fakeLeases) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeLeases) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeLeases) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}

func (f *fakeLeases) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func (f *fakeLeases) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	leases := newFakeLeases()
	l := NewRedis(leases, RedisConfig{PollInterval: time.Millisecond}, nil)

	_, release, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)
	assert.True(t, leases.held("loyalty:lock:customer:1"))

	release()
	release()
	assert.False(t, leases.held("loyalty:lock:customer:1"))
}

func TestRedis_SecondAcquirerWaits(t *testing.T) {
	leases := newFakeLeases()
	l := NewRedis(leases, RedisConfig{PollInterval: time.Millisecond}, nil)
	_, release, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = l.Acquire(ctx, "customer:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	_, again, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)
	again()
}

func TestRedis_ReleaseDoesNotDeleteForeignLease(t *testing.T) {
	leases := newFakeLeases()
	l := NewRedis(leases, RedisConfig{PollInterval: time.Millisecond}, nil)
	_, release, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)

	leases.mu.Lock()
	leases.values["loyalty:lock:customer:1"] = "someone-else"
	leases.mu.Unlock()
	release()

	assert.True(t, leases.held("loyalty:lock:customer:1"))
}

func TestRedis_StoreErrorIsLockUnavailable(t *testing.T) {
	leases := newFakeLeases()
	leases.setErr = errors.New("connection refused")
	l := NewRedis(leases, RedisConfig{}, nil)

	_, _, err := l.Acquire(context.Background(), "customer:1")

	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestRedis_LostLeaseCancelsHeldContext(t *testing.T) {
	leases := newFakeLeases()
	l := NewRedis(leases, RedisConfig{TTL: 30 * time.Millisecond, PollInterval: time.Millisecond}, nil)
	held, release, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)
	defer release()

	leases.mu.Lock()
	leases.values["loyalty:lock:customer:1"] = "someone-else"
	leases.mu.Unlock()

	select {
	case <-held.Done():
	case <-time.After(time.Second):
		t.Fatal("held context not cancelled after the lease was taken")
	}
	assert.ErrorIs(t, context.Cause(held), ErrLeaseLost)
}

func TestRedis_ReleaseCancelsHeldContext(t *testing.T) {
	leases := newFakeLeases()
	l := NewRedis(leases, RedisConfig{PollInterval: time.Millisecond}, nil)
	held, release, err := l.Acquire(context.Background(), "customer:1")
	require.NoError(t, err)

	release()

	assert.ErrorIs(t, held.Err(), context.Canceled)
	assert.ErrorIs(t, context.Cause(held), context.Canceled)
}
