package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrLockUnavailable is returned when the lease store cannot be reached.
	ErrLockUnavailable = errors.New("lock store unavailable")
	// ErrLeaseLost is the cancellation cause of a held context whose lease expired or was taken.
	ErrLeaseLost = errors.New("lock lease lost")
)

var (
	releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisConfig tunes the lease lock.
type RedisConfig struct {
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

// Redis is a lease lock for multi-instance deployments: SET NX PX with a random token, kept alive
// while held and released only by its owner. There is no fencing token: if the lease is lost the
// held context is cancelled with ErrLeaseLost, and writes already in flight may still land.
type Redis struct {
	client redisClient
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedis creates a lease lock over client (normally *redis.Client).
func NewRedis(client redisClient, cfg RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "loyalty:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := r.cfg.Prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
	if waited := time.Since(start); waited > r.cfg.PollInterval {
		r.logger.Debug("lock acquired after wait", zap.String("key", key), zap.Duration("waited", waited))
	}

	held, endHeld := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	go r.keepAlive(redisKey, token, stop, endHeld)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			close(stop)
			endHeld(nil)
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("lock release failed; lease will expire", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (r *Redis) keepAlive(redisKey, token string, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(r.cfg.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL/3)
			n, err := extendScript.Run(ctx, r.client, []string{redisKey}, token, r.cfg.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				r.logger.Warn("lock extend failed", zap.String("key", redisKey), zap.Error(err))
				continue
			}
			if n == 0 {
				r.logger.Error("lock lease lost", zap.String("key", redisKey))
				lost(ErrLeaseLost)
				return
			}
		}
	}
}
