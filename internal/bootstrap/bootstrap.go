// Package bootstrap assembles the loyalty service from configuration. The HTTP server and the
// queue worker share it so both run the same adapters.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/config"
	"github.com/dogdollars/loyalty/internal/account"
	"github.com/dogdollars/loyalty/internal/issuance"
	"github.com/dogdollars/loyalty/internal/ledger"
	"github.com/dogdollars/loyalty/internal/lock"
	"github.com/dogdollars/loyalty/internal/loyalty"
	"github.com/dogdollars/loyalty/internal/promo"
	"github.com/dogdollars/loyalty/internal/recordstore"
	"github.com/dogdollars/loyalty/internal/registry"
	"github.com/dogdollars/loyalty/internal/shopify"
	"github.com/dogdollars/loyalty/pkg/database"
	"github.com/dogdollars/loyalty/pkg/metrics"
	"github.com/dogdollars/loyalty/pkg/queue"
	"github.com/dogdollars/loyalty/pkg/redis"
	"github.com/dogdollars/loyalty/pkg/retry"
	"github.com/dogdollars/loyalty/pkg/storage"
)

// App is the assembled service and the resources it owns.
type App struct {
	Service *loyalty.Service
	// Queue is nil when Redis is not reachable and not required.
	Queue   *queue.Queue
	Metrics *metrics.Metrics

	closers []func()
	logger  *zap.Logger
}

// Options adjusts Build.
type Options struct {
	// RequireQueue fails Build when Redis is unreachable.
	RequireQueue bool
	// Registerer receives the engine's collectors; prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
}

// Build connects every selected backend and wires the service.
func Build(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		CallTimeout:    cfg.Retry.CallTimeout,
	}

	var api *shopify.Client
	if cfg.Shopify.ShopName != "" && cfg.Shopify.AccessToken != "" {
		api = shopify.NewClient(shopify.Config{
			ShopName:          cfg.Shopify.ShopName,
			AccessToken:       cfg.Shopify.AccessToken,
			APIVersion:        cfg.Shopify.APIVersion,
			RequestsPerSecond: cfg.Shopify.RequestsPerSecond,
			Burst:             cfg.Shopify.Burst,
		}, logger)
	}

	app.Metrics = metrics.New(opts.Registerer)

	records, err := app.recordStore(ctx, cfg, api)
	if err != nil {
		return nil, err
	}
	records = recordstore.WithRetry(records, policy, app.Metrics, logger)

	var engine promo.Engine
	switch cfg.Backends.PromoEngine {
	case config.PromoEngineShopify:
		engine = promo.WithRetry(promo.NewShopify(api, cfg.Shopify.PriceRuleID, logger), policy, app.Metrics, logger)
	default:
		logger.Warn("using in-memory promo engine; codes will not exist in the storefront")
		engine = promo.NewMemory()
	}

	rdb, err := app.redis(ctx, cfg, opts.RequireQueue || cfg.NeedsRedis())
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Backends.Lock == config.LockRedis {
		locker = lock.NewRedis(rdb.Client, lock.RedisConfig{TTL: cfg.Redis.LockTTL}, logger)
	}
	if rdb != nil {
		app.Queue = queue.NewQueue(rdb.Client, logger)
	}

	clock := time.Now
	accounts := account.NewStore(records, clock, logger)
	l := ledger.New(accounts, clock, app.Metrics, logger)
	reg := registry.New(accounts, clock, logger)
	issuer := issuance.New(issuance.Config{
		Cost:            cfg.Loyalty.CodeCost,
		DiscountPercent: cfg.Loyalty.DiscountPercent,
		Validity:        cfg.Loyalty.Validity(),
	}, engine, reg, l, clock, logger)
	app.Service = loyalty.NewService(locker, l, reg, issuer, app.Metrics, logger)

	logger.Info("loyalty service assembled",
		zap.String("record_store", cfg.Backends.RecordStore),
		zap.String("promo_engine", cfg.Backends.PromoEngine),
		zap.String("lock", cfg.Backends.Lock),
		zap.Bool("queue", app.Queue != nil),
	)
	ok = true
	return app, nil
}

func (a *App) recordStore(ctx context.Context, cfg *config.Config, api *shopify.Client) (recordstore.Client, error) {
	switch cfg.Backends.RecordStore {
	case config.RecordStoreShopify:
		return recordstore.NewShopify(api, cfg.Loyalty.Namespace, a.logger), nil
	case config.RecordStorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), a.logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.Migrate(ctx, pool, a.logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return recordstore.NewPostgres(pool, cfg.Loyalty.Namespace), nil
	case config.RecordStoreS3:
		objects, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.Bucket,
			Endpoint:        cfg.AWS.Endpoint,
			UsePathStyle:    cfg.AWS.UsePathStyle,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return recordstore.NewS3(objects, cfg.AWS.Prefix, cfg.Loyalty.Namespace), nil
	case config.RecordStoreMemory:
		a.logger.Warn("using in-memory record store; balances are lost on restart")
		return recordstore.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown record store %q", cfg.Backends.RecordStore)
}

func (a *App) redis(ctx context.Context, cfg *config.Config, required bool) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := redis.NewClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, a.logger)
	if err != nil {
		if required {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.logger.Warn("redis unavailable, webhook intake disabled", zap.Error(err))
		return nil, nil
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
