// Package app wires the stores and services shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/toko-promo/internal/cart"
	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/checkout"
	"github.com/noah-isme/toko-promo/internal/config"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/db"
	"github.com/noah-isme/toko-promo/internal/events"
	"github.com/noah-isme/toko-promo/internal/lock"
	"github.com/noah-isme/toko-promo/internal/obs"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/ratelimit"
	"github.com/noah-isme/toko-promo/internal/resilience"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

// Dependencies holds the connections and services a command runs with.
type Dependencies struct {
	Config          *config.Config
	Logger          zerolog.Logger
	DB              *pgxpool.Pool
	Redis           *redis.Client
	TaskClient      *asynq.Client
	MetricsRegistry *prometheus.Registry

	Catalog      catalog.CachedCatalog
	CatalogCache *catalog.Cache
	Promotions   promotion.PostgresStore
	Rates        shipping.PostgresRates
	Coupons      coupon.PostgresStore
	Carts        *cart.Service
	Checkout     *checkout.Service
}

// NewPool opens a pgx pool with query tracing.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return pool, nil
}

// NewRedis opens a traced Redis client.
func NewRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis: %w", err)
	}
	return client, nil
}

// TaskRedis returns the asynq connection options for redisURL.
func TaskRedis(redisURL string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// New connects to Postgres and Redis and assembles the cart and checkout services.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.AutoMigrate {
		if err := db.Up(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info().Msg("migrations applied")
	}

	d := &Dependencies{Config: cfg, Logger: logger}
	var err error
	if d.DB, err = NewPool(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if d.Redis, err = NewRedis(cfg.RedisURL); err != nil {
		d.Close()
		return nil, err
	}
	taskRedis, err := TaskRedis(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.TaskClient = asynq.NewClient(taskRedis)

	d.MetricsRegistry = prometheus.NewRegistry()
	d.MetricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, d.MetricsRegistry)

	waits, err := lock.NewWaitHistogram(otel.Meter("toko-promo/lock"))
	if err != nil {
		d.Close()
		return nil, err
	}
	throttle, err := ratelimit.NewThrottle(d.Redis, "throttle", cfg.PlaceOrderRate)
	if err != nil {
		d.Close()
		return nil, err
	}

	breaker := resilience.NewBreaker("order-events", cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor)
	breaker.Logger = logger.With().Str("component", "breaker").Logger()

	d.CatalogCache = catalog.NewCache(d.Redis, cfg.CatalogCacheTTL)
	d.Catalog = catalog.CachedCatalog{
		Next:   catalog.PostgresCatalog{Q: d.DB},
		Cache:  d.CatalogCache,
		Logger: logger.With().Str("component", "catalog").Logger(),
	}
	d.Promotions = promotion.PostgresStore{DB: d.DB}
	d.Rates = shipping.PostgresRates{DB: d.DB}
	d.Coupons = coupon.PostgresStore{DB: d.DB}

	cartLogger := logger.With().Str("component", "cart").Logger()
	d.Carts = &cart.Service{
		Repo: cart.DualWriteRepository{
			Cache:   cart.RedisRepository{Client: d.Redis, TTL: cfg.CartTTL},
			Durable: cart.SessionRepository{DB: d.DB, TTL: cfg.CartTTL},
			Logger:  cartLogger,
		},
		Locker:     lock.Locker{R: d.Redis, RetryBackoff: cfg.LockRetryBackoff, Wait: waits},
		LockTTL:    cfg.LockTTL,
		Catalog:    d.Catalog,
		Promotions: d.Promotions,
		Rates:      d.Rates,
		Coupons:    d.Coupons,
		Attempts: ratelimit.Guard{
			Counter: ratelimit.SlidingWindow{Client: d.Redis, Prefix: "ratelimit:"},
			Window:  cfg.CouponAttemptWindow,
			Max:     cfg.CouponAttemptMax,
		},
		TaxBps: cfg.TaxRateBps,
		Logger: cartLogger,
	}
	d.Checkout = &checkout.Service{
		Carts:  d.Carts,
		Orders: checkout.PostgresOrders{DB: d.DB},
		Events: events.Publisher{
			Client:   d.TaskClient,
			Queue:    cfg.WorkerQueue,
			MaxRetry: cfg.EventMaxRetry,
			Breaker:  breaker,
		},
		Throttle: throttle,
		Currency: cfg.CurrencyCode,
		Logger:   logger.With().Str("component", "checkout").Logger(),
	}
	return d, nil
}

// Close releases every connection that was opened.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
