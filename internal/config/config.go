package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	OpsPort     string
	DatabaseURL string
	RedisURL    string
	AutoMigrate bool

	LogFormat string
	LogLevel  string

	ServiceName        string
	TracingEndpoint    string
	TracingSampleRatio float64
	MetricsNamespace   string
	MetricsBucketsMS   string

	CartTTL          time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	CatalogCacheTTL  time.Duration

	CouponAttemptMax    int
	CouponAttemptWindow time.Duration
	PlaceOrderRate      string

	TaxRateBps   int
	CurrencyCode string

	WorkerConcurrency int
	WorkerQueue       string
	EventMaxRetry     int

	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		OpsPort:     valueOrDefault(k.String("OPS_PORT"), "9090"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),
		AutoMigrate: parseBool(k.String("AUTO_MIGRATE")),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),

		ServiceName:        valueOrDefault(k.String("OTEL_SERVICE_NAME"), "toko-promo"),
		TracingEndpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TracingSampleRatio: parseFloat(k.String("OTEL_TRACES_SAMPLER_RATIO"), 1),
		MetricsNamespace:   valueOrDefault(k.String("METRICS_NAMESPACE"), "toko_promo"),
		MetricsBucketsMS:   k.String("METRICS_BUCKETS_MS"),

		CartTTL:          parseDuration(k.String("CART_TTL"), "1h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		CatalogCacheTTL:  parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),

		CouponAttemptMax:    parseInt(k.String("COUPON_ATTEMPT_MAX"), 10),
		CouponAttemptWindow: parseDuration(k.String("COUPON_ATTEMPT_WINDOW"), "10m"),
		PlaceOrderRate:      valueOrDefault(k.String("PLACE_ORDER_RATE"), "5-M"),

		TaxRateBps:   parseInt(k.String("PRICING_TAX_RATE_BPS"), 0),
		CurrencyCode: strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "EGP")),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		WorkerQueue:       valueOrDefault(k.String("WORKER_QUEUE"), "orders"),
		EventMaxRetry:     parseInt(k.String("EVENT_MAX_RETRY"), 10),

		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TaxRateBps < 0 {
		return nil, errors.New("PRICING_TAX_RATE_BPS must not be negative")
	}
	if cfg.CouponAttemptMax <= 0 {
		return nil, errors.New("COUPON_ATTEMPT_MAX must be positive")
	}

	return cfg, nil
}

// OpsAddr returns the address the ops server (probes and metrics) binds to.
func (c *Config) OpsAddr() string {
	port := strings.TrimSpace(c.OpsPort)
	if port == "" {
		port = "9090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
