package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotConfigured is returned when the locker has no Redis client.
var ErrNotConfigured = errors.New("lock: redis client not configured")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker provides a Redis-backed mutual exclusion keyed by cart storage key.
// Waiting is observed on Wait when set.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	Wait         metric.Float64Histogram
}

// CartKey namespaces a cart storage key for locking.
func CartKey(cartKey string) string {
	return "lock:cart:" + cartKey
}

// NewWaitHistogram registers the lock wait histogram on meter.
func NewWaitHistogram(meter metric.Meter) (metric.Float64Histogram, error) {
	return meter.Float64Histogram(
		"cart.lock.wait",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent waiting to acquire a cart lock"),
	)
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released even if fn returns an error. When the lock cannot be acquired before
// the context is cancelled the context error is returned and fn never runs.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}

	started := time.Now()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			l.observe(ctx, started, "acquired")
			defer l.release(context.Background(), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.observe(ctx, started, "cancelled")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) observe(ctx context.Context, started time.Time, outcome string) {
	if l.Wait == nil {
		return
	}
	l.Wait.Record(context.WithoutCancel(ctx), time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			// only safe when scripting is unavailable; the token check is lost
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
