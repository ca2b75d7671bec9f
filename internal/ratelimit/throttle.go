package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Throttle is a fixed-window limiter for coarse per-user operations such as
// placing orders. A nil Throttle allows everything.
type Throttle struct {
	L *limiter.Limiter
}

// NewThrottle builds a Redis-backed throttle from a formatted rate ("5-M").
func NewThrottle(client *redis.Client, prefix, rate string) (*Throttle, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return &Throttle{L: limiter.New(store, parsed)}, nil
}

// Take consumes one unit for key and fails with ErrTooManyAttempts when the
// window is exhausted.
func (t *Throttle) Take(ctx context.Context, key string) error {
	if t == nil || t.L == nil {
		return nil
	}
	res, err := t.L.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("throttle %s: %w", key, err)
	}
	if res.Reached {
		return fmt.Errorf("%w: %d per window", ErrTooManyAttempts, res.Limit)
	}
	return nil
}
