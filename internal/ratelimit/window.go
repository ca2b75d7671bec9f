package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Usage describes one key's standing inside its window after a hit.
type Usage struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// SlidingWindow counts hits per key over a trailing interval. Each hit is a
// member of a Redis sorted set scored by its timestamp.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Hit records one attempt for key and reports whether the key is still within
// max hits per span. Without a client, span or max every hit is allowed.
func (w SlidingWindow) Hit(ctx context.Context, key string, span time.Duration, max int) (Usage, error) {
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	usage := Usage{Allowed: true, Remaining: max, ResetAt: now.Add(span)}
	if w.Client == nil || max <= 0 || span <= 0 {
		return usage, nil
	}

	setKey := w.Prefix + key
	floor := strconv.FormatInt(now.Add(-span).UnixNano(), 10)

	pipe := w.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", "("+floor)
	pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, setKey)
	pipe.PExpire(ctx, setKey, span)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{ResetAt: usage.ResetAt}, err
	}

	usage.Count = int(card.Val())
	usage.Allowed = usage.Count <= max
	usage.Remaining = max - usage.Count
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}
	return usage, nil
}
