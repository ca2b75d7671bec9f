package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTooManyAttempts is returned once a key has used up its attempts for the window.
var ErrTooManyAttempts = errors.New("too many attempts")

// Guard caps how often one key may attempt an operation, such as entering a
// coupon code on a cart.
type Guard struct {
	Counter SlidingWindow
	Window  time.Duration
	Max     int
}

// Check registers an attempt for key. It returns ErrTooManyAttempts, wrapped
// with the reset time, when the key is over its limit.
func (g Guard) Check(ctx context.Context, key string) error {
	usage, err := g.Counter.Hit(ctx, key, g.Window, g.Max)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	if !usage.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrTooManyAttempts, usage.ResetAt.UTC().Format(time.RFC3339))
	}
	return nil
}
