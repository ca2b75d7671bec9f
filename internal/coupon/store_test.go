package coupon

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRedeemIdempotentPerOrder(t *testing.T) {
	c := baseCoupon()
	c.UsageLimit = intp(1)
	store := NewMemoryStore(c)
	ctx := context.Background()

	require.NoError(t, store.Redeem(ctx, Redemption{Code: "save20", OrderID: "o1", UserID: "u1"}))
	require.NoError(t, store.Redeem(ctx, Redemption{Code: "SAVE20", OrderID: "o1", UserID: "u1"}))
	require.ErrorIs(t, store.Redeem(ctx, Redemption{Code: "SAVE20", OrderID: "o2", UserID: "u2"}), ErrUsageLimitReached)
	require.Len(t, store.Redemptions(), 1)
}

func TestMemoryStoreConcurrentRedeemHonoursLimit(t *testing.T) {
	c := baseCoupon()
	c.UsageLimit = intp(3)
	store := NewMemoryStore(c)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Redeem(ctx, Redemption{Code: c.Code, OrderID: string(rune('a' + i))})
		}(i)
	}
	wg.Wait()
	n, err := store.CountRedemptions(ctx, c.Code)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestMemoryStoreUnknownCode(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetByCode(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Redeem(context.Background(), Redemption{Code: "nope", OrderID: "o"}), ErrNotFound)
}
