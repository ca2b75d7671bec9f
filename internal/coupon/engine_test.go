package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func baseCoupon() Coupon {
	return Coupon{
		Code:    "SAVE20",
		Kind:    KindFixed,
		Value:   pricing.MustParse("20.00"),
		Active:  true,
		StartAt: fixedNow.Add(-24 * time.Hour),
		EndAt:   fixedNow.Add(24 * time.Hour),
	}
}

func intp(n int) *int { return &n }

func moneyp(s string) *pricing.Money {
	m := pricing.MustParse(s)
	return &m
}

func engineWith(store *MemoryStore) Engine {
	return Engine{Counter: store, Now: func() time.Time { return fixedNow }}
}

func TestApplyMinimumOrderAmount(t *testing.T) {
	c := baseCoupon()
	c.MinimumOrderAmount = moneyp("150.00")
	e := engineWith(NewMemoryStore(c))
	ctx := context.Background()

	d, err := e.Apply(ctx, c, pricing.MustParse("100.00"), pricing.Shipping{}, "u1")
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonMinimumOrder, d.Reason)
	require.Equal(t, "Minimum order amount of 150.00 is required to use this coupon.", d.Message)
	require.ErrorIs(t, d.Err(), ErrMinimumOrderUnmet)
	require.True(t, d.Discount.IsZero())

	d, err = e.Apply(ctx, c, pricing.MustParse("200.00"), pricing.Shipping{}, "u1")
	require.NoError(t, err)
	require.True(t, d.Accepted)
	require.NoError(t, d.Err())
	require.Equal(t, "20.00", pricing.Format(d.Discount))
}

func TestApplyCheckOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	total := pricing.MustParse("100.00")

	cases := []struct {
		name    string
		mutate  func(*Coupon)
		reason  Reason
		message string
		err     error
	}{
		{
			name: "inactive wins over window",
			mutate: func(c *Coupon) {
				c.Active = false
				c.EndAt = fixedNow.Add(-time.Hour)
			},
			reason:  ReasonInactive,
			message: "Coupon is not active.",
			err:     ErrCouponInactive,
		},
		{
			name: "not started",
			mutate: func(c *Coupon) {
				c.StartAt = fixedNow.Add(time.Hour)
				c.EndAt = fixedNow.Add(2 * time.Hour)
			},
			reason:  ReasonOutsideWindow,
			message: "Coupon is not valid at this time.",
			err:     ErrOutsideWindow,
		},
		{
			name:    "expired",
			mutate:  func(c *Coupon) { c.EndAt = fixedNow.Add(-time.Minute) },
			reason:  ReasonOutsideWindow,
			message: "Coupon is not valid at this time.",
			err:     ErrOutsideWindow,
		},
		{
			name:    "allow list",
			mutate:  func(c *Coupon) { c.AllowedUsers = []string{"someone-else"} },
			reason:  ReasonNotAllowed,
			message: "This coupon is not allowed for your account.",
			err:     ErrUserNotAllowed,
		},
		{
			name: "allow list before minimum",
			mutate: func(c *Coupon) {
				c.AllowedUsers = []string{"someone-else"}
				c.MinimumOrderAmount = moneyp("500")
			},
			reason: ReasonNotAllowed,
			err:    ErrUserNotAllowed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := baseCoupon()
			tc.mutate(&c)
			d, err := engineWith(store).Apply(ctx, c, total, pricing.Shipping{}, "u1")
			require.NoError(t, err)
			require.False(t, d.Accepted)
			require.Equal(t, tc.reason, d.Reason)
			if tc.message != "" {
				require.Equal(t, tc.message, d.Message)
			}
			require.ErrorIs(t, d.Err(), tc.err)
		})
	}
}

func TestApplyUsageLimits(t *testing.T) {
	c := baseCoupon()
	c.UsageLimit = intp(2)
	c.UsageLimitPerUser = intp(1)
	store := NewMemoryStore(c)
	e := engineWith(store)
	ctx := context.Background()
	total := pricing.MustParse("100.00")

	require.NoError(t, store.Redeem(ctx, Redemption{Code: c.Code, OrderID: "o1", UserID: "u1"}))

	d, err := e.Apply(ctx, c, total, pricing.Shipping{}, "u1")
	require.NoError(t, err)
	require.Equal(t, ReasonPerUserLimit, d.Reason)
	require.Equal(t, "You have reached the usage limit for this coupon.", d.Message)

	d, err = e.Apply(ctx, c, total, pricing.Shipping{}, "u2")
	require.NoError(t, err)
	require.True(t, d.Accepted)

	require.NoError(t, store.Redeem(ctx, Redemption{Code: c.Code, OrderID: "o2", UserID: "u2"}))
	d, err = e.Apply(ctx, c, total, pricing.Shipping{}, "u3")
	require.NoError(t, err)
	require.Equal(t, ReasonUsageLimit, d.Reason)
	require.Equal(t, "Coupon usage limit reached.", d.Message)
}

func TestApplyDoesNotRecordUsage(t *testing.T) {
	c := baseCoupon()
	store := NewMemoryStore(c)
	e := engineWith(store)
	for i := 0; i < 3; i++ {
		d, err := e.Apply(context.Background(), c, pricing.MustParse("50"), pricing.Shipping{}, "u1")
		require.NoError(t, err)
		require.True(t, d.Accepted)
	}
	require.Empty(t, store.Redemptions())
}

func TestApplyDiscountKinds(t *testing.T) {
	ctx := context.Background()
	e := engineWith(NewMemoryStore())

	pct := baseCoupon()
	pct.Kind = KindPercentage
	pct.Value = pricing.MustParse("15")
	d, err := e.Apply(ctx, pct, pricing.MustParse("33.33"), pricing.Shipping{}, "")
	require.NoError(t, err)
	require.Equal(t, "5.00", pricing.Format(d.Discount))

	fixed := baseCoupon()
	fixed.Value = pricing.MustParse("80")
	d, err = e.Apply(ctx, fixed, pricing.MustParse("25.50"), pricing.Shipping{}, "")
	require.NoError(t, err)
	require.Equal(t, "25.50", pricing.Format(d.Discount))

	free := baseCoupon()
	free.Kind = KindFreeShipping
	free.Value = pricing.Zero
	d, err = e.Apply(ctx, free, pricing.MustParse("10"), pricing.KnownShipping(pricing.MustParse("42")), "")
	require.NoError(t, err)
	require.True(t, d.ShippingWaived)
	require.Equal(t, "42.00", pricing.Format(d.Discount))

	d, err = e.Apply(ctx, free, pricing.MustParse("10"), pricing.Shipping{}, "")
	require.NoError(t, err)
	require.True(t, d.ShippingWaived)
	require.True(t, d.Discount.IsZero())
}

type failingCounter struct{}

func (failingCounter) CountRedemptions(context.Context, string) (int, error) {
	return 0, errors.New("db down")
}

func (failingCounter) CountUserRedemptions(context.Context, string, string) (int, error) {
	return 0, errors.New("db down")
}

func TestApplySurfacesCounterFailure(t *testing.T) {
	c := baseCoupon()
	c.UsageLimit = intp(1)
	_, err := Engine{Counter: failingCounter{}, Now: func() time.Time { return fixedNow }}.
		Apply(context.Background(), c, pricing.MustParse("10"), pricing.Shipping{}, "u1")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, baseCoupon().Validate())

	over := baseCoupon()
	over.Kind = KindPercentage
	over.Value = pricing.MustParse("120")
	require.ErrorIs(t, over.Validate(), ErrInvalidCoupon)

	neg := baseCoupon()
	neg.Value = pricing.MustParse("-1")
	require.ErrorIs(t, neg.Validate(), ErrInvalidCoupon)

	badKind := baseCoupon()
	badKind.Kind = "bogus"
	require.ErrorIs(t, badKind.Validate(), ErrInvalidCoupon)

	window := baseCoupon()
	window.EndAt = window.StartAt.Add(-time.Hour)
	require.ErrorIs(t, window.Validate(), ErrInvalidCoupon)
}
