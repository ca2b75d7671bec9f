package promotion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeRule(id string, m Mechanism) Rule {
	return Rule{
		ID:        id,
		Active:    true,
		StartAt:   testNow.Add(-time.Hour),
		EndAt:     testNow.Add(time.Hour),
		Mechanism: m,
	}
}

func TestPercentageEvaluate(t *testing.T) {
	cases := []struct {
		pct   string
		price string
		want  string
	}{
		{"20", "100.00", "80.00"},
		{"0", "19.99", "19.99"},
		{"100", "19.99", "0.00"},
		{"33", "10.00", "6.70"},
		{"12.5", "0.99", "0.87"},
		{"15", "0.10", "0.09"},
	}
	for _, tc := range cases {
		rule := activeRule("p", Percentage{Value: decimal.RequireFromString(tc.pct)})
		res := rule.Evaluate(EvalInput{Now: testNow, Quantity: 1, ReferencePrice: pricing.MustParse(tc.price)})
		require.True(t, res.Applicable)
		require.Equal(t, tc.want, pricing.Format(res.UnitPrice), "pct=%s price=%s", tc.pct, tc.price)
	}
}

func TestFixedAmountNeverNegative(t *testing.T) {
	for _, price := range []string{"0.00", "5.00", "9.99", "10.00", "250.00"} {
		rule := activeRule("f", FixedAmount{Value: pricing.MustParse("10.00")})
		res := rule.Evaluate(EvalInput{Now: testNow, Quantity: 1, ReferencePrice: pricing.MustParse(price)})
		require.True(t, res.Applicable)
		require.False(t, res.UnitPrice.IsNegative(), "price %s", price)
	}
	rule := activeRule("f", FixedAmount{Value: pricing.MustParse("10.00")})
	res := rule.Evaluate(EvalInput{Now: testNow, Quantity: 1, ReferencePrice: pricing.MustParse("25.50")})
	require.Equal(t, "15.50", pricing.Format(res.UnitPrice))
}

func TestEvaluateSoftDeclinesInvalidRule(t *testing.T) {
	limit := 3
	cases := map[string]Rule{
		"inactive": func() Rule {
			r := activeRule("x", Percentage{Value: decimal.NewFromInt(10)})
			r.Active = false
			return r
		}(),
		"not started": func() Rule {
			r := activeRule("x", Percentage{Value: decimal.NewFromInt(10)})
			r.StartAt = testNow.Add(time.Minute)
			return r
		}(),
		"expired": func() Rule {
			r := activeRule("x", Percentage{Value: decimal.NewFromInt(10)})
			r.EndAt = testNow.Add(-time.Minute)
			return r
		}(),
		"exhausted": func() Rule {
			r := activeRule("x", Percentage{Value: decimal.NewFromInt(10)})
			r.UsageLimit = &limit
			r.UsageCount = 3
			return r
		}(),
	}
	for name, rule := range cases {
		res := rule.Evaluate(EvalInput{Now: testNow, Quantity: 1, ReferencePrice: pricing.MustParse("40.00")})
		require.False(t, res.Applicable, name)
		require.NotEmpty(t, res.Message, name)
		require.Equal(t, "40.00", pricing.Format(res.UnitPrice), name)
	}
}

func TestBuyXGetYThreshold(t *testing.T) {
	rule := activeRule("bqg", BuyXGetY{
		BuyQuantity:    2,
		GiftProductRef: "mug",
		GiftQuantity:   1,
		GiftDiscount:   Percentage{Value: decimal.NewFromInt(50)},
	})
	gift := &GiftSnapshot{Ref: "mug", Name: "Mug", UnitPrice: pricing.MustParse("50.00"), Stock: 10}

	below := rule.Evaluate(EvalInput{Now: testNow, Quantity: 1, ReferencePrice: pricing.MustParse("100.00"), Gift: gift})
	require.False(t, below.Applicable)
	require.Nil(t, below.Gift)
	require.Equal(t, "Buy 2 to get 1 Mug for 25.00", below.Message)

	at := rule.Evaluate(EvalInput{Now: testNow, Quantity: 2, ReferencePrice: pricing.MustParse("100.00"), Gift: gift})
	require.True(t, at.Applicable)
	require.NotNil(t, at.Gift)
	require.Equal(t, "50.00", pricing.Format(at.Gift.BaseTotal))
	require.Equal(t, "25.00", pricing.Format(at.Gift.DiscountedTotal))
	require.Equal(t, "25.00", pricing.Format(at.Gift.Discount()))
	require.Equal(t, "100.00", pricing.Format(at.UnitPrice))
}

func TestBuyXGetYInsufficientGiftStock(t *testing.T) {
	rule := activeRule("bqg", BuyXGetY{BuyQuantity: 1, GiftProductRef: "mug", GiftQuantity: 2})
	res := rule.Evaluate(EvalInput{
		Now:            testNow,
		Quantity:       5,
		ReferencePrice: pricing.MustParse("10.00"),
		Gift:           &GiftSnapshot{Ref: "mug", UnitPrice: pricing.MustParse("4.00"), Stock: 1},
	})
	require.False(t, res.Applicable)
	require.Contains(t, res.Message, "out of stock")
}

func TestBuyXGetYFixedGiftDiscountClampsAtZero(t *testing.T) {
	rule := activeRule("bqg", BuyXGetY{
		BuyQuantity:    1,
		GiftProductRef: "sticker",
		GiftQuantity:   3,
		GiftDiscount:   FixedAmount{Value: pricing.MustParse("100.00")},
	})
	res := rule.Evaluate(EvalInput{
		Now:            testNow,
		Quantity:       1,
		ReferencePrice: pricing.MustParse("10.00"),
		Gift:           &GiftSnapshot{Ref: "sticker", UnitPrice: pricing.MustParse("1.50"), Stock: 9},
	})
	require.True(t, res.Applicable)
	require.Equal(t, "4.50", pricing.Format(res.Gift.BaseTotal))
	require.Equal(t, "0.00", pricing.Format(res.Gift.DiscountedTotal))
	require.Contains(t, res.Message, "for free")
}

func TestEvaluateDoesNotMutateRule(t *testing.T) {
	limit := 5
	rule := activeRule("p", Percentage{Value: decimal.NewFromInt(10)})
	rule.UsageLimit = &limit
	_ = rule.Evaluate(EvalInput{Now: testNow, Quantity: 3, ReferencePrice: pricing.MustParse("10.00")})
	require.Equal(t, 0, rule.UsageCount)
}

func TestRecordUsageStopsAtLimit(t *testing.T) {
	limit := 1
	rule := activeRule("p", Percentage{Value: decimal.NewFromInt(10)})
	rule.UsageLimit = &limit
	require.NoError(t, rule.RecordUsage())
	require.ErrorIs(t, rule.RecordUsage(), ErrUsageLimitReached)
	require.Equal(t, 1, rule.UsageCount)
	require.False(t, rule.IsValid(testNow))
}

func TestMemoryStoreConcurrentIncrementHonoursLimit(t *testing.T) {
	limit := 5
	rule := activeRule("p", Percentage{Value: decimal.NewFromInt(10)})
	rule.UsageLimit = &limit
	store := NewMemoryStore(rule)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Increment(context.Background(), "p"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, ErrUsageLimitReached) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, limit, success)
	stored, err := store.Get(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, limit, stored.UsageCount)
}
