package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-promo/internal/cart"
	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/events"
	"github.com/noah-isme/toko-promo/internal/pricing"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

var testNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.OrderPlaced
	err    error
}

func (c *capturePublisher) PublishOrderPlaced(_ context.Context, ev events.OrderPlaced) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

type harness struct {
	catalog    *catalog.MemoryCatalog
	promotions *promotion.MemoryStore
	coupons    *coupon.MemoryStore
	orders     *MemoryOrders
	events     *capturePublisher
	carts      *cart.Service
	svc        *Service
}

func newHarness(t *testing.T, mugPromotion *int) harness {
	t.Helper()
	h := harness{
		catalog: catalog.NewMemoryCatalog(
			catalog.Product{Ref: "X", Name: "Kettle", UnitPrice: pricing.MustParse("100.00"), Stock: 10, Weight: pricing.MustParse("2"), ShippingPlanRef: "P", PromotionRef: "bqg-mug"},
			catalog.Product{Ref: "Y", Name: "Mug", UnitPrice: pricing.MustParse("50.00"), Stock: 5, Weight: pricing.MustParse("0.5")},
		),
		promotions: promotion.NewMemoryStore(promotion.Rule{
			ID:         "bqg-mug",
			Active:     true,
			StartAt:    testNow.Add(-time.Hour),
			EndAt:      testNow.Add(time.Hour),
			UsageLimit: mugPromotion,
			Mechanism: promotion.BuyXGetY{
				BuyQuantity:    2,
				GiftProductRef: "Y",
				GiftQuantity:   1,
				GiftDiscount:   promotion.Percentage{Value: decimal.NewFromInt(50)},
			},
		}),
		coupons: coupon.NewMemoryStore(coupon.Coupon{
			Code:    "TENOFF",
			Kind:    coupon.KindFixed,
			Value:   pricing.MustParse("10.00"),
			Active:  true,
			StartAt: testNow.Add(-time.Hour),
			EndAt:   testNow.Add(time.Hour),
		}),
		events: &capturePublisher{},
	}
	h.orders = &MemoryOrders{Stock: h.catalog, Coupons: h.coupons, Promotions: h.promotions}
	h.carts = &cart.Service{
		Repo:       cart.NewMemoryRepository(),
		Catalog:    h.catalog,
		Promotions: h.promotions,
		Rates: shipping.NewStaticTable(shipping.Rates{
			PlanRef:             "P",
			Region:              "cairo",
			BasePrice:           pricing.MustParse("30.00"),
			MinChargeableWeight: pricing.MustParse("5"),
			PricePerKilo:        pricing.MustParse("2.00"),
		}),
		Coupons: h.coupons,
		Now:     func() time.Time { return testNow },
	}
	ids := 0
	h.svc = &Service{
		Carts:    h.carts,
		Orders:   h.orders,
		Events:   h.events,
		Currency: "EGP",
		Now:      func() time.Time { return testNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("ord-%d", ids)
		},
	}
	return h
}

func TestPlaceOrderSettlesEverythingOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := cart.Key("user:7")

	_, err := h.carts.Add(ctx, key, "X", 2)
	require.NoError(t, err)
	d, err := h.carts.ApplyCoupon(ctx, key, "TENOFF", "7", "cairo")
	require.NoError(t, err)
	require.True(t, d.Accepted)

	order, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, UserID: "7", Region: "cairo"})
	require.NoError(t, err)
	require.Equal(t, "ord-1", order.ID)
	require.Equal(t, "EGP", order.Currency)
	require.Equal(t, "TENOFF", order.CouponCode)
	require.Equal(t, "225.00", pricing.Format(order.Totals.Subtotal))
	require.Equal(t, "10.00", pricing.Format(order.Totals.Discount))
	require.Equal(t, "30.00", pricing.Format(order.Totals.Shipping))
	require.Equal(t, "245.00", pricing.Format(order.Totals.Total))

	require.Len(t, order.Items, 2)
	require.False(t, order.Items[0].Gift)
	require.Equal(t, "200.00", pricing.Format(order.Items[0].Total))
	require.True(t, order.Items[1].Gift)
	require.Equal(t, "Y", order.Items[1].ProductRef)
	require.Equal(t, "25.00", pricing.Format(order.Items[1].Discount))
	require.Equal(t, "25.00", pricing.Format(order.Items[1].Total))

	redemptions := h.coupons.Redemptions()
	require.Len(t, redemptions, 1)
	require.Equal(t, "ord-1", redemptions[0].OrderID)
	require.Equal(t, "7", redemptions[0].UserID)
	require.Equal(t, "10.00", pricing.Format(redemptions[0].Amount))

	rule, err := h.promotions.Get(ctx, "bqg-mug")
	require.NoError(t, err)
	require.Equal(t, 1, rule.UsageCount)

	x, err := h.catalog.GetProduct(ctx, "X")
	require.NoError(t, err)
	require.Equal(t, 8, x.Stock)
	y, err := h.catalog.GetProduct(ctx, "Y")
	require.NoError(t, err)
	require.Equal(t, 4, y.Stock)

	state, err := h.carts.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, state.Empty())
	require.Empty(t, state.CouponCode)

	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	require.Equal(t, "ord-1", ev.OrderID)
	require.Equal(t, "245.00", ev.Total)
	require.Equal(t, []string{"bqg-mug"}, ev.Promotions)
	require.Len(t, ev.Items, 2)
	require.NoError(t, ev.Validate())
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{CartKey: "user:7", UserID: "7", Region: "cairo"})
	require.ErrorIs(t, err, ErrEmptyCart)
	require.Empty(t, h.orders.Orders())
	require.Empty(t, h.events.events)
}

func TestPlaceOrderUnresolvedShippingKeepsCart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := cart.Key("guest:s1")
	_, err := h.carts.Add(ctx, key, "X", 1)
	require.NoError(t, err)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, Region: "alexandria"})
	require.ErrorIs(t, err, ErrShippingUnresolved)

	state, err := h.carts.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, state.Lines["X"].Quantity)
	require.Empty(t, h.orders.Orders())
	x, _ := h.catalog.GetProduct(ctx, "X")
	require.Equal(t, 10, x.Stock)
}

func TestPlaceOrderFailsWhenPromotionExhausted(t *testing.T) {
	limit := 1
	h := newHarness(t, &limit)
	ctx := context.Background()
	first, second := cart.Key("user:1"), cart.Key("user:2")

	// Both carts froze the promotion while it still had uses left.
	_, err := h.carts.Add(ctx, first, "X", 2)
	require.NoError(t, err)
	_, err = h.carts.Add(ctx, second, "X", 2)
	require.NoError(t, err)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: first, UserID: "1", Region: "cairo"})
	require.NoError(t, err)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: second, UserID: "2", Region: "cairo"})
	require.ErrorIs(t, err, promotion.ErrUsageLimitReached)

	state, err := h.carts.Get(ctx, second)
	require.NoError(t, err)
	require.False(t, state.Empty())
	require.Len(t, h.orders.Orders(), 1)
	require.Len(t, h.events.events, 1)
}

func TestPlaceOrderPublishFailureDoesNotFailOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.events.err = errors.New("broker down")
	ctx := context.Background()
	key := cart.Key("user:7")
	_, err := h.carts.Add(ctx, key, "Y", 1)
	require.NoError(t, err)

	order, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, UserID: "7", Region: "cairo"})
	require.NoError(t, err)
	require.Len(t, h.orders.Orders(), 1)
	require.Equal(t, "50.00", pricing.Format(order.Totals.Total))
}

type denyThrottle struct{}

func (denyThrottle) Take(context.Context, string) error { return errors.New("slow down") }

func TestPlaceOrderThrottled(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.Throttle = denyThrottle{}
	ctx := context.Background()
	_, err := h.carts.Add(ctx, "user:7", "Y", 1)
	require.NoError(t, err)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: "user:7", UserID: "7", Region: "cairo"})
	require.EqualError(t, err, "slow down")
	require.Empty(t, h.orders.Orders())
}

type flakyCarts struct {
	*cart.MemoryRepository
	failSave   bool
	failDelete bool
}

func (r *flakyCarts) Save(ctx context.Context, state cart.State) error {
	if r.failSave {
		return errors.New("cart cache down")
	}
	return r.MemoryRepository.Save(ctx, state)
}

func (r *flakyCarts) Delete(ctx context.Context, key cart.Key) error {
	if r.failDelete {
		return errors.New("cart cache down")
	}
	return r.MemoryRepository.Delete(ctx, key)
}

func TestPlaceOrderCommittedDespiteCartSaveFailure(t *testing.T) {
	h := newHarness(t, nil)
	repo := &flakyCarts{MemoryRepository: cart.NewMemoryRepository()}
	h.carts.Repo = repo
	ctx := context.Background()
	key := cart.Key("user:7")
	_, err := h.carts.Add(ctx, key, "X", 2)
	require.NoError(t, err)

	repo.failSave = true
	order, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, UserID: "7", Region: "cairo"})
	require.NoError(t, err)
	require.Equal(t, "ord-1", order.ID)
	require.Len(t, h.orders.Orders(), 1)
	require.Len(t, h.events.events, 1)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, UserID: "7", Region: "cairo"})
	require.ErrorIs(t, err, ErrEmptyCart)
	require.Len(t, h.orders.Orders(), 1)
}

func TestPlaceOrderCommittedWhenCartCannotBeCleared(t *testing.T) {
	h := newHarness(t, nil)
	repo := &flakyCarts{MemoryRepository: cart.NewMemoryRepository()}
	h.carts.Repo = repo
	ctx := context.Background()
	key := cart.Key("user:7")
	_, err := h.carts.Add(ctx, key, "X", 2)
	require.NoError(t, err)

	repo.failSave, repo.failDelete = true, true
	order, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{CartKey: key, UserID: "7", Region: "cairo"})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.Len(t, h.events.events, 1)
}
