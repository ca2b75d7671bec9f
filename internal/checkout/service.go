package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-promo/internal/cart"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/events"
	"github.com/noah-isme/toko-promo/internal/obs"
	"github.com/noah-isme/toko-promo/internal/pricing"
)

// ErrShippingUnresolved is returned when the destination cannot be priced.
var ErrShippingUnresolved = errors.New("shipping cost unresolved")

// Settlement is everything committed together with an order: the coupon
// redemption and one usage per promotion that priced it.
type Settlement struct {
	Coupon     *coupon.Redemption
	Promotions []string
}

// OrderStore persists an order with its settlement atomically.
type OrderStore interface {
	Place(ctx context.Context, order Order, settle Settlement) error
}

// Publisher announces committed orders.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, ev events.OrderPlaced) error
}

// Throttle limits order placement per customer.
type Throttle interface {
	Take(ctx context.Context, key string) error
}

// PlaceOrderInput describes an order placement request.
type PlaceOrderInput struct {
	CartKey  cart.Key
	UserID   string
	Region   string
	Currency string
}

// Service turns carts into orders.
type Service struct {
	Carts    *cart.Service
	Orders   OrderStore
	Events   Publisher
	Throttle Throttle
	Currency string
	Logger   zerolog.Logger
	Now      func() time.Time
	NewID    func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// PlaceOrder prices the cart under its lock, persists the order together with
// coupon and promotion usage, clears the cart and publishes order.placed.
// Usage is recorded here and nowhere else.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	if s == nil || s.Carts == nil || s.Orders == nil {
		return Order{}, errors.New("checkout service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("cart.key", string(in.CartKey)))

	order, err := s.place(ctx, in)
	result := "ok"
	switch {
	case errors.Is(err, ErrEmptyCart):
		result = "empty"
	case errors.Is(err, ErrShippingUnresolved):
		result = "shipping_unresolved"
	case err != nil:
		result = "error"
	}
	obs.IncCounter(obs.OrdersPlacedTotal, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if s.Events != nil {
		if err := s.Events.PublishOrderPlaced(ctx, orderPlaced(order)); err != nil {
			s.Logger.Error().Err(err).Str("order_id", order.ID).Msg("publish order placed")
		}
	}
	s.Logger.Info().Str("order_id", order.ID).Str("cart_key", order.CartKey).Str("total", pricing.Format(order.Totals.Total)).Msg("order placed")
	return order, nil
}

func (s *Service) place(ctx context.Context, in PlaceOrderInput) (Order, error) {
	if s.Throttle != nil {
		if err := s.Throttle.Take(ctx, "order:"+throttleKey(in)); err != nil {
			return Order{}, err
		}
	}
	currency := strings.TrimSpace(in.Currency)
	if currency == "" {
		currency = s.Currency
	}
	var order Order
	err := s.Carts.Checkout(ctx, in.CartKey, in.UserID, in.Region, func(ctx context.Context, state cart.State, q cart.Quote) error {
		if state.Empty() {
			return ErrEmptyCart
		}
		if !q.Summary.Shipping.Resolved {
			return fmt.Errorf("%w: %s", ErrShippingUnresolved, q.Summary.Shipping.Reason)
		}
		o, err := Assemble(state, q, currency)
		if err != nil {
			return err
		}
		o.ID = s.newID()
		o.Region = in.Region
		o.CreatedAt = s.now().UTC()
		if in.UserID != "" {
			o.UserID = in.UserID
		}
		settle := Settlement{Promotions: o.Promotions()}
		if o.CouponCode != "" {
			settle.Coupon = &coupon.Redemption{
				Code:       o.CouponCode,
				OrderID:    o.ID,
				UserID:     o.UserID,
				Amount:     q.Coupon.Discount,
				RedeemedAt: o.CreatedAt,
			}
		}
		if err := s.Orders.Place(ctx, o, settle); err != nil {
			return fmt.Errorf("persist order: %w", err)
		}
		order = o
		return nil
	})
	return order, err
}

func throttleKey(in PlaceOrderInput) string {
	if in.UserID != "" {
		return "user:" + in.UserID
	}
	return string(in.CartKey)
}

func orderPlaced(o Order) events.OrderPlaced {
	ev := events.OrderPlaced{
		OrderID:    o.ID,
		CartKey:    o.CartKey,
		UserID:     o.UserID,
		Currency:   o.Currency,
		Total:      pricing.Format(o.Totals.Total),
		CouponCode: o.CouponCode,
		Promotions: o.Promotions(),
		PlacedAt:   o.CreatedAt,
	}
	for _, it := range o.Items {
		ev.Items = append(ev.Items, events.OrderItem{ProductRef: it.ProductRef, Quantity: it.Quantity, Gift: it.Gift})
	}
	return ev
}
