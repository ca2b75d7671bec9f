package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/lock"
	"github.com/noah-isme/toko-promo/internal/obs"
	"github.com/noah-isme/toko-promo/internal/pricing"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

// Locker serialises work on one key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Coupons is the coupon lookup the service needs.
type Coupons interface {
	coupon.Counter
	GetByCode(ctx context.Context, code string) (coupon.Coupon, error)
}

// AttemptGuard limits how often a cart may try coupon codes.
type AttemptGuard interface {
	Check(ctx context.Context, key string) error
}

// Quote is a cart summary with its coupon and order totals.
type Quote struct {
	Summary Summary          `json:"summary"`
	Coupon  *coupon.Decision `json:"coupon,omitempty"`
	Totals  pricing.Totals   `json:"totals"`
}

// Service runs every cart mutation as a locked load, mutate, save cycle.
// Nothing is saved when the mutation fails.
type Service struct {
	Repo       Repository
	Locker     Locker
	LockTTL    time.Duration
	Catalog    catalog.Catalog
	Promotions promotion.Source
	Rates      shipping.Resolver
	Coupons    Coupons
	Attempts   AttemptGuard
	TaxBps     int
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) engine(state *State) *Engine {
	return &Engine{
		State:      state,
		Catalog:    s.Catalog,
		Promotions: s.Promotions,
		Rates:      s.Rates,
		Now:        s.Now,
		OnEvaluate: func(res promotion.Result) {
			outcome := "declined"
			if res.Applicable {
				outcome = "applied"
			}
			obs.IncCounter(obs.PromotionEvaluationsTotal, string(res.Kind), outcome)
		},
	}
}

// Get loads the cart without locking.
func (s *Service) Get(ctx context.Context, key Key) (State, error) {
	if s == nil || s.Repo == nil {
		return State{}, errors.New("cart service not configured")
	}
	return s.Repo.Load(ctx, key)
}

// Add adds quantity units of a product.
func (s *Service) Add(ctx context.Context, key Key, productRef string, quantity int) (State, error) {
	return s.mutate(ctx, key, "add", func(ctx context.Context, e *Engine) error {
		return e.AddLine(ctx, productRef, quantity)
	})
}

// SetQuantity replaces the quantity of a line.
func (s *Service) SetQuantity(ctx context.Context, key Key, productRef string, quantity int) (State, error) {
	return s.mutate(ctx, key, "set_quantity", func(ctx context.Context, e *Engine) error {
		return e.SetQuantity(ctx, productRef, quantity)
	})
}

// Remove drops a line.
func (s *Service) Remove(ctx context.Context, key Key, productRef string) (State, error) {
	return s.mutate(ctx, key, "remove", func(_ context.Context, e *Engine) error {
		return e.RemoveLine(productRef)
	})
}

// DeactivatePromotion switches off the gift of a line.
func (s *Service) DeactivatePromotion(ctx context.Context, key Key, productRef string) (State, error) {
	return s.mutate(ctx, key, "deactivate_promotion", func(_ context.Context, e *Engine) error {
		return e.DeactivatePromotion(productRef)
	})
}

// ReactivatePromotion switches the gift of a line back on.
func (s *Service) ReactivatePromotion(ctx context.Context, key Key, productRef string) (State, error) {
	return s.mutate(ctx, key, "reactivate_promotion", func(ctx context.Context, e *Engine) error {
		return e.ReactivatePromotion(ctx, productRef)
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, key Key) (State, error) {
	return s.mutate(ctx, key, "clear", func(_ context.Context, e *Engine) error {
		e.Clear()
		return nil
	})
}

// RemoveCoupon drops the applied coupon.
func (s *Service) RemoveCoupon(ctx context.Context, key Key) (State, error) {
	return s.mutate(ctx, key, "remove_coupon", func(_ context.Context, e *Engine) error {
		e.State.CouponCode = ""
		return nil
	})
}

// Summary prices the cart for region; an empty region leaves shipping unknown.
func (s *Service) Summary(ctx context.Context, key Key, region string) (Summary, error) {
	state, err := s.Get(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	return s.engine(&state).Summary(ctx, region)
}

// ApplyCoupon evaluates code against the promotion-adjusted cart total. An
// accepted coupon replaces any previous one; a declined coupon leaves the cart
// untouched and is reported through the Decision. Unknown codes fail with
// coupon.ErrNotFound.
func (s *Service) ApplyCoupon(ctx context.Context, key Key, code, userID, region string) (coupon.Decision, error) {
	if s.Coupons == nil {
		return coupon.Decision{}, errors.New("cart service: coupons not configured")
	}
	if err := key.validate(); err != nil {
		return coupon.Decision{}, err
	}
	if s.Attempts != nil {
		if err := s.Attempts.Check(ctx, "coupon:"+string(key)); err != nil {
			return coupon.Decision{}, err
		}
	}
	var decision coupon.Decision
	_, err := s.mutate(ctx, key, "apply_coupon", func(ctx context.Context, e *Engine) error {
		c, err := s.Coupons.GetByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("coupon %q: %w", code, err)
		}
		sum, err := e.Summary(ctx, region)
		if err != nil {
			return err
		}
		decision, err = coupon.Engine{Counter: s.Coupons, Now: s.Now}.Apply(ctx, c, sum.TotalPrice, sum.Shipping.Pricing(), userID)
		if err != nil {
			return err
		}
		obs.IncCounter(obs.CouponDecisionsTotal, string(decision.Reason))
		if decision.Accepted {
			e.State.CouponCode = c.Code
		}
		return nil
	})
	if err != nil {
		return coupon.Decision{}, err
	}
	return decision, nil
}

// Quote prices the cart together with its coupon. A coupon that no longer
// qualifies contributes nothing and is reported in Quote.Coupon.
func (s *Service) Quote(ctx context.Context, key Key, userID, region string) (Quote, error) {
	state, err := s.Get(ctx, key)
	if err != nil {
		return Quote{}, err
	}
	return s.QuoteState(ctx, state, userID, region)
}

// QuoteState prices an already loaded cart.
func (s *Service) QuoteState(ctx context.Context, state State, userID, region string) (Quote, error) {
	sum, err := s.engine(&state).Summary(ctx, region)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Summary: sum}
	discount := pricing.Zero
	ship := sum.Shipping.Pricing()
	if state.CouponCode != "" && s.Coupons != nil {
		c, err := s.Coupons.GetByCode(ctx, state.CouponCode)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			s.Logger.Warn().Str("cart_key", string(state.Key)).Str("coupon", state.CouponCode).Msg("applied coupon no longer exists")
		case err != nil:
			return Quote{}, fmt.Errorf("load coupon: %w", err)
		default:
			d, err := coupon.Engine{Counter: s.Coupons, Now: s.Now}.Apply(ctx, c, sum.TotalPrice, ship, userID)
			if err != nil {
				return Quote{}, err
			}
			q.Coupon = &d
			if d.Accepted {
				if d.ShippingWaived {
					ship.Amount = pricing.Zero
				} else {
					discount = d.Discount
				}
			}
		}
	}
	q.Totals = pricing.Compute(sum.TotalPrice, discount, s.TaxBps, ship)
	return q, nil
}

// Checkout runs place under the cart lock with the loaded cart and its quote.
// Once place succeeds its outcome stands: the cart is emptied afterwards and
// a failure to do so is logged, never returned.
func (s *Service) Checkout(ctx context.Context, key Key, userID, region string, place func(ctx context.Context, state State, q Quote) error) error {
	if s == nil || s.Repo == nil {
		return errors.New("cart service not configured")
	}
	if err := key.validate(); err != nil {
		return err
	}
	ctx, span := otel.Tracer("cart.Service").Start(ctx, "CartService.checkout")
	defer span.End()
	span.SetAttributes(attribute.String("cart.key", string(key)))

	err := s.withLock(ctx, key, func(ctx context.Context) error {
		state, err := s.Repo.Load(ctx, key)
		if err != nil {
			return err
		}
		q, err := s.QuoteState(ctx, state, userID, region)
		if err != nil {
			return err
		}
		if err := place(ctx, state, q); err != nil {
			return err
		}
		s.discard(ctx, key, state)
		return nil
	})
	obs.IncCounter(obs.CartMutationsTotal, "checkout", obs.Outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// discard empties a checked-out cart. When the emptied cart cannot be saved
// the cart is deleted instead so the same lines cannot be ordered twice.
func (s *Service) discard(ctx context.Context, key Key, state State) {
	s.engine(&state).Clear()
	state.UpdatedAt = s.now().UTC()
	saveErr := s.Repo.Save(ctx, state)
	if saveErr == nil {
		return
	}
	if delErr := s.Repo.Delete(ctx, key); delErr != nil {
		s.Logger.Error().Err(errors.Join(saveErr, delErr)).Str("cart_key", string(key)).Msg("cart not cleared after checkout")
		return
	}
	s.Logger.Warn().Err(saveErr).Str("cart_key", string(key)).Msg("save emptied cart failed, cart deleted")
}

// Merge moves a guest cart into a user's cart on login and deletes the guest cart.
func (s *Service) Merge(ctx context.Context, guest, user Key) (State, error) {
	if !guest.IsGuest() || user.UserID() == "" {
		return State{}, ErrInvalidKey
	}
	var merged State
	err := s.withLock(ctx, guest, func(ctx context.Context) error {
		guestState, err := s.Repo.Load(ctx, guest)
		if err != nil {
			return err
		}
		if guestState.Empty() && guestState.CouponCode == "" {
			merged, err = s.Repo.Load(ctx, user)
			return err
		}
		merged, err = s.mutate(ctx, user, "merge", func(ctx context.Context, e *Engine) error {
			return e.Absorb(ctx, guestState)
		})
		if err != nil {
			return err
		}
		return s.Repo.Delete(ctx, guest)
	})
	return merged, err
}

func (s *Service) mutate(ctx context.Context, key Key, op string, fn func(context.Context, *Engine) error) (State, error) {
	if s == nil || s.Repo == nil {
		return State{}, errors.New("cart service not configured")
	}
	if err := key.validate(); err != nil {
		return State{}, err
	}
	ctx, span := otel.Tracer("cart.Service").Start(ctx, "CartService."+op)
	defer span.End()
	span.SetAttributes(attribute.String("cart.key", string(key)))

	var out State
	err := s.withLock(ctx, key, func(ctx context.Context) error {
		state, err := s.Repo.Load(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(ctx, s.engine(&state)); err != nil {
			return err
		}
		state.UpdatedAt = s.now().UTC()
		if err := s.Repo.Save(ctx, state); err != nil {
			s.Logger.Error().Err(err).Str("cart_key", string(key)).Str("op", op).Msg("save cart failed")
			return err
		}
		out = state
		return nil
	})
	obs.IncCounter(obs.CartMutationsTotal, op, obs.Outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}
	s.Logger.Debug().Str("cart_key", string(key)).Str("op", op).Int("lines", len(out.Lines)).Msg("cart updated")
	return out, nil
}

func (s *Service) withLock(ctx context.Context, key Key, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return s.Locker.WithLock(ctx, lock.CartKey(string(key)), ttl, fn)
}
