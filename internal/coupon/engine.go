package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// Reason identifies why a coupon was accepted or declined.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonInactive      Reason = "inactive"
	ReasonOutsideWindow Reason = "outside_window"
	ReasonUsageLimit    Reason = "usage_limit"
	ReasonPerUserLimit  Reason = "per_user_limit"
	ReasonNotAllowed    Reason = "not_allowed"
	ReasonMinimumOrder  Reason = "minimum_order"
)

// Decision is the outcome of applying a coupon to a cart total. A declined
// coupon is a Decision with Accepted=false, not an error.
type Decision struct {
	Code           string        `json:"code"`
	Kind           Kind          `json:"kind"`
	Accepted       bool          `json:"accepted"`
	Reason         Reason        `json:"reason"`
	Message        string        `json:"message"`
	Discount       pricing.Money `json:"discount"`
	ShippingWaived bool          `json:"shipping_waived,omitempty"`
}

// Err maps a declined decision to its sentinel error; accepted decisions return nil.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonAccepted, "":
		return nil
	case ReasonInactive:
		return ErrCouponInactive
	case ReasonOutsideWindow:
		return ErrOutsideWindow
	case ReasonUsageLimit:
		return ErrUsageLimitReached
	case ReasonPerUserLimit:
		return ErrPerUserLimitReached
	case ReasonNotAllowed:
		return ErrUserNotAllowed
	case ReasonMinimumOrder:
		return ErrMinimumOrderUnmet
	}
	return fmt.Errorf("coupon declined: %s", d.Reason)
}

// Counter reports how often a coupon has been redeemed.
type Counter interface {
	CountRedemptions(ctx context.Context, code string) (int, error)
	CountUserRedemptions(ctx context.Context, code, userID string) (int, error)
}

// Engine evaluates coupons against cart totals. It never records usage;
// redemption happens when the order is placed.
type Engine struct {
	Counter Counter
	Now     func() time.Time
}

// Apply runs the coupon checks in order, first failure wins. cartTotal is the
// promotion-adjusted merchandise total. Returned errors are counter failures
// only. A guest (empty userID) is not subject to the per-user limit but fails
// an allow-list.
func (e Engine) Apply(ctx context.Context, c Coupon, cartTotal pricing.Money, shipping pricing.Shipping, userID string) (Decision, error) {
	d := Decision{Code: c.Code, Kind: c.Kind}
	now := e.now()

	if !c.Active {
		return d.decline(ReasonInactive, "Coupon is not active."), nil
	}
	if now.Before(c.StartAt) || now.After(c.EndAt) {
		return d.decline(ReasonOutsideWindow, "Coupon is not valid at this time."), nil
	}
	if c.UsageLimit != nil {
		used, err := e.count(ctx, c.Code)
		if err != nil {
			return Decision{}, err
		}
		if used >= *c.UsageLimit {
			return d.decline(ReasonUsageLimit, "Coupon usage limit reached."), nil
		}
	}
	if c.UsageLimitPerUser != nil && userID != "" {
		used, err := e.countUser(ctx, c.Code, userID)
		if err != nil {
			return Decision{}, err
		}
		if used >= *c.UsageLimitPerUser {
			return d.decline(ReasonPerUserLimit, "You have reached the usage limit for this coupon."), nil
		}
	}
	if !c.allows(userID) {
		return d.decline(ReasonNotAllowed, "This coupon is not allowed for your account."), nil
	}
	if c.MinimumOrderAmount != nil && cartTotal.LessThan(*c.MinimumOrderAmount) {
		return d.decline(ReasonMinimumOrder, fmt.Sprintf("Minimum order amount of %s is required to use this coupon.", pricing.Format(*c.MinimumOrderAmount))), nil
	}

	d.Accepted = true
	d.Reason = ReasonAccepted
	d.Discount = c.discount(cartTotal, shipping)
	d.ShippingWaived = c.Kind == KindFreeShipping
	if d.ShippingWaived {
		d.Message = "Coupon applied: free shipping."
	} else {
		d.Message = fmt.Sprintf("Coupon applied: %s off.", pricing.Format(d.Discount))
	}
	return d, nil
}

func (d Decision) decline(reason Reason, message string) Decision {
	d.Reason = reason
	d.Message = message
	d.Discount = pricing.Zero
	return d
}

func (e Engine) count(ctx context.Context, code string) (int, error) {
	if e.Counter == nil {
		return 0, nil
	}
	n, err := e.Counter.CountRedemptions(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("count coupon redemptions: %w", err)
	}
	return n, nil
}

func (e Engine) countUser(ctx context.Context, code, userID string) (int, error) {
	if e.Counter == nil {
		return 0, nil
	}
	n, err := e.Counter.CountUserRedemptions(ctx, code, userID)
	if err != nil {
		return 0, fmt.Errorf("count user coupon redemptions: %w", err)
	}
	return n, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
