package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

var (
	// ErrNotFound indicates the coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalidCoupon is returned when a coupon definition is malformed.
	ErrInvalidCoupon = errors.New("coupon invalid")
	// ErrCouponInactive is returned when the coupon has been switched off.
	ErrCouponInactive = errors.New("coupon not active")
	// ErrOutsideWindow is returned when the coupon is used before it starts or after it ends.
	ErrOutsideWindow = errors.New("coupon not valid at this time")
	// ErrUsageLimitReached indicates the coupon has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerUserLimitReached indicates the caller has exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("coupon per-user usage limit reached")
	// ErrUserNotAllowed is returned when the coupon is restricted to other accounts.
	ErrUserNotAllowed = errors.New("coupon not allowed for user")
	// ErrMinimumOrderUnmet indicates the order total did not meet the coupon requirement.
	ErrMinimumOrderUnmet = errors.New("coupon minimum order amount not met")
)

var validate = validator.New()

// Kind is the discount a coupon grants.
type Kind string

const (
	KindPercentage   Kind = "percentage"
	KindFixed        Kind = "fixed"
	KindFreeShipping Kind = "free_shipping"
)

// Coupon is an order-level discount code.
type Coupon struct {
	Code               string           `json:"code" validate:"required,max=50"`
	Kind               Kind             `json:"discount_type" validate:"oneof=percentage fixed free_shipping"`
	Value              decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	UsageLimit         *int             `json:"usage_limit,omitempty" validate:"omitempty,gte=0"`
	UsageLimitPerUser  *int             `json:"usage_limit_per_user,omitempty" validate:"omitempty,gte=0"`
	AllowedUsers       []string         `json:"allowed_users,omitempty" validate:"dive,required"`
	Active             bool             `json:"is_active"`
	StartAt            time.Time        `json:"start_date" validate:"required"`
	EndAt              time.Time        `json:"end_date" validate:"required,gtefield=StartAt"`
}

// Validate checks the coupon definition.
func (c Coupon) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCoupon, err)
	}
	if c.Value.IsNegative() {
		return fmt.Errorf("%w: discount value must not be negative", ErrInvalidCoupon)
	}
	if c.Kind == KindPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: percentage above 100", ErrInvalidCoupon)
	}
	if c.MinimumOrderAmount != nil && c.MinimumOrderAmount.IsNegative() {
		return fmt.Errorf("%w: minimum order amount must not be negative", ErrInvalidCoupon)
	}
	return nil
}

// NormalizeCode canonicalises a customer-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c Coupon) allows(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

func (c Coupon) discount(total pricing.Money, shipping pricing.Shipping) pricing.Money {
	switch c.Kind {
	case KindPercentage:
		return clampTo(pricing.Round(pricing.Percent(total, c.Value)), total)
	case KindFixed:
		return clampTo(pricing.Round(c.Value), total)
	case KindFreeShipping:
		if shipping.Known {
			return pricing.Round(shipping.Amount)
		}
	}
	return pricing.Zero
}

func clampTo(d, ceiling pricing.Money) pricing.Money {
	if d.GreaterThan(ceiling) {
		return ceiling
	}
	return pricing.Clamp(d)
}
