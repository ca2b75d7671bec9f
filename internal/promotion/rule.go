package promotion

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

var (
	// ErrInvalidRule is returned when a promotion definition breaks its invariants.
	ErrInvalidRule = errors.New("promotion rule invalid")
	// ErrUsageLimitReached indicates the promotion has exhausted its redemption quota.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrNotFound indicates the promotion could not be located.
	ErrNotFound = errors.New("promotion not found")
)

// Kind names the discount mechanism of a rule.
type Kind string

const (
	KindPercentage  Kind = "percentage"
	KindFixedAmount Kind = "fixed"
	KindBuyXGetY    Kind = "bqg"
)

// Mechanism is the discount carried by a rule. It is one of Percentage,
// FixedAmount or BuyXGetY.
type Mechanism interface {
	Kind() Kind
	Describe() string
	mechanism()
}

// FlatDiscount is a mechanism that reduces a single amount. Percentage and
// FixedAmount are flat discounts; they are also what a BuyXGetY rule may apply
// to its gift.
type FlatDiscount interface {
	Mechanism
	Apply(base pricing.Money) pricing.Money
}

// Percentage takes Value percent off the reference price.
type Percentage struct {
	Value decimal.Decimal
}

func (Percentage) Kind() Kind { return KindPercentage }
func (Percentage) mechanism() {}

// Describe renders the discount for display, e.g. "20% off".
func (p Percentage) Describe() string {
	return fmt.Sprintf("%s%% off", p.Value.String())
}

// Apply returns max(base*(1-Value/100), 0).
func (p Percentage) Apply(base pricing.Money) pricing.Money {
	return pricing.Clamp(base.Sub(pricing.Percent(base, p.Value)))
}

// FixedAmount takes Value off the reference price.
type FixedAmount struct {
	Value decimal.Decimal
}

func (FixedAmount) Kind() Kind { return KindFixedAmount }
func (FixedAmount) mechanism() {}

// Describe renders the discount for display, e.g. "10.00 off".
func (f FixedAmount) Describe() string {
	return fmt.Sprintf("%s off", pricing.Format(f.Value))
}

// Apply returns max(base-Value, 0).
func (f FixedAmount) Apply(base pricing.Money) pricing.Money {
	return pricing.Clamp(base.Sub(f.Value))
}

// BuyXGetY grants GiftQuantity units of GiftProductRef once BuyQuantity units
// of the promoted product are in the cart. GiftDiscount, when set, is applied
// to the gift total; a nil GiftDiscount sells the gift at its own price.
type BuyXGetY struct {
	BuyQuantity    int
	GiftProductRef string
	GiftQuantity   int
	GiftDiscount   FlatDiscount
}

func (BuyXGetY) Kind() Kind { return KindBuyXGetY }
func (BuyXGetY) mechanism() {}

// Describe renders the offer, e.g. "Buy 2 get 1 mug-01 at 50% off".
func (b BuyXGetY) Describe() string {
	base := fmt.Sprintf("Buy %d get %d %s", b.BuyQuantity, b.GiftQuantity, b.GiftProductRef)
	if b.GiftDiscount == nil {
		return base
	}
	return base + " at " + b.GiftDiscount.Describe()
}

// Rule is a single promotion definition with its validity window and usage caps.
type Rule struct {
	ID         string
	Active     bool
	StartAt    time.Time
	EndAt      time.Time
	UsageLimit *int
	UsageCount int
	Mechanism  Mechanism
}

// Kind reports the mechanism kind, or "" when the rule carries none.
func (r Rule) Kind() Kind {
	if r.Mechanism == nil {
		return ""
	}
	return r.Mechanism.Kind()
}

// Describe returns the display text of the rule's mechanism.
func (r Rule) Describe() string {
	if r.Mechanism == nil {
		return ""
	}
	return r.Mechanism.Describe()
}

// IsValid reports whether the rule can be applied at now.
func (r Rule) IsValid(now time.Time) bool {
	return r.invalidReason(now) == ""
}

func (r Rule) invalidReason(now time.Time) string {
	switch {
	case !r.Active:
		return "Promotion is not active."
	case now.Before(r.StartAt) || now.After(r.EndAt):
		return "Promotion is not valid at this time."
	case r.exhausted():
		return "Promotion usage limit reached."
	}
	return ""
}

func (r Rule) exhausted() bool {
	return r.UsageLimit != nil && r.UsageCount >= *r.UsageLimit
}

// RecordUsage counts one redemption against the rule. Durable counters go
// through a UsageRecorder instead.
func (r *Rule) RecordUsage() error {
	if r.exhausted() {
		return ErrUsageLimitReached
	}
	r.UsageCount++
	return nil
}

// Validate checks the invariants the tagged mechanism cannot express on its own.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.EndAt.Before(r.StartAt) {
		return fmt.Errorf("%w: end precedes start", ErrInvalidRule)
	}
	if r.UsageLimit != nil {
		if *r.UsageLimit < 0 {
			return fmt.Errorf("%w: usage limit must not be negative", ErrInvalidRule)
		}
		if r.UsageCount > *r.UsageLimit {
			return fmt.Errorf("%w: usage count exceeds limit", ErrInvalidRule)
		}
	}
	if r.UsageCount < 0 {
		return fmt.Errorf("%w: usage count must not be negative", ErrInvalidRule)
	}
	switch m := r.Mechanism.(type) {
	case nil:
		return fmt.Errorf("%w: either a buy-x-get-y payload or a discount amount must be set", ErrInvalidRule)
	case Percentage, FixedAmount:
		return validateFlat(m.(FlatDiscount))
	case BuyXGetY:
		if m.BuyQuantity < 1 {
			return fmt.Errorf("%w: buy quantity must be at least 1", ErrInvalidRule)
		}
		if m.GiftQuantity < 1 {
			return fmt.Errorf("%w: gift quantity must be at least 1", ErrInvalidRule)
		}
		if m.GiftProductRef == "" {
			return fmt.Errorf("%w: gift product is required", ErrInvalidRule)
		}
		if m.GiftDiscount != nil {
			return validateFlat(m.GiftDiscount)
		}
	}
	return nil
}

func validateFlat(d FlatDiscount) error {
	switch v := d.(type) {
	case Percentage:
		if v.Value.IsNegative() || v.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidRule)
		}
	case FixedAmount:
		if v.Value.IsNegative() {
			return fmt.Errorf("%w: fixed amount must not be negative", ErrInvalidRule)
		}
	}
	return nil
}
