package cart

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/pricing"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

// PromotionState tracks whether a customer switched a gift promotion off.
type PromotionState string

const (
	PromotionActive      PromotionState = "active"
	PromotionDeactivated PromotionState = "deactivated"
)

// AppliedPromotion is the frozen outcome of a promotion on one line.
type AppliedPromotion struct {
	RuleID string           `json:"rule_id"`
	Kind   promotion.Kind   `json:"kind"`
	State  PromotionState   `json:"state"`
	Result promotion.Result `json:"result"`
}

// Active reports whether the promotion currently affects the line price.
func (p *AppliedPromotion) Active() bool {
	return p != nil && p.State != PromotionDeactivated && p.Result.Applicable
}

// Gift returns the gift result of an active buy-x-get-y promotion, or nil.
func (p *AppliedPromotion) Gift() *promotion.GiftResult {
	if !p.Active() || p.Kind != promotion.KindBuyXGetY {
		return nil
	}
	return p.Result.Gift
}

// Line is one product in a cart. Its subtotal is always derived.
type Line struct {
	ProductRef      string            `json:"product_ref"`
	Name            string            `json:"name"`
	UnitPrice       pricing.Money     `json:"unit_price"`
	Quantity        int               `json:"quantity"`
	Weight          pricing.Money     `json:"weight"`
	ShippingPlanRef string            `json:"shipping_plan_ref,omitempty"`
	Promotion       *AppliedPromotion `json:"promotion,omitempty"`
	AddedAt         time.Time         `json:"added_at"`
}

// EffectiveUnitPrice is the snapshot price after a flat promotion.
func (l Line) EffectiveUnitPrice() pricing.Money {
	if l.Promotion.Active() && l.Promotion.Kind != promotion.KindBuyXGetY {
		return l.Promotion.Result.UnitPrice
	}
	return l.UnitPrice
}

// GiftTotal is the discounted total of the line's active gift, if any.
func (l Line) GiftTotal() pricing.Money {
	if g := l.Promotion.Gift(); g != nil {
		return g.DiscountedTotal
	}
	return pricing.Zero
}

// Subtotal is round(effectiveUnit*quantity) plus the discounted gift total.
func (l Line) Subtotal() pricing.Money {
	paid := pricing.Round(l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity))))
	return paid.Add(l.GiftTotal())
}

// Savings is what the promotion takes off the undiscounted line and gift.
func (l Line) Savings() pricing.Money {
	qty := decimal.NewFromInt(int64(l.Quantity))
	saved := l.UnitPrice.Sub(l.EffectiveUnitPrice()).Mul(qty)
	if g := l.Promotion.Gift(); g != nil {
		saved = saved.Add(g.Discount())
	}
	return pricing.Round(pricing.Clamp(saved))
}

// State is the persisted form of one cart.
type State struct {
	Key        Key                 `json:"key"`
	Lines      map[string]Line     `json:"lines"`
	Order      []string            `json:"order"`
	Shipping   shipping.Aggregator `json:"shipping"`
	CouponCode string              `json:"coupon_code,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// NewState returns an empty cart.
func NewState(key Key) State {
	return State{Key: key, Lines: map[string]Line{}}
}

// Empty reports whether the cart has no lines.
func (s State) Empty() bool {
	return len(s.Lines) == 0
}

// Ordered returns every line of s exactly once, in insertion order. Lines
// missing from Order follow, sorted by AddedAt then product ref.
func (s State) Ordered() []Line {
	out := make([]Line, 0, len(s.Lines))
	seen := make(map[string]bool, len(s.Lines))
	for _, ref := range s.Order {
		if l, ok := s.Lines[ref]; ok && !seen[ref] {
			seen[ref] = true
			out = append(out, l)
		}
	}
	var rest []Line
	for ref, l := range s.Lines {
		if !seen[ref] {
			rest = append(rest, l)
		}
	}
	slices.SortFunc(rest, func(a, b Line) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ProductRef, b.ProductRef)
	})
	return append(out, rest...)
}
