package promotion

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// GiftSnapshot is the catalog state of a buy-x-get-y gift at evaluation time.
type GiftSnapshot struct {
	Ref       string
	Name      string
	UnitPrice pricing.Money
	Stock     int
}

// EvalInput carries everything Evaluate needs besides the rule itself.
type EvalInput struct {
	Now            time.Time
	Quantity       int
	ReferencePrice pricing.Money
	Gift           *GiftSnapshot
}

// GiftResult is the priced gift line produced by an applicable buy-x-get-y rule.
type GiftResult struct {
	ProductRef      string        `json:"product_ref"`
	Name            string        `json:"name,omitempty"`
	Quantity        int           `json:"quantity"`
	UnitPrice       pricing.Money `json:"unit_price"`
	BaseTotal       pricing.Money `json:"base_total"`
	DiscountedTotal pricing.Money `json:"discounted_total"`
}

// Discount is the amount taken off the gift total.
func (g GiftResult) Discount() pricing.Money {
	return pricing.Clamp(g.BaseTotal.Sub(g.DiscountedTotal))
}

// Result is the frozen outcome of evaluating a rule. A rule that does not
// apply is reported with Applicable=false and a customer-facing Message; it is
// never an error.
type Result struct {
	RuleID      string        `json:"rule_id"`
	Kind        Kind          `json:"kind"`
	Applicable  bool          `json:"applicable"`
	Description string        `json:"description,omitempty"`
	UnitPrice   pricing.Money `json:"unit_price"`
	Gift        *GiftResult   `json:"gift,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Evaluate applies the rule to a line of Quantity units priced at
// ReferencePrice. It never mutates the rule.
func (r Rule) Evaluate(in EvalInput) Result {
	res := Result{
		RuleID:      r.ID,
		Kind:        r.Kind(),
		Description: r.Describe(),
		UnitPrice:   pricing.Round(in.ReferencePrice),
	}
	if reason := r.invalidReason(in.Now); reason != "" {
		res.Message = reason
		return res
	}
	switch m := r.Mechanism.(type) {
	case Percentage:
		res.Applicable = true
		res.UnitPrice = pricing.Round(m.Apply(in.ReferencePrice))
		res.Message = m.Describe()
	case FixedAmount:
		res.Applicable = true
		res.UnitPrice = pricing.Round(m.Apply(in.ReferencePrice))
		res.Message = m.Describe()
	case BuyXGetY:
		m.evaluate(&res, in)
	default:
		res.Message = "Promotion has no discount."
	}
	return res
}

func (b BuyXGetY) evaluate(res *Result, in EvalInput) {
	if in.Gift == nil {
		res.Message = "Gift product is unavailable."
		return
	}
	gift := b.price(*in.Gift)
	name := giftName(*in.Gift)
	if in.Quantity < b.BuyQuantity {
		res.Message = fmt.Sprintf("Buy %d to get %d %s %s", b.BuyQuantity, b.GiftQuantity, name, offerText(gift.DiscountedTotal))
		return
	}
	if in.Gift.Stock < b.GiftQuantity {
		res.Message = fmt.Sprintf("%s is out of stock for this offer.", name)
		return
	}
	res.Applicable = true
	res.Gift = &gift
	res.Message = fmt.Sprintf("You get %d %s %s", b.GiftQuantity, name, offerText(gift.DiscountedTotal))
}

func (b BuyXGetY) price(snap GiftSnapshot) GiftResult {
	base := snap.UnitPrice.Mul(decimal.NewFromInt(int64(b.GiftQuantity)))
	discounted := base
	if b.GiftDiscount != nil {
		discounted = b.GiftDiscount.Apply(base)
	}
	return GiftResult{
		ProductRef:      snap.Ref,
		Name:            snap.Name,
		Quantity:        b.GiftQuantity,
		UnitPrice:       pricing.Round(snap.UnitPrice),
		BaseTotal:       pricing.Round(base),
		DiscountedTotal: pricing.Round(pricing.Clamp(discounted)),
	}
}

func giftName(snap GiftSnapshot) string {
	if snap.Name != "" {
		return snap.Name
	}
	return snap.Ref
}

func offerText(total pricing.Money) string {
	if total.IsZero() {
		return "for free"
	}
	return "for " + pricing.Format(total)
}
