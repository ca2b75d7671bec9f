package pricing

import "github.com/shopspring/decimal"

// Shipping is a shipping charge that may not be known yet.
type Shipping struct {
	Amount Money
	Known  bool
}

// KnownShipping wraps a resolved shipping amount.
func KnownShipping(m Money) Shipping {
	return Shipping{Amount: m, Known: true}
}

// Totals aggregates computed pricing components.
type Totals struct {
	Subtotal      Money `json:"subtotal"`
	Discount      Money `json:"discount"`
	Tax           Money `json:"tax"`
	Shipping      Money `json:"shipping"`
	ShippingKnown bool  `json:"shipping_known"`
	Total         Money `json:"total"`
}

// Compute calculates order totals from a promotion-adjusted subtotal, an
// order-level discount, a tax rate in basis points and the shipping charge.
// When shipping is unknown the total covers goods and tax only and
// ShippingKnown is false so callers can refuse to charge it.
func Compute(subtotal, discount Money, taxBps int, shipping Shipping) Totals {
	subtotal = Round(Clamp(subtotal))
	discount = Round(Clamp(discount))
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	taxable := Clamp(subtotal.Sub(discount))
	var tax Money
	if taxBps > 0 {
		tax = Round(taxable.Mul(decimal.NewFromInt(int64(taxBps))).Div(decimal.NewFromInt(10000)))
	}
	total := taxable.Add(tax)
	var ship Money
	if shipping.Known {
		ship = Round(Clamp(shipping.Amount))
		total = total.Add(ship)
	}
	return Totals{
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           tax,
		Shipping:      ship,
		ShippingKnown: shipping.Known,
		Total:         Round(total),
	}
}
