package cart

import (
	"github.com/noah-isme/toko-promo/internal/pricing"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

// Summary is the priced view of a cart. GrandTotal is nil while shipping is
// unresolved.
type Summary struct {
	TotalItems int            `json:"total_items"`
	TotalPrice pricing.Money  `json:"total_price"`
	Savings    pricing.Money  `json:"savings"`
	Shipping   shipping.Cost  `json:"shipping"`
	GrandTotal *pricing.Money `json:"grand_total,omitempty"`
}

// Record renders the summary as plain string-keyed data for an outer layer.
func (s Summary) Record() map[string]any {
	grand := "unknown"
	if s.GrandTotal != nil {
		grand = pricing.Format(*s.GrandTotal)
	}
	return map[string]any{
		"total_items":   s.TotalItems,
		"total_price":   pricing.Format(s.TotalPrice),
		"savings":       pricing.Format(s.Savings),
		"shipping_cost": s.Shipping.String(),
		"grand_total":   grand,
	}
}
