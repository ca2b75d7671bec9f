package checkout

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/cart"
	"github.com/noah-isme/toko-promo/internal/pricing"
)

// ErrEmptyCart is returned when checking out a cart without lines.
var ErrEmptyCart = errors.New("cart is empty")

// Item is one immutable order line. Gift items come from buy-x-get-y promotions.
type Item struct {
	ProductRef  string        `json:"product_ref"`
	Name        string        `json:"name"`
	Quantity    int           `json:"quantity"`
	UnitPrice   pricing.Money `json:"unit_price"`
	Discount    pricing.Money `json:"discount"`
	Total       pricing.Money `json:"total"`
	Gift        bool          `json:"gift"`
	PromotionID string        `json:"promotion_id,omitempty"`
}

// Order is a priced, frozen cart.
type Order struct {
	ID         string         `json:"id"`
	CartKey    string         `json:"cart_key"`
	UserID     string         `json:"user_id,omitempty"`
	Region     string         `json:"region"`
	Currency   string         `json:"currency"`
	CouponCode string         `json:"coupon_code,omitempty"`
	Items      []Item         `json:"items"`
	Totals     pricing.Totals `json:"totals"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Assemble freezes a quoted cart into order items: one paid item per line and
// one gift item per active buy-x-get-y promotion.
func Assemble(state cart.State, q cart.Quote, currency string) (Order, error) {
	if state.Empty() {
		return Order{}, ErrEmptyCart
	}
	order := Order{
		CartKey:  string(state.Key),
		UserID:   state.Key.UserID(),
		Currency: currency,
		Totals:   q.Totals,
	}
	if q.Coupon != nil && q.Coupon.Accepted {
		order.CouponCode = q.Coupon.Code
	}
	for _, line := range state.Ordered() {
		qty := decimal.NewFromInt(int64(line.Quantity))
		effective := line.EffectiveUnitPrice()
		paid := Item{
			ProductRef: line.ProductRef,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Discount:   pricing.Round(pricing.Clamp(line.UnitPrice.Sub(effective).Mul(qty))),
			Total:      pricing.Round(effective.Mul(qty)),
		}
		if line.Promotion.Active() {
			paid.PromotionID = line.Promotion.RuleID
		}
		order.Items = append(order.Items, paid)
		if gift := line.Promotion.Gift(); gift != nil {
			order.Items = append(order.Items, Item{
				ProductRef:  gift.ProductRef,
				Name:        gift.Name,
				Quantity:    gift.Quantity,
				UnitPrice:   gift.UnitPrice,
				Discount:    gift.Discount(),
				Total:       gift.DiscountedTotal,
				Gift:        true,
				PromotionID: line.Promotion.RuleID,
			})
		}
	}
	return order, nil
}

// Promotions lists the distinct promotions that priced the order.
func (o Order) Promotions() []string {
	var ids []string
	seen := map[string]bool{}
	for _, it := range o.Items {
		if it.PromotionID == "" || seen[it.PromotionID] {
			continue
		}
		seen[it.PromotionID] = true
		ids = append(ids, it.PromotionID)
	}
	return ids
}

// Units sums the quantity to take out of stock per product, gifts included.
func (o Order) Units() map[string]int {
	units := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		units[it.ProductRef] += it.Quantity
	}
	return units
}
