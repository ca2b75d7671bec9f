package shipping

import (
	"context"
	"errors"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// ErrNoPlanForRegion is returned by a Resolver when a plan does not serve the region.
var ErrNoPlanForRegion = errors.New("shipping plan does not serve region")

// Rates is the price contract of one shipping plan for one destination region.
type Rates struct {
	PlanRef             string        `json:"plan_ref"`
	Region              string        `json:"region"`
	BasePrice           pricing.Money `json:"base_price"`
	MinChargeableWeight pricing.Money `json:"min_chargeable_weight"`
	PricePerKilo        pricing.Money `json:"price_per_kilo"`
}

// WeightTierPrice is zero below the chargeable threshold and a flat
// PricePerKilo over the whole weight from the threshold on.
func (r Rates) WeightTierPrice(totalWeight pricing.Money) pricing.Money {
	if totalWeight.LessThan(r.MinChargeableWeight) {
		return pricing.Zero
	}
	return r.PricePerKilo.Mul(totalWeight)
}

// PlanCost prices a plan bucket holding totalWeight kilograms.
func (r Rates) PlanCost(totalWeight pricing.Money) pricing.Money {
	return r.BasePrice.Add(r.WeightTierPrice(totalWeight))
}

// Resolver looks up the rates of a plan for a destination region.
type Resolver interface {
	ResolvePlan(ctx context.Context, planRef, region string) (Rates, error)
}
