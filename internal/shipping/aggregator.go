package shipping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// Cost is a shipping total that may still be unknown. An unresolved Cost is
// not free shipping; callers must not treat its zero Amount as a price.
type Cost struct {
	Amount   pricing.Money `json:"amount"`
	Resolved bool          `json:"resolved"`
	Reason   string        `json:"reason,omitempty"`
	Plans    []PlanCost    `json:"plans,omitempty"`
}

// PlanCost is the priced contribution of one plan bucket.
type PlanCost struct {
	PlanRef    string        `json:"plan_ref"`
	Weight     pricing.Money `json:"weight"`
	BasePrice  pricing.Money `json:"base_price"`
	WeightCost pricing.Money `json:"weight_cost"`
	Total      pricing.Money `json:"total"`
}

// Unresolved builds the unknown-cost marker.
func Unresolved(reason string) Cost {
	return Cost{Reason: reason}
}

// String renders the amount, or "unknown" when unresolved.
func (c Cost) String() string {
	if !c.Resolved {
		return "unknown"
	}
	return pricing.Format(c.Amount)
}

// Pricing converts the cost for pricing.Compute.
func (c Cost) Pricing() pricing.Shipping {
	return pricing.Shipping{Amount: c.Amount, Known: c.Resolved}
}

// Aggregator accumulates product weights per shipping plan. Pricing is
// deferred until Total is called with a destination region.
type Aggregator struct {
	Buckets map[string]map[string]decimal.Decimal `json:"buckets,omitempty"`
}

// Add records unitWeight*quantity for productRef under planRef, replacing any
// earlier contribution of the product. Products without a plan ship free of
// charge and are not tracked.
func (a *Aggregator) Add(planRef, productRef string, unitWeight decimal.Decimal, quantity int) {
	a.Remove(productRef)
	planRef = strings.TrimSpace(planRef)
	if planRef == "" || quantity <= 0 {
		return
	}
	if a.Buckets == nil {
		a.Buckets = make(map[string]map[string]decimal.Decimal)
	}
	bucket, ok := a.Buckets[planRef]
	if !ok {
		bucket = make(map[string]decimal.Decimal)
		a.Buckets[planRef] = bucket
	}
	bucket[productRef] = pricing.Clamp(unitWeight).Mul(decimal.NewFromInt(int64(quantity)))
}

// Remove drops productRef from every bucket; empty buckets are discarded.
func (a *Aggregator) Remove(productRef string) {
	for plan, bucket := range a.Buckets {
		delete(bucket, productRef)
		if len(bucket) == 0 {
			delete(a.Buckets, plan)
		}
	}
}

// Reset clears all buckets.
func (a *Aggregator) Reset() {
	a.Buckets = nil
}

// PlanWeight sums the weights held under planRef.
func (a Aggregator) PlanWeight(planRef string) decimal.Decimal {
	total := decimal.Zero
	for _, w := range a.Buckets[planRef] {
		total = total.Add(w)
	}
	return total
}

// Plans lists bucket plan refs in sorted order.
func (a Aggregator) Plans() []string {
	plans := make([]string, 0, len(a.Buckets))
	for plan := range a.Buckets {
		plans = append(plans, plan)
	}
	sort.Strings(plans)
	return plans
}

// Total prices every bucket for region. Without a region, or when a plan does
// not serve it, the result is an unresolved Cost rather than zero.
func (a Aggregator) Total(ctx context.Context, resolver Resolver, region string) (Cost, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return Unresolved("destination region unknown"), nil
	}
	plans := a.Plans()
	if len(plans) > 0 && resolver == nil {
		return Cost{}, fmt.Errorf("shipping resolver not configured")
	}
	total := pricing.Zero
	breakdown := make([]PlanCost, 0, len(plans))
	for _, plan := range plans {
		rates, err := resolver.ResolvePlan(ctx, plan, region)
		if err != nil {
			if isNoPlan(err) {
				return Unresolved(fmt.Sprintf("shipping plan %s does not serve %s", plan, region)), nil
			}
			return Cost{}, fmt.Errorf("resolve shipping plan %s: %w", plan, err)
		}
		weight := a.PlanWeight(plan)
		weightCost := pricing.Round(rates.WeightTierPrice(weight))
		planTotal := pricing.Round(rates.BasePrice).Add(weightCost)
		breakdown = append(breakdown, PlanCost{
			PlanRef:    plan,
			Weight:     weight,
			BasePrice:  pricing.Round(rates.BasePrice),
			WeightCost: weightCost,
			Total:      planTotal,
		})
		total = total.Add(planTotal)
	}
	return Cost{Amount: pricing.Round(total), Resolved: true, Plans: breakdown}, nil
}
