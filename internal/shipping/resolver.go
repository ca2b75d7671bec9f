package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// AnyRegion keys a StaticTable entry that serves every region without its own entry.
const AnyRegion = "*"

func isNoPlan(err error) bool {
	return errors.Is(err, ErrNoPlanForRegion)
}

// StaticTable is an in-memory Resolver keyed by plan then region.
type StaticTable struct {
	mu    sync.RWMutex
	plans map[string]map[string]Rates
}

// NewStaticTable builds a table from rates; Rates.Region may be AnyRegion.
func NewStaticTable(rates ...Rates) *StaticTable {
	t := &StaticTable{plans: make(map[string]map[string]Rates)}
	for _, r := range rates {
		t.Put(r)
	}
	return t
}

// Put inserts or replaces a rate entry.
func (t *StaticTable) Put(r Rates) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.plans == nil {
		t.plans = make(map[string]map[string]Rates)
	}
	byRegion, ok := t.plans[r.PlanRef]
	if !ok {
		byRegion = make(map[string]Rates)
		t.plans[r.PlanRef] = byRegion
	}
	byRegion[strings.ToLower(r.Region)] = r
}

// ResolvePlan implements Resolver.
func (t *StaticTable) ResolvePlan(_ context.Context, planRef, region string) (Rates, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byRegion, ok := t.plans[planRef]
	if !ok {
		return Rates{}, fmt.Errorf("plan %s: %w", planRef, ErrNoPlanForRegion)
	}
	if r, ok := byRegion[strings.ToLower(region)]; ok {
		return r, nil
	}
	if r, ok := byRegion[AnyRegion]; ok {
		return r, nil
	}
	return Rates{}, fmt.Errorf("plan %s region %s: %w", planRef, region, ErrNoPlanForRegion)
}

// Querier is the subset of pgxpool.Pool used by PostgresRates.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRates resolves rates from the shipping_rates table.
type PostgresRates struct {
	DB Querier
}

// ResolvePlan implements Resolver.
func (p PostgresRates) ResolvePlan(ctx context.Context, planRef, region string) (Rates, error) {
	if p.DB == nil {
		return Rates{}, errors.New("shipping rates not configured")
	}
	r := Rates{PlanRef: planRef, Region: region}
	var base, minWeight, perKilo string
	err := p.DB.QueryRow(ctx, `SELECT base_price::text, min_chargeable_weight::text, price_per_kilo::text
FROM shipping_rates
WHERE plan_ref = $1 AND region IN ($2, '*') AND is_active
ORDER BY region = '*' LIMIT 1`, planRef, strings.ToLower(region)).Scan(&base, &minWeight, &perKilo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rates{}, fmt.Errorf("plan %s region %s: %w", planRef, region, ErrNoPlanForRegion)
		}
		return Rates{}, err
	}
	if r.BasePrice, err = pricing.Parse(base); err != nil {
		return Rates{}, err
	}
	if r.MinChargeableWeight, err = pricing.Parse(minWeight); err != nil {
		return Rates{}, err
	}
	if r.PricePerKilo, err = pricing.Parse(perKilo); err != nil {
		return Rates{}, err
	}
	return r, nil
}
