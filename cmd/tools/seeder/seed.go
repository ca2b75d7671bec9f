package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

//go:embed seed.json
var defaultSeed []byte

// Document is the seed file layout.
type Document struct {
	Promotions    []promotion.Record `json:"promotions"`
	ShippingRates []shipping.Rates   `json:"shipping_rates"`
	Products      []catalog.Product  `json:"products"`
	Coupons       []coupon.Coupon    `json:"coupons"`
}

// execer is satisfied by pgx.Tx and *pgxpool.Pool.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode seed: %w", err)
	}
	return doc, doc.validate()
}

func (d Document) validate() error {
	var errs []error
	promotions := make(map[string]bool, len(d.Promotions))
	for _, rec := range d.Promotions {
		if _, err := promotion.FromRecord(rec); err != nil {
			errs = append(errs, fmt.Errorf("promotion %s: %w", rec.ID, err))
		}
		promotions[rec.ID] = true
	}
	plans := map[string]bool{}
	for _, r := range d.ShippingRates {
		if strings.TrimSpace(r.PlanRef) == "" {
			errs = append(errs, errors.New("shipping rate without plan_ref"))
		}
		plans[r.PlanRef] = true
	}
	products := make(map[string]bool, len(d.Products))
	for _, p := range d.Products {
		products[p.Ref] = true
	}
	for _, p := range d.Products {
		if p.Ref == "" || p.Name == "" {
			errs = append(errs, fmt.Errorf("product %q: ref and name are required", p.Ref))
		}
		if p.Stock < 0 || p.UnitPrice.IsNegative() || p.Weight.IsNegative() {
			errs = append(errs, fmt.Errorf("product %s: negative price, stock or weight", p.Ref))
		}
		if p.PromotionRef != "" && !promotions[p.PromotionRef] {
			errs = append(errs, fmt.Errorf("product %s: unknown promotion %s", p.Ref, p.PromotionRef))
		}
		if p.ShippingPlanRef != "" && !plans[p.ShippingPlanRef] {
			errs = append(errs, fmt.Errorf("product %s: unknown shipping plan %s", p.Ref, p.ShippingPlanRef))
		}
	}
	for _, rec := range d.Promotions {
		if rec.BQG != nil && !products[rec.BQG.GiftRef] {
			errs = append(errs, fmt.Errorf("promotion %s: unknown gift %s", rec.ID, rec.BQG.GiftRef))
		}
	}
	for _, c := range d.Coupons {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("coupon %s: %w", c.Code, err))
		}
	}
	return errors.Join(errs...)
}

// apply upserts the document. Promotions go first so products can reference them.
func (d Document) apply(ctx context.Context, db execer) error {
	for _, rec := range d.Promotions {
		var buyQty, giftQty *int
		var giftRef *string
		var giftPct, giftFixed any
		if rec.BQG != nil {
			buyQty, giftQty, giftRef = &rec.BQG.QuantityToBuy, &rec.BQG.GiftQuantity, &rec.BQG.GiftRef
			giftPct, giftFixed = nullable(rec.BQG.PercentageAmount), nullable(rec.BQG.FixedAmount)
		}
		if _, err := db.Exec(ctx, `INSERT INTO promotions (id, is_active, start_at, end_at, usage_limit, usage_count,
    percentage_amount, fixed_amount, bqg_quantity_to_buy, bqg_gift_ref, bqg_gift_quantity, bqg_percentage_amount, bqg_fixed_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
    usage_limit = EXCLUDED.usage_limit, percentage_amount = EXCLUDED.percentage_amount, fixed_amount = EXCLUDED.fixed_amount,
    bqg_quantity_to_buy = EXCLUDED.bqg_quantity_to_buy, bqg_gift_ref = EXCLUDED.bqg_gift_ref,
    bqg_gift_quantity = EXCLUDED.bqg_gift_quantity, bqg_percentage_amount = EXCLUDED.bqg_percentage_amount,
    bqg_fixed_amount = EXCLUDED.bqg_fixed_amount`,
			rec.ID, rec.Active, rec.StartAt, rec.EndAt, rec.UsageLimit, rec.UsageCount,
			nullable(rec.PercentageAmount), nullable(rec.FixedAmount), buyQty, giftRef, giftQty, giftPct, giftFixed); err != nil {
			return fmt.Errorf("seed promotion %s: %w", rec.ID, err)
		}
	}
	for _, r := range d.ShippingRates {
		region := strings.ToLower(strings.TrimSpace(r.Region))
		if region == "" {
			region = shipping.AnyRegion
		}
		if _, err := db.Exec(ctx, `INSERT INTO shipping_rates (plan_ref, region, base_price, min_chargeable_weight, price_per_kilo)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (plan_ref, region) DO UPDATE SET base_price = EXCLUDED.base_price,
    min_chargeable_weight = EXCLUDED.min_chargeable_weight, price_per_kilo = EXCLUDED.price_per_kilo, is_active = TRUE`,
			r.PlanRef, region, r.BasePrice, r.MinChargeableWeight, r.PricePerKilo); err != nil {
			return fmt.Errorf("seed shipping rate %s/%s: %w", r.PlanRef, region, err)
		}
	}
	for _, p := range d.Products {
		if _, err := db.Exec(ctx, `INSERT INTO products (slug, name, price, stock_quantity, weight, shipping_plan_ref, promotion_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, stock_quantity = EXCLUDED.stock_quantity,
    weight = EXCLUDED.weight, shipping_plan_ref = EXCLUDED.shipping_plan_ref, promotion_id = EXCLUDED.promotion_id, is_active = TRUE`,
			p.Ref, p.Name, p.UnitPrice, p.Stock, p.Weight, p.ShippingPlanRef, p.PromotionRef); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Ref, err)
		}
	}
	for _, c := range d.Coupons {
		allowed := c.AllowedUsers
		if allowed == nil {
			allowed = []string{}
		}
		if _, err := db.Exec(ctx, `INSERT INTO coupons (code, discount_type, discount_value, minimum_order_amount,
    usage_limit, usage_limit_per_user, allowed_users, is_active, start_at, end_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value,
    minimum_order_amount = EXCLUDED.minimum_order_amount, usage_limit = EXCLUDED.usage_limit,
    usage_limit_per_user = EXCLUDED.usage_limit_per_user, allowed_users = EXCLUDED.allowed_users,
    is_active = EXCLUDED.is_active, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at`,
			coupon.NormalizeCode(c.Code), string(c.Kind), c.Value, nullable(c.MinimumOrderAmount),
			c.UsageLimit, c.UsageLimitPerUser, allowed, c.Active, c.StartAt, c.EndAt); err != nil {
			return fmt.Errorf("seed coupon %s: %w", c.Code, err)
		}
	}
	return nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
