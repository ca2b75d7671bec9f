package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type queryProvider interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresCatalog reads products from the products table. Q may be a pool or
// a transaction.
type PostgresCatalog struct {
	Q queryProvider
}

// GetProduct implements Catalog.
func (c PostgresCatalog) GetProduct(ctx context.Context, ref string) (Product, error) {
	if c.Q == nil {
		return Product{}, errors.New("catalog not configured")
	}
	var (
		p         Product
		price     decimal.Decimal
		weight    decimal.NullDecimal
		plan      pgtype.Text
		promotion pgtype.Text
	)
	err := c.Q.QueryRow(ctx, `SELECT slug, name, price, stock_quantity, weight, shipping_plan_ref, promotion_id
FROM products WHERE slug = $1 AND is_active`, ref).Scan(&p.Ref, &p.Name, &price, &p.Stock, &weight, &plan, &promotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("load product %s: %w", ref, err)
	}
	p.UnitPrice = price
	if weight.Valid {
		p.Weight = weight.Decimal
	}
	p.ShippingPlanRef = plan.String
	p.PromotionRef = promotion.String
	return p, nil
}

// Reserve implements StockKeeper with a conditional decrement.
func (c PostgresCatalog) Reserve(ctx context.Context, ref string, quantity int) error {
	tag, err := c.Q.Exec(ctx, `UPDATE products SET stock_quantity = stock_quantity - $2
WHERE slug = $1 AND stock_quantity >= $2`, ref, quantity)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", ref, ErrInsufficientStock)
	}
	return nil
}
