package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/promotion"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresOrders commits an order, its stock reservations, coupon redemption
// and promotion usage in one transaction.
type PostgresOrders struct {
	DB TxBeginner
}

// Place implements OrderStore.
func (s PostgresOrders) Place(ctx context.Context, o Order, settle Settlement) error {
	if s.DB == nil {
		return errors.New("order store not configured")
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := settleWith(ctx, o, settle, catalog.PostgresCatalog{Q: tx}, coupon.PostgresStore{DB: tx}, promotion.PostgresStore{DB: tx}); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO orders (id, cart_key, user_id, region, currency, coupon_code,
    pricing_subtotal, pricing_discount, pricing_tax, pricing_shipping, pricing_total, status, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, 'PLACED', $12)`,
		o.ID, o.CartKey, o.UserID, o.Region, o.Currency, o.CouponCode,
		o.Totals.Subtotal, o.Totals.Discount, o.Totals.Tax, o.Totals.Shipping, o.Totals.Total, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, position, product_ref, name, quantity, unit_price, discount, total, gift_item, promotion_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
			o.ID, i, it.ProductRef, it.Name, it.Quantity, it.UnitPrice, it.Discount, it.Total, it.Gift, it.PromotionID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return tx.Commit(ctx)
}

// settleWith reserves stock, redeems the coupon and records promotion usage.
func settleWith(ctx context.Context, o Order, settle Settlement, stock catalog.StockKeeper, coupons coupon.Redeemer, usage promotion.UsageRecorder) error {
	if stock != nil {
		if err := reserveAll(ctx, stock, o.Units()); err != nil {
			return err
		}
	}
	if settle.Coupon != nil && coupons != nil {
		if err := coupons.Redeem(ctx, *settle.Coupon); err != nil {
			return fmt.Errorf("redeem coupon %s: %w", settle.Coupon.Code, err)
		}
	}
	if usage == nil {
		return nil
	}
	for _, id := range settle.Promotions {
		if err := usage.Increment(ctx, id); err != nil {
			return fmt.Errorf("record promotion %s: %w", id, err)
		}
	}
	return nil
}

// reserveAll takes stock in product order so concurrent orders lock rows consistently.
func reserveAll(ctx context.Context, stock catalog.StockKeeper, units map[string]int) error {
	refs := make([]string, 0, len(units))
	for ref := range units {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	for _, ref := range refs {
		if err := stock.Reserve(ctx, ref, units[ref]); err != nil {
			return err
		}
	}
	return nil
}

// MemoryOrders is an in-process OrderStore. It applies the settlement step by
// step and does not roll back earlier steps when a later one fails.
type MemoryOrders struct {
	Stock      catalog.StockKeeper
	Coupons    coupon.Redeemer
	Promotions promotion.UsageRecorder

	mu     sync.Mutex
	orders []Order
}

// Place implements OrderStore.
func (m *MemoryOrders) Place(ctx context.Context, o Order, settle Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := settleWith(ctx, o, settle, m.Stock, m.Coupons, m.Promotions); err != nil {
		return err
	}
	m.orders = append(m.orders, o)
	return nil
}

// Orders returns the committed orders.
func (m *MemoryOrders) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.orders)
}
