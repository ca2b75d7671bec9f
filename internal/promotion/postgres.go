package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore reads promotions from the promotions table.
type PostgresStore struct {
	DB DB
}

const selectPromotion = `SELECT id, is_active, start_at, end_at, usage_limit, usage_count,
       percentage_amount, fixed_amount,
       bqg_quantity_to_buy, bqg_gift_ref, bqg_gift_quantity, bqg_percentage_amount, bqg_fixed_amount
FROM promotions WHERE id = $1`

// Get implements Source. Rows failing validation are reported as ErrInvalidRule.
func (s PostgresStore) Get(ctx context.Context, id string) (Rule, error) {
	if s.DB == nil {
		return Rule{}, errors.New("promotion store not configured")
	}
	var (
		rec                Record
		usageLimit         pgtype.Int4
		pct, fixed         decimal.NullDecimal
		buyQty             pgtype.Int4
		giftRef            pgtype.Text
		giftQty            pgtype.Int4
		giftPct, giftFixed decimal.NullDecimal
	)
	err := s.DB.QueryRow(ctx, selectPromotion, id).Scan(
		&rec.ID, &rec.Active, &rec.StartAt, &rec.EndAt, &usageLimit, &rec.UsageCount,
		&pct, &fixed,
		&buyQty, &giftRef, &giftQty, &giftPct, &giftFixed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, fmt.Errorf("load promotion %s: %w", id, err)
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int32)
		rec.UsageLimit = &limit
	}
	rec.PercentageAmount = nullDecimal(pct)
	rec.FixedAmount = nullDecimal(fixed)
	if buyQty.Valid {
		rec.BQG = &BQGRecord{
			QuantityToBuy:    int(buyQty.Int32),
			GiftRef:          giftRef.String,
			GiftQuantity:     int(giftQty.Int32),
			PercentageAmount: nullDecimal(giftPct),
			FixedAmount:      nullDecimal(giftFixed),
		}
	}
	return FromRecord(rec)
}

// Increment implements UsageRecorder with a single conditional update so two
// concurrent redemptions cannot both pass the limit.
func (s PostgresStore) Increment(ctx context.Context, id string) error {
	if s.DB == nil {
		return errors.New("promotion store not configured")
	}
	tag, err := s.DB.Exec(ctx, `UPDATE promotions SET usage_count = usage_count + 1
WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, id)
	if err != nil {
		return fmt.Errorf("increment promotion usage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM promotions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check promotion: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrUsageLimitReached
}

func nullDecimal(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
