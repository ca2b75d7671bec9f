package coupon

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx. Inside an outer transaction
// Begin opens a savepoint.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists coupons and their redemptions.
type PostgresStore struct {
	DB DB
}

// GetByCode implements Store.
func (s PostgresStore) GetByCode(ctx context.Context, code string) (Coupon, error) {
	if s.DB == nil {
		return Coupon{}, errors.New("coupon store not configured")
	}
	var (
		c         Coupon
		kind      string
		minimum   decimal.NullDecimal
		limit     pgtype.Int4
		limitUser pgtype.Int4
		allowed   []string
	)
	err := s.DB.QueryRow(ctx, `SELECT code, discount_type, discount_value, minimum_order_amount,
       usage_limit, usage_limit_per_user, allowed_users, is_active, start_at, end_at
FROM coupons WHERE code = $1`, NormalizeCode(code)).Scan(
		&c.Code, &kind, &c.Value, &minimum, &limit, &limitUser, &allowed, &c.Active, &c.StartAt, &c.EndAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coupon{}, ErrNotFound
		}
		return Coupon{}, fmt.Errorf("load coupon: %w", err)
	}
	c.Kind = Kind(kind)
	if minimum.Valid {
		m := minimum.Decimal
		c.MinimumOrderAmount = &m
	}
	c.UsageLimit = intPtr(limit)
	c.UsageLimitPerUser = intPtr(limitUser)
	c.AllowedUsers = allowed
	return c, nil
}

// CountRedemptions implements Counter.
func (s PostgresStore) CountRedemptions(ctx context.Context, code string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT count(*) FROM coupon_redemptions r
JOIN coupons c ON c.id = r.coupon_id WHERE c.code = $1`, NormalizeCode(code)).Scan(&n)
	return n, err
}

// CountUserRedemptions implements Counter.
func (s PostgresStore) CountUserRedemptions(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT count(*) FROM coupon_redemptions r
JOIN coupons c ON c.id = r.coupon_id WHERE c.code = $1 AND r.user_id = $2`, NormalizeCode(code), userID).Scan(&n)
	return n, err
}

// Redeem implements Redeemer. The coupon row is locked for the duration so
// concurrent redemptions are serialised against the limits.
func (s PostgresStore) Redeem(ctx context.Context, r Redemption) error {
	if s.DB == nil {
		return errors.New("coupon store not configured")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		couponID  pgtype.UUID
		limit     pgtype.Int4
		limitUser pgtype.Int4
	)
	err = tx.QueryRow(ctx, `SELECT id, usage_limit, usage_limit_per_user FROM coupons WHERE code = $1 FOR UPDATE`,
		NormalizeCode(r.Code)).Scan(&couponID, &limit, &limitUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock coupon: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND order_id = $2)`,
		couponID, r.OrderID).Scan(&exists); err != nil {
		return fmt.Errorf("check redemption: %w", err)
	}
	if exists {
		return tx.Commit(ctx)
	}
	if limit.Valid {
		var used int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1`, couponID).Scan(&used); err != nil {
			return fmt.Errorf("count redemptions: %w", err)
		}
		if used >= int(limit.Int32) {
			return ErrUsageLimitReached
		}
	}
	if limitUser.Valid && r.UserID != "" {
		var used int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`,
			couponID, r.UserID).Scan(&used); err != nil {
			return fmt.Errorf("count user redemptions: %w", err)
		}
		if used >= int(limitUser.Int32) {
			return ErrPerUserLimitReached
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO coupon_redemptions (id, coupon_id, order_id, user_id, amount, redeemed_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, now())`, uuid.New(), couponID, r.OrderID, r.UserID, r.Amount); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return tx.Commit(ctx)
}

func intPtr(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
