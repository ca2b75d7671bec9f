package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

// Redemption is one confirmed use of a coupon on an order.
type Redemption struct {
	Code       string        `json:"code"`
	OrderID    string        `json:"order_id"`
	UserID     string        `json:"user_id,omitempty"`
	Amount     pricing.Money `json:"amount"`
	RedeemedAt time.Time     `json:"redeemed_at"`
}

// Redeemer records redemptions. Redeem must re-check the global and per-user
// limits atomically and be idempotent per (code, order).
type Redeemer interface {
	Redeem(ctx context.Context, r Redemption) error
}

// Store is the full coupon persistence capability.
type Store interface {
	Counter
	Redeemer
	GetByCode(ctx context.Context, code string) (Coupon, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	coupons     map[string]Coupon
	redemptions []Redemption
}

// NewMemoryStore seeds a store with coupons.
func NewMemoryStore(coupons ...Coupon) *MemoryStore {
	s := &MemoryStore{coupons: make(map[string]Coupon, len(coupons))}
	for _, c := range coupons {
		s.coupons[NormalizeCode(c.Code)] = c
	}
	return s
}

// Put inserts or replaces a coupon.
func (s *MemoryStore) Put(c Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[NormalizeCode(c.Code)] = c
}

// GetByCode implements Store.
func (s *MemoryStore) GetByCode(_ context.Context, code string) (Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[NormalizeCode(code)]
	if !ok {
		return Coupon{}, ErrNotFound
	}
	return c, nil
}

// CountRedemptions implements Counter.
func (s *MemoryStore) CountRedemptions(_ context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(NormalizeCode(code), ""), nil
}

// CountUserRedemptions implements Counter.
func (s *MemoryStore) CountUserRedemptions(_ context.Context, code, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(NormalizeCode(code), userID), nil
}

// Redeem implements Redeemer.
func (s *MemoryStore) Redeem(_ context.Context, r Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := NormalizeCode(r.Code)
	c, ok := s.coupons[code]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range s.redemptions {
		if NormalizeCode(existing.Code) == code && existing.OrderID == r.OrderID {
			return nil
		}
	}
	if c.UsageLimit != nil && s.countLocked(code, "") >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.UsageLimitPerUser != nil && r.UserID != "" && s.countLocked(code, r.UserID) >= *c.UsageLimitPerUser {
		return ErrPerUserLimitReached
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = time.Now().UTC()
	}
	r.Code = code
	s.redemptions = append(s.redemptions, r)
	return nil
}

// Redemptions returns a copy of every recorded redemption.
func (s *MemoryStore) Redemptions() []Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Redemption, len(s.redemptions))
	copy(out, s.redemptions)
	return out
}

func (s *MemoryStore) countLocked(code, userID string) int {
	n := 0
	for _, r := range s.redemptions {
		if NormalizeCode(r.Code) != code {
			continue
		}
		if userID != "" && r.UserID != userID {
			continue
		}
		n++
	}
	return n
}
