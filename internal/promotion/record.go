package promotion

import (
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Record is the flat, nullable-column shape promotions are stored and
// authored in. FromRecord is the only way a Record becomes a Rule.
type Record struct {
	ID               string           `json:"id" validate:"required"`
	Active           bool             `json:"is_active"`
	StartAt          time.Time        `json:"start_date" validate:"required"`
	EndAt            time.Time        `json:"end_date" validate:"required,gtefield=StartAt"`
	UsageLimit       *int             `json:"usage_limit,omitempty" validate:"omitempty,gte=0"`
	UsageCount       int              `json:"usage_count" validate:"gte=0"`
	PercentageAmount *decimal.Decimal `json:"percentage_amount,omitempty"`
	FixedAmount      *decimal.Decimal `json:"fixed_amount,omitempty"`
	BQG              *BQGRecord       `json:"bqg,omitempty"`
}

// BQGRecord is the buy-x-get-y payload of a Record.
type BQGRecord struct {
	QuantityToBuy    int              `json:"quantity_to_buy" validate:"gte=1"`
	GiftRef          string           `json:"gift" validate:"required"`
	GiftQuantity     int              `json:"gift_quantity" validate:"gte=1"`
	PercentageAmount *decimal.Decimal `json:"percentage_amount,omitempty"`
	FixedAmount      *decimal.Decimal `json:"fixed_amount,omitempty"`
}

// FromRecord validates rec and converts it into a Rule. Every configuration
// error surfaces here, wrapped in ErrInvalidRule, so evaluation never has to
// deal with a malformed rule.
func FromRecord(rec Record) (Rule, error) {
	if err := validate.Struct(rec); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	mech, err := mechanismFromRecord(rec)
	if err != nil {
		return Rule{}, err
	}
	rule := Rule{
		ID:         rec.ID,
		Active:     rec.Active,
		StartAt:    rec.StartAt,
		EndAt:      rec.EndAt,
		UsageCount: rec.UsageCount,
		Mechanism:  mech,
	}
	if rec.UsageLimit != nil {
		limit := *rec.UsageLimit
		rule.UsageLimit = &limit
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// ToRecord flattens the rule back into its stored shape.
func (r Rule) ToRecord() Record {
	rec := Record{
		ID:         r.ID,
		Active:     r.Active,
		StartAt:    r.StartAt,
		EndAt:      r.EndAt,
		UsageCount: r.UsageCount,
	}
	if r.UsageLimit != nil {
		limit := *r.UsageLimit
		rec.UsageLimit = &limit
	}
	switch m := r.Mechanism.(type) {
	case Percentage:
		rec.PercentageAmount = decimalPtr(m.Value)
	case FixedAmount:
		rec.FixedAmount = decimalPtr(m.Value)
	case BuyXGetY:
		bqg := &BQGRecord{QuantityToBuy: m.BuyQuantity, GiftRef: m.GiftProductRef, GiftQuantity: m.GiftQuantity}
		switch g := m.GiftDiscount.(type) {
		case Percentage:
			bqg.PercentageAmount = decimalPtr(g.Value)
		case FixedAmount:
			bqg.FixedAmount = decimalPtr(g.Value)
		}
		rec.BQG = bqg
	}
	return rec
}

func mechanismFromRecord(rec Record) (Mechanism, error) {
	flat, err := flatFromAmounts(rec.PercentageAmount, rec.FixedAmount)
	if err != nil {
		return nil, err
	}
	if rec.BQG != nil {
		if flat != nil {
			return nil, fmt.Errorf("%w: buy-x-get-y promotion cannot have additional discount amounts", ErrInvalidRule)
		}
		gift, err := flatFromAmounts(rec.BQG.PercentageAmount, rec.BQG.FixedAmount)
		if err != nil {
			return nil, err
		}
		return BuyXGetY{
			BuyQuantity:    rec.BQG.QuantityToBuy,
			GiftProductRef: rec.BQG.GiftRef,
			GiftQuantity:   rec.BQG.GiftQuantity,
			GiftDiscount:   gift,
		}, nil
	}
	if flat == nil {
		return nil, fmt.Errorf("%w: either a buy-x-get-y payload or a discount amount must be set", ErrInvalidRule)
	}
	return flat, nil
}

// flatFromAmounts treats a zero amount the same as an absent one.
func flatFromAmounts(pct, fixed *decimal.Decimal) (FlatDiscount, error) {
	hasPct := pct != nil && !pct.IsZero()
	hasFixed := fixed != nil && !fixed.IsZero()
	switch {
	case hasPct && hasFixed:
		return nil, fmt.Errorf("%w: cannot have both percentage and fixed amount discounts", ErrInvalidRule)
	case hasPct:
		return Percentage{Value: *pct}, nil
	case hasFixed:
		return FixedAmount{Value: *fixed}, nil
	}
	return nil, nil
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
