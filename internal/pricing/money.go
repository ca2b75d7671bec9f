package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an arbitrary-precision monetary amount.
type Money = decimal.Decimal

// Scale is the number of decimal places money is rounded to.
const Scale = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// Round rounds half away from zero to two decimal places. Money flowing through
// the engine is never negative so this is the usual half-up rule.
func Round(m Money) Money {
	return m.Round(Scale)
}

// Clamp floors negative amounts at zero.
func Clamp(m Money) Money {
	if m.IsNegative() {
		return Zero
	}
	return m
}

// Format renders m with exactly two decimals.
func Format(m Money) string {
	return m.StringFixed(Scale)
}

// Parse converts a decimal string into Money.
func Parse(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Zero, fmt.Errorf("pricing: empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("pricing: parse amount %q: %w", value, err)
	}
	return d, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(value string) Money {
	d, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return d
}

// Percent returns base*(pct/100).
func Percent(base Money, pct decimal.Decimal) Money {
	return base.Mul(pct).Div(decimal.NewFromInt(100))
}
