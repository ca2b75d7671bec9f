package events

import (
	"context"
	"errors"
	"fmt"
)

// ProductInvalidator drops cached product data.
type ProductInvalidator interface {
	Invalidate(ctx context.Context, ref string) error
}

// InvalidateProducts evicts every ordered product, gifts included, so the
// next lookup reads the reserved stock.
func InvalidateProducts(inv ProductInvalidator) OrderPlacedFunc {
	return func(ctx context.Context, ev OrderPlaced) error {
		if inv == nil {
			return nil
		}
		seen := make(map[string]bool, len(ev.Items))
		var errs []error
		for _, it := range ev.Items {
			if seen[it.ProductRef] {
				continue
			}
			seen[it.ProductRef] = true
			if err := inv.Invalidate(ctx, it.ProductRef); err != nil {
				errs = append(errs, fmt.Errorf("invalidate %s: %w", it.ProductRef, err))
			}
		}
		return errors.Join(errs...)
	}
}
