package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/noah-isme/toko-promo/internal/catalog"
	"github.com/noah-isme/toko-promo/internal/pricing"
	"github.com/noah-isme/toko-promo/internal/promotion"
	"github.com/noah-isme/toko-promo/internal/shipping"
)

var (
	// ErrInvalidQuantity is returned for quantities below one. Unlike an
	// over-stock request it is never clamped.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrLineNotFound indicates the product is not in the cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrOutOfStock is returned when adding a product with no stock left.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrPromotionNotToggleable is returned when toggling anything but a gift promotion.
	ErrPromotionNotToggleable = errors.New("only gift promotions can be switched on or off")
)

// Engine prices one cart. It mutates State in place and holds no locks; the
// caller owns serialisation and persistence.
type Engine struct {
	State      *State
	Catalog    catalog.Catalog
	Promotions promotion.Source
	Rates      shipping.Resolver
	Now        func() time.Time
	// OnEvaluate, when set, observes every promotion evaluation.
	OnEvaluate func(promotion.Result)
}

// AddLine adds quantity units of productRef to the cart. The resulting line
// quantity is silently capped at the available stock.
func (e *Engine) AddLine(ctx context.Context, productRef string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	product, err := e.product(ctx, productRef)
	if err != nil {
		return err
	}
	if product.Stock <= 0 {
		return fmt.Errorf("%s: %w", product.Ref, ErrOutOfStock)
	}
	e.ensure()
	line, ok := e.State.Lines[product.Ref]
	if ok {
		quantity += line.Quantity
	} else {
		line = Line{ProductRef: product.Ref, UnitPrice: pricing.Round(product.UnitPrice), AddedAt: e.now()}
	}
	return e.place(ctx, product, line, quantity)
}

// SetQuantity replaces the quantity of an existing line, capped at stock.
func (e *Engine) SetQuantity(ctx context.Context, productRef string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	line, ok := e.State.Lines[productRef]
	if !ok {
		return ErrLineNotFound
	}
	product, err := e.product(ctx, productRef)
	if err != nil {
		return err
	}
	if product.Stock <= 0 {
		return fmt.Errorf("%s: %w", product.Ref, ErrOutOfStock)
	}
	return e.place(ctx, product, line, quantity)
}

// RemoveLine drops the line and its shipping weight.
func (e *Engine) RemoveLine(productRef string) error {
	if _, ok := e.State.Lines[productRef]; !ok {
		return ErrLineNotFound
	}
	delete(e.State.Lines, productRef)
	e.State.Order = slices.DeleteFunc(e.State.Order, func(ref string) bool { return ref == productRef })
	e.State.Shipping.Remove(productRef)
	e.State.Shipping.Remove(giftParcelKey(productRef))
	return nil
}

// DeactivatePromotion switches off the gift of a buy-x-get-y line.
func (e *Engine) DeactivatePromotion(productRef string) error {
	line, err := e.toggleable(productRef)
	if err != nil {
		return err
	}
	line.Promotion.State = PromotionDeactivated
	e.State.Lines[productRef] = line
	e.State.Shipping.Remove(giftParcelKey(productRef))
	return nil
}

// ReactivatePromotion switches a gift back on. The rule is evaluated afresh
// at the current quantity; a rule that no longer exists is dropped.
func (e *Engine) ReactivatePromotion(ctx context.Context, productRef string) error {
	line, err := e.toggleable(productRef)
	if err != nil {
		return err
	}
	applied, err := e.evaluate(ctx, line.Promotion.RuleID, line, nil)
	if err != nil {
		return err
	}
	line.Promotion = applied
	parcel, err := e.giftParcel(ctx, line)
	if err != nil {
		return err
	}
	e.State.Lines[productRef] = line
	parcel.apply(&e.State.Shipping, productRef)
	return nil
}

// Clear empties the cart and drops its coupon.
func (e *Engine) Clear() {
	e.State.Lines = map[string]Line{}
	e.State.Order = nil
	e.State.Shipping.Reset()
	e.State.CouponCode = ""
}

// Absorb moves the lines of another cart into this one, as when a guest logs
// in. Quantities are summed and capped at current stock; products that
// vanished or sold out are skipped.
func (e *Engine) Absorb(ctx context.Context, other State) error {
	e.ensure()
	for _, l := range other.Ordered() {
		product, err := e.product(ctx, l.ProductRef)
		if errors.Is(err, catalog.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if product.Stock <= 0 {
			continue
		}
		quantity := l.Quantity
		line, ok := e.State.Lines[product.Ref]
		if ok {
			quantity += line.Quantity
			if line.Promotion == nil {
				line.Promotion = l.Promotion
			}
		} else {
			line = l
		}
		if err := e.place(ctx, product, line, quantity); err != nil {
			return err
		}
	}
	if e.State.CouponCode == "" {
		e.State.CouponCode = other.CouponCode
	}
	return nil
}

// Lines returns the cart lines in the order they were added.
func (e *Engine) Lines() []Line {
	return e.State.Ordered()
}

// Summary totals the cart. It only reads state, so repeated calls without a
// mutation in between return identical results.
func (e *Engine) Summary(ctx context.Context, region string) (Summary, error) {
	sum := Summary{TotalPrice: pricing.Zero, Savings: pricing.Zero}
	for _, l := range e.State.Ordered() {
		sum.TotalItems += l.Quantity
		sum.TotalPrice = sum.TotalPrice.Add(l.Subtotal())
		sum.Savings = sum.Savings.Add(l.Savings())
	}
	cost, err := e.State.Shipping.Total(ctx, e.Rates, region)
	if err != nil {
		return Summary{}, err
	}
	sum.Shipping = cost
	if cost.Resolved {
		grand := sum.TotalPrice.Add(cost.Amount)
		sum.GrandTotal = &grand
	}
	return sum, nil
}

func (e *Engine) place(ctx context.Context, product catalog.Product, line Line, quantity int) error {
	line.Name = product.Name
	line.Quantity = min(quantity, product.Stock)
	line.Weight = product.Weight
	line.ShippingPlanRef = product.ShippingPlanRef
	applied, err := e.evaluate(ctx, product.PromotionRef, line, line.Promotion)
	if err != nil {
		return err
	}
	line.Promotion = applied
	parcel, err := e.giftParcel(ctx, line)
	if err != nil {
		return err
	}

	// Nothing below can fail, so a failed place leaves State untouched.
	if !slices.Contains(e.State.Order, product.Ref) {
		e.State.Order = append(e.State.Order, product.Ref)
	}
	e.State.Lines[product.Ref] = line
	e.State.Shipping.Add(product.ShippingPlanRef, product.Ref, product.Weight, line.Quantity)
	parcel.apply(&e.State.Shipping, product.Ref)
	return nil
}

// giftParcel is the shipping contribution of a line's active gift.
type giftParcel struct {
	planRef  string
	weight   pricing.Money
	quantity int
}

func (p giftParcel) apply(agg *shipping.Aggregator, lineRef string) {
	agg.Add(p.planRef, giftParcelKey(lineRef), p.weight, p.quantity)
}

func giftParcelKey(lineRef string) string {
	return "gift:" + lineRef
}

// giftParcel looks up the gift product so the gift ships under its own plan.
// A line without an active gift yields an empty parcel, which clears any
// earlier gift weight when applied.
func (e *Engine) giftParcel(ctx context.Context, line Line) (giftParcel, error) {
	g := line.Promotion.Gift()
	if g == nil {
		return giftParcel{}, nil
	}
	gift, err := e.product(ctx, g.ProductRef)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return giftParcel{}, nil
	}
	if err != nil {
		return giftParcel{}, err
	}
	return giftParcel{planRef: gift.ShippingPlanRef, weight: gift.Weight, quantity: g.Quantity}, nil
}

// unitsHeld counts units of ref the cart already claims besides line's own
// gift: paid quantities (line's new quantity when ref is line's product) and
// the active gifts of other lines.
func (e *Engine) unitsHeld(ref string, line Line) int {
	held := 0
	if line.ProductRef == ref {
		held += line.Quantity
	}
	for other, l := range e.State.Lines {
		if other == line.ProductRef {
			continue
		}
		if other == ref {
			held += l.Quantity
		}
		if g := l.Promotion.Gift(); g != nil && g.ProductRef == ref {
			held += g.Quantity
		}
	}
	return held
}

// evaluate freezes the outcome of ruleRef for line. A customer's choice to
// switch a gift off survives re-evaluation of the same rule.
func (e *Engine) evaluate(ctx context.Context, ruleRef string, line Line, prev *AppliedPromotion) (*AppliedPromotion, error) {
	if ruleRef == "" || e.Promotions == nil {
		return nil, nil
	}
	rule, err := e.Promotions.Get(ctx, ruleRef)
	if errors.Is(err, promotion.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load promotion %s: %w", ruleRef, err)
	}
	in := promotion.EvalInput{Now: e.now(), Quantity: line.Quantity, ReferencePrice: line.UnitPrice}
	if bqg, ok := rule.Mechanism.(promotion.BuyXGetY); ok {
		gift, err := e.Catalog.GetProduct(ctx, bqg.GiftProductRef)
		switch {
		case err == nil:
			stock := max(gift.Stock-e.unitsHeld(gift.Ref, line), 0)
			in.Gift = &promotion.GiftSnapshot{Ref: gift.Ref, Name: gift.Name, UnitPrice: gift.UnitPrice, Stock: stock}
		case !errors.Is(err, catalog.ErrProductNotFound):
			return nil, fmt.Errorf("load gift %s: %w", bqg.GiftProductRef, err)
		}
	}
	res := rule.Evaluate(in)
	if e.OnEvaluate != nil {
		e.OnEvaluate(res)
	}
	applied := &AppliedPromotion{RuleID: rule.ID, Kind: rule.Kind(), State: PromotionActive, Result: res}
	if prev != nil && prev.RuleID == rule.ID && prev.State == PromotionDeactivated {
		applied.State = PromotionDeactivated
	}
	return applied, nil
}

func (e *Engine) toggleable(productRef string) (Line, error) {
	line, ok := e.State.Lines[productRef]
	if !ok {
		return Line{}, ErrLineNotFound
	}
	if line.Promotion == nil || line.Promotion.Kind != promotion.KindBuyXGetY {
		return Line{}, ErrPromotionNotToggleable
	}
	return line, nil
}

func (e *Engine) product(ctx context.Context, ref string) (catalog.Product, error) {
	if e.Catalog == nil {
		return catalog.Product{}, errors.New("cart engine: catalog not configured")
	}
	p, err := e.Catalog.GetProduct(ctx, ref)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("product %s: %w", ref, err)
	}
	return p, nil
}

func (e *Engine) ensure() {
	if e.State.Lines == nil {
		e.State.Lines = map[string]Line{}
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
