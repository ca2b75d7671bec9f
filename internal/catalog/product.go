package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

var (
	// ErrProductNotFound indicates the product reference is unknown to the catalog.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned when a reservation exceeds the stock left.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the slice of catalog data the pricing engine consumes.
type Product struct {
	Ref             string        `json:"ref"`
	Name            string        `json:"name"`
	UnitPrice       pricing.Money `json:"unit_price"`
	Stock           int           `json:"stock"`
	Weight          pricing.Money `json:"weight"`
	ShippingPlanRef string        `json:"shipping_plan_ref,omitempty"`
	PromotionRef    string        `json:"promotion_ref,omitempty"`
}

// Catalog resolves products by reference.
type Catalog interface {
	GetProduct(ctx context.Context, ref string) (Product, error)
}

// StockKeeper takes sold units out of stock. Reserve must be atomic and fail
// with ErrInsufficientStock rather than drive stock negative.
type StockKeeper interface {
	Reserve(ctx context.Context, ref string, quantity int) error
}

// MemoryCatalog is an in-process Catalog and StockKeeper.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryCatalog seeds a catalog with products.
func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.Ref] = p
	}
	return c
}

// Put inserts or replaces a product.
func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.Ref] = p
}

// SetStock updates the stock of an existing product.
func (c *MemoryCatalog) SetStock(ref string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[ref]; ok {
		p.Stock = stock
		c.products[ref] = p
	}
}

// GetProduct implements Catalog.
func (c *MemoryCatalog) GetProduct(_ context.Context, ref string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[strings.TrimSpace(ref)]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// Reserve implements StockKeeper.
func (c *MemoryCatalog) Reserve(_ context.Context, ref string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[ref]
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock < quantity {
		return fmt.Errorf("%s: %w", ref, ErrInsufficientStock)
	}
	p.Stock -= quantity
	c.products[ref] = p
	return nil
}
