package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops the cached entry of a product.
func (c *Cache) Invalidate(ctx context.Context, ref string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, productKey(ref)).Err()
}

// CachedCatalog is a read-through Redis cache in front of another Catalog.
// Cache failures degrade to the underlying catalog.
type CachedCatalog struct {
	Next   Catalog
	Cache  *Cache
	Logger zerolog.Logger
}

// GetProduct implements Catalog.
func (c CachedCatalog) GetProduct(ctx context.Context, ref string) (Product, error) {
	key := productKey(ref)
	var p Product
	hit, err := c.Cache.GetJSON(ctx, key, &p)
	if err != nil {
		c.Logger.Warn().Err(err).Str("product", ref).Msg("catalog cache read failed")
	}
	if hit {
		return p, nil
	}
	p, err = c.Next.GetProduct(ctx, ref)
	if err != nil {
		return Product{}, err
	}
	if err := c.Cache.SetJSON(ctx, key, p); err != nil {
		c.Logger.Warn().Err(err).Str("product", ref).Msg("catalog cache write failed")
	}
	return p, nil
}

func productKey(ref string) string {
	return "catalog:product:" + ref
}
