// Package memory provides process-local implementations of the price cache and
// price history store used by the "memory" run mode and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// PriceCache implements domain.PriceCache with a mutex-guarded map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]domain.PricePoint
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]domain.PricePoint)}
}

// SetPrice stores the latest point for the product, replacing any previous one.
func (c *PriceCache) SetPrice(_ context.Context, point domain.PricePoint) error {
	c.mu.Lock()
	c.prices[point.ProductID] = point
	c.mu.Unlock()
	return nil
}

// GetPrice returns the latest point or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, productID string) (domain.PricePoint, error) {
	c.mu.RLock()
	p, ok := c.prices[productID]
	c.mu.RUnlock()
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("memory: get price %s: %w", productID, domain.ErrNotFound)
	}
	return p, nil
}

// GetPrices returns the latest points for the given products. Products without
// a price are omitted from the result.
func (c *PriceCache) GetPrices(_ context.Context, productIDs []string) (map[string]domain.PricePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.PricePoint, len(productIDs))
	for _, id := range productIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
