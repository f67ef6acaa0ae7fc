package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per product at
// "price:{productID}" holding the decimal "price" and the UnixNano "ts".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache on the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(productID string) string {
	return "price:" + productID
}

// SetPrice stores the latest point for the product.
func (pc *PriceCache) SetPrice(ctx context.Context, point domain.PricePoint) error {
	fields := map[string]any{
		"price": point.Price.String(),
		"ts":    strconv.FormatInt(point.Timestamp.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(point.ProductID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", point.ProductID, err)
	}
	return nil
}

// GetPrice returns the latest point or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, productID string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(productID)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", productID, err)
	}
	return decodePoint(productID, vals)
}

// GetPrices reads several products in one pipeline. Products without a price
// are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, productIDs []string) (map[string]domain.PricePoint, error) {
	out := make(map[string]domain.PricePoint, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(productIDs))
	for _, id := range productIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		p, err := decodePoint(id, vals)
		if err != nil {
			continue
		}
		out[id] = p
	}
	return out, nil
}

func decodePoint(productID string, vals map[string]string) (domain.PricePoint, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", productID, domain.ErrNotFound)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse price %s: %w", productID, err)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		n, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.PricePoint{}, fmt.Errorf("redis: parse ts %s: %w", productID, err)
		}
		ts = time.Unix(0, n).UTC()
	}
	return domain.PricePoint{ProductID: productID, Price: price, Timestamp: ts}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
