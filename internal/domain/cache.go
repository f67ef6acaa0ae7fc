package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceStore is the authoritative source of current prices. The market-data
// feed reads from it; REST handlers and simulators write to it.
type PriceStore interface {
	GetCurrentPrice(ctx context.Context, productID string) (decimal.Decimal, error)
	SetPrice(ctx context.Context, productID string, price decimal.Decimal) (PricePoint, error)
}

// PriceCache holds the latest price per product. GetPrice returns ErrNotFound
// when nothing has been written for the product.
type PriceCache interface {
	SetPrice(ctx context.Context, point PricePoint) error
	GetPrice(ctx context.Context, productID string) (PricePoint, error)
	GetPrices(ctx context.Context, productIDs []string) (map[string]PricePoint, error)
}

// SignalBus provides pub/sub fan-out of price events to other processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Locker serialises work across sandbox instances. Acquire returns
// ErrLockHeld when another holder owns key; the returned release func may be
// called more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
