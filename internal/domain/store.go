package domain

import (
	"context"
	"time"
)

// PriceHistoryStore keeps every price written through the price service.
type PriceHistoryStore interface {
	Append(ctx context.Context, point PricePoint) error
	// Range returns points for productID with start <= ts <= end, oldest first.
	Range(ctx context.Context, productID string, start, end time.Time) ([]PricePoint, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]PricePoint, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
