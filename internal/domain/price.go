package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observation of a product's price.
type PricePoint struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
