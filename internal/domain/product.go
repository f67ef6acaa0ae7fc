package domain

import "strings"

// Product is a tradable pair such as BTC-USD.
type Product struct {
	ID            string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Status        string `json:"status"`
}

// NewProduct derives base and quote currencies from a "BASE-QUOTE" id.
func NewProduct(id string) Product {
	base, quote, _ := strings.Cut(id, "-")
	return Product{
		ID:            id,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Status:        "online",
	}
}
