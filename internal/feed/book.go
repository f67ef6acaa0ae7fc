package feed

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// Synthetic order book shape around the broadcast price.
const bookDepth = 10

var (
	bidStart  = decimal.RequireFromString("0.999")
	askStart  = decimal.RequireFromString("1.001")
	levelStep = decimal.RequireFromString("0.0002")
	minSize   = decimal.RequireFromString("0.1")
	sizeRange = decimal.NewFromInt(2)
)

// SyntheticBook builds a depth-10 book around price: bids descend from
// price*0.999 and asks ascend from price*1.001, each level 0.02% further out.
// Sizes are drawn uniformly from [0.1, 2.1) and rounded to 6 decimals. randf
// must return values in [0, 1); nil uses math/rand/v2.
func SyntheticBook(productID string, price decimal.Decimal, now time.Time, randf func() float64) domain.OrderbookSnapshot {
	if randf == nil {
		randf = rand.Float64
	}
	places := pricePlaces(price)
	bid := price.Mul(bidStart)
	ask := price.Mul(askStart)

	snap := domain.OrderbookSnapshot{
		ProductID: productID,
		Bids:      make([]domain.PriceLevel, 0, bookDepth),
		Asks:      make([]domain.PriceLevel, 0, bookDepth),
		Timestamp: now,
	}
	for i := 0; i < bookDepth; i++ {
		off := levelStep.Mul(decimal.NewFromInt(int64(i)))
		snap.Bids = append(snap.Bids, domain.PriceLevel{
			Price: bid.Mul(decimal.NewFromInt(1).Sub(off)).RoundFloor(places),
			Size:  randomSize(randf),
		})
	}
	for i := 0; i < bookDepth; i++ {
		off := levelStep.Mul(decimal.NewFromInt(int64(i)))
		snap.Asks = append(snap.Asks, domain.PriceLevel{
			Price: ask.Mul(decimal.NewFromInt(1).Add(off)).RoundCeil(places),
			Size:  randomSize(randf),
		})
	}
	return snap
}

// pricePlaces keeps sub-unit prices from collapsing onto the broadcast price
// when rounded.
func pricePlaces(price decimal.Decimal) int32 {
	if price.Abs().LessThan(decimal.NewFromInt(1)) {
		return 8
	}
	return 2
}

func randomSize(randf func() float64) decimal.Decimal {
	return minSize.Add(decimal.NewFromFloat(randf()).Mul(sizeRange)).Round(6)
}

func encodeBook(snap domain.OrderbookSnapshot, price decimal.Decimal, now time.Time) ([]byte, error) {
	places := pricePlaces(price)
	levels := func(in []domain.PriceLevel) [][2]string {
		out := make([][2]string, len(in))
		for i, l := range in {
			out[i] = [2]string{l.Price.StringFixed(places), l.Size.StringFixed(6)}
		}
		return out
	}
	return json.Marshal(l2UpdateMessage{
		Type:      TypeL2Update,
		ProductID: snap.ProductID,
		Changes: l2Changes{
			Bids: levels(snap.Bids),
			Asks: levels(snap.Asks),
		},
		Time: FormatTime(now),
	})
}
