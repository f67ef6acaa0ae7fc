package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
)

const seedBuffer = 1024

type seed struct {
	productID string
	price     decimal.Decimal
}

// Poller watches the price store for products that have price subscribers and
// broadcasts each change once. The last-known-price cache belongs to the
// goroutine running Run (or calling Tick); other goroutines reach it only
// through Seed.
type Poller struct {
	registry   *Registry
	prices     domain.PriceStore
	dispatcher *Dispatcher
	interval   time.Duration
	backoff    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	seeds   chan seed
	last    map[string]decimal.Decimal
	watched map[string]struct{}
	missing map[string]struct{}
}

// Seed records the price a connection was just sent on subscribe. It is
// applied at the start of the next tick and replaces the cached price unless
// the product already had price subscribers on the previous tick, whose last
// broadcast must still be compared against. Seeds are dropped when the buffer
// is full; the cost is one redundant broadcast.
func (p *Poller) Seed(productID string, price decimal.Decimal) {
	select {
	case p.seeds <- seed{productID: productID, price: price}:
	default:
	}
}

// Run ticks every interval until ctx is cancelled. A tick that panics is
// logged and followed by the longer backoff delay.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("price poller started",
		slog.Duration("interval", p.interval),
		slog.Duration("backoff", p.backoff),
	)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("price poller stopped")
			return ctx.Err()
		case <-timer.C:
		}

		wait := p.interval
		if err := p.safeTick(ctx); err != nil {
			p.metrics.PollerRecovered()
			p.logger.Error("price poll tick failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", p.backoff),
			)
			wait = p.backoff
		}
		timer.Reset(wait)
	}
}

func (p *Poller) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feed: poll tick panic: %v", r)
		}
	}()
	p.Tick(ctx)
	return nil
}

// Tick runs one poll pass and returns the number of products broadcast.
func (p *Poller) Tick(ctx context.Context) int {
	p.drainSeeds()

	products := p.registry.PriceProducts()
	watched := make(map[string]struct{}, len(products))
	for _, productID := range products {
		watched[productID] = struct{}{}
	}
	p.watched = watched

	changed := 0
	for _, productID := range products {
		if ctx.Err() != nil {
			return changed
		}

		price, err := p.prices.GetCurrentPrice(ctx, productID)
		if err != nil {
			if ctx.Err() != nil {
				return changed
			}
			p.metrics.FetchFailed()
			p.logMissing(productID, err)
			continue
		}
		delete(p.missing, productID)

		if last, ok := p.last[productID]; ok && last.Equal(price) {
			continue
		}
		p.last[productID] = price
		p.dispatcher.Broadcast(productID, price)
		changed++
	}

	for productID := range p.missing {
		if _, ok := watched[productID]; !ok {
			delete(p.missing, productID)
		}
	}
	return changed
}

func (p *Poller) drainSeeds() {
	for {
		select {
		case s := <-p.seeds:
			if _, ok := p.watched[s.productID]; !ok {
				p.last[s.productID] = s.price
				continue
			}
			if _, ok := p.last[s.productID]; !ok {
				p.last[s.productID] = s.price
			}
		default:
			return
		}
	}
}

// logMissing warns once per product until a read succeeds again. Clients may
// subscribe to ids that never get a price.
func (p *Poller) logMissing(productID string, err error) {
	if _, seen := p.missing[productID]; seen {
		p.logger.Debug("price still unavailable",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.missing[productID] = struct{}{}
	p.logger.Warn("price unavailable, skipping",
		slog.String("product_id", productID),
		slog.String("error", err.Error()),
	)
}
