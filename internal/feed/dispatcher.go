package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
)

// Dispatcher delivers frames to registered connections. A failed send is not
// retried: the connection is removed from the registry and closed in the
// background so other recipients are never held up.
type Dispatcher struct {
	registry     *Registry
	now          func() time.Time
	randf        func() float64
	closeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Broadcast sends a ticker for productID to every connection subscribed to
// ticker or level2 for it, followed by a synthetic l2update for level2
// subscribers. It returns the number of connections that received the ticker.
func (d *Dispatcher) Broadcast(productID string, price decimal.Decimal) int {
	now := d.now()
	tickerKey := Key{Channel: ChannelTicker, ProductID: productID}
	bookKey := Key{Channel: ChannelLevel2, ProductID: productID}

	var ticker, book []byte
	sent := 0
	for _, c := range d.registry.Snapshot() {
		wantsTicker, wantsBook := c.Has(tickerKey), c.Has(bookKey)
		if !wantsTicker && !wantsBook {
			continue
		}

		if ticker == nil {
			var err error
			if ticker, err = encodeTicker(productID, price, now); err != nil {
				d.logger.Error("encode ticker failed",
					slog.String("product_id", productID),
					slog.String("error", err.Error()),
				)
				return sent
			}
		}
		if !d.deliver(c, TypeTicker, ticker) {
			continue
		}
		sent++

		if !wantsBook {
			continue
		}
		if book == nil {
			var err error
			snap := SyntheticBook(productID, price, now, d.randf)
			if book, err = encodeBook(snap, price, now); err != nil {
				d.logger.Error("encode l2update failed",
					slog.String("product_id", productID),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		d.deliver(c, TypeL2Update, book)
	}

	if ticker != nil {
		d.metrics.Broadcast(ChannelTicker)
	}
	if book != nil {
		d.metrics.Broadcast(ChannelLevel2)
	}
	return sent
}

// deliver queues msg on c and reports whether it was accepted.
func (d *Dispatcher) deliver(c *Conn, msgType string, msg []byte) bool {
	if err := c.transport.Send(msg); err != nil {
		d.drop(c, err)
		return false
	}
	d.metrics.FrameSent(msgType)
	return true
}

func (d *Dispatcher) drop(c *Conn, cause error) {
	if _, ok := d.registry.Remove(c.id); !ok {
		return
	}
	d.metrics.SendFailed()
	d.metrics.SetConnections(d.registry.Len())
	d.logger.Warn("send failed, dropping connection",
		slog.String("conn_id", c.id),
		slog.String("error", cause.Error()),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.closeTimeout)
		defer cancel()
		_ = c.transport.Close(ctx)
	}()
}
