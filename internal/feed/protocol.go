package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// Handler applies subscribe and unsubscribe requests to a connection's
// subscription set. Protocol errors are reported to the originating
// connection as error frames; they never close it.
type Handler struct {
	dispatcher *Dispatcher
	prices     domain.PriceStore
	seed       func(productID string, price decimal.Decimal)
	now        func() time.Time
	logger     *slog.Logger
}

// Handle processes one inbound text frame from c.
func (h *Handler) Handle(ctx context.Context, c *Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling client message",
				slog.String("conn_id", c.id),
				slog.String("panic", fmt.Sprint(r)),
			)
			h.replyError(c, msgInternalFailure)
		}
	}()

	data = bytes.TrimSpace(data)
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Debug("invalid client message",
			slog.String("conn_id", c.id),
			slog.String("error", err.Error()),
		)
		h.replyError(c, msgInvalidJSON)
		return
	}
	if bytes.Equal(data, []byte("null")) {
		h.replyError(c, msgInvalidRequest)
		return
	}

	switch strings.ToLower(req.Type) {
	case requestSubscribe:
		h.subscribe(ctx, c, req)
	case requestUnsubscribe:
		h.unsubscribe(c, req)
	default:
		h.replyError(c, msgUnknownType+req.Type)
	}
}

func (h *Handler) subscribe(ctx context.Context, c *Conn, req request) {
	products := nonEmpty(req.ProductIDs)
	if len(products) == 0 {
		h.replyError(c, msgNoProducts)
		return
	}
	if len(req.Channels) == 0 {
		h.replyError(c, msgNoChannels)
		return
	}

	accepted := make([]Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		ch, err := parseChannel(raw)
		if err != nil {
			if !h.replyError(c, msgInvalidChannel) {
				return
			}
			continue
		}
		accepted = append(accepted, ch)

		for _, productID := range products {
			c.Subscribe(Key{Channel: ch.Name, ProductID: productID})
			if drivesPrice(ch.Name) && !h.sendInitial(ctx, c, productID, ch.Name == ChannelLevel2) {
				return
			}
		}
	}

	h.reply(c, TypeSubscriptions, subscriptionsMessage{Type: TypeSubscriptions, Channels: accepted})
}

// sendInitial pushes the current price to c alone, followed by a synthetic
// book when withBook is set. A missing price is logged and skipped; false
// means the connection was dropped.
func (h *Handler) sendInitial(ctx context.Context, c *Conn, productID string, withBook bool) bool {
	price, err := h.prices.GetCurrentPrice(ctx, productID)
	if err != nil {
		h.logger.Warn("initial price unavailable",
			slog.String("conn_id", c.id),
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return true
	}

	now := h.now()
	msg, err := encodeTicker(productID, price, now)
	if err != nil {
		return true
	}
	if !h.dispatcher.deliver(c, TypeTicker, msg) {
		return false
	}
	h.seed(productID, price)

	if !withBook {
		return true
	}
	book, err := encodeBook(SyntheticBook(productID, price, now, h.dispatcher.randf), price, now)
	if err != nil {
		h.logger.Error("encode initial l2update failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return true
	}
	return h.dispatcher.deliver(c, TypeL2Update, book)
}

func (h *Handler) unsubscribe(c *Conn, req request) {
	if len(req.Channels) == 0 {
		c.Clear()
	} else {
		products := nonEmpty(req.ProductIDs)
		for _, raw := range req.Channels {
			ch, err := parseChannel(raw)
			if err != nil {
				continue
			}
			if len(products) == 0 {
				c.UnsubscribeChannel(ch.Name)
				continue
			}
			for _, productID := range products {
				c.Unsubscribe(Key{Channel: ch.Name, ProductID: productID})
			}
		}
	}

	h.reply(c, TypeSubscriptions, subscriptionsMessage{Type: TypeSubscriptions, Channels: c.Grouped()})
}

func (h *Handler) reply(c *Conn, msgType string, v any) bool {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode reply failed",
			slog.String("conn_id", c.id),
			slog.String("error", err.Error()),
		)
		return true
	}
	return h.dispatcher.deliver(c, msgType, msg)
}

func (h *Handler) replyError(c *Conn, text string) bool {
	return h.dispatcher.deliver(c, TypeError, encodeError(text))
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
