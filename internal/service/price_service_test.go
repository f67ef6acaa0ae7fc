package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/store/memory"
)

var testProducts = []string{"BTC-USD", "ETH-USD", "SOL-USD"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func newPriceService(t *testing.T, bus domain.SignalBus) (*PriceService, *memory.HistoryStore) {
	t.Helper()
	hist := memory.NewHistoryStore(0)
	svc := NewPriceService(testProducts, memory.NewPriceCache(), hist, bus, "prices", nil, discardLogger())
	return svc, hist
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceServiceSetAndGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)

	if _, err := svc.GetCurrentPrice(ctx, "BTC-USD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first write, got %v", err)
	}

	point, err := svc.SetPrice(ctx, "BTC-USD", dec("55000.00"))
	if err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if point.ProductID != "BTC-USD" || point.Timestamp.IsZero() {
		t.Fatalf("unexpected point %+v", point)
	}

	got, err := svc.GetCurrentPrice(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if !got.Equal(dec("55000")) {
		t.Fatalf("price = %s, want 55000", got)
	}
}

func TestPriceServiceRejectsUnknownProductAndBadPrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)

	if _, err := svc.SetPrice(ctx, "DOGE-USD", dec("1")); !errors.Is(err, domain.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	if _, err := svc.GetCurrentPrice(ctx, "DOGE-USD"); !errors.Is(err, domain.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	for _, bad := range []string{"0", "-5"} {
		if _, err := svc.SetPrice(ctx, "BTC-USD", dec(bad)); !errors.Is(err, domain.ErrInvalidPrice) {
			t.Fatalf("price %s: expected ErrInvalidPrice, got %v", bad, err)
		}
	}
}

func TestPriceServiceAppendsHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range []string{"100", "101", "102"} {
		ts := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return ts }
		if _, err := svc.SetPrice(ctx, "SOL-USD", dec(p)); err != nil {
			t.Fatal(err)
		}
	}

	pts, err := svc.History(ctx, "SOL-USD", base.Add(time.Second), time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(pts) != 2 || !pts[0].Price.Equal(dec("101")) || !pts[1].Price.Equal(dec("102")) {
		t.Fatalf("unexpected history %+v", pts)
	}
}

func TestPriceServicePublishesEvents(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	svc, _ := newPriceService(t, bus)

	if _, err := svc.SetPrice(ctx, "ETH-USD", dec("4500.5")); err != nil {
		t.Fatal(err)
	}
	if len(bus.payloads) != 1 || bus.channels[0] != "prices" {
		t.Fatalf("expected one event on prices, got %v", bus.channels)
	}
	var evt map[string]string
	if err := json.Unmarshal(bus.payloads[0], &evt); err != nil {
		t.Fatal(err)
	}
	if evt["event"] != "price_set" || evt["product_id"] != "ETH-USD" || evt["price"] != "4500.5" {
		t.Fatalf("unexpected event %v", evt)
	}
}

func TestPriceServicePublishFailureIsNotFatal(t *testing.T) {
	svc, _ := newPriceService(t, &fakeBus{err: errors.New("redis down")})
	if _, err := svc.SetPrice(context.Background(), "ETH-USD", dec("1")); err != nil {
		t.Fatalf("publish failure should not fail SetPrice: %v", err)
	}
}

func TestPriceServiceSeedAndPrices(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)

	err := svc.Seed(ctx, map[string]decimal.Decimal{
		"SOL-USD":  dec("195"),
		"BTC-USD":  dec("75000"),
		"DOGE-USD": dec("0.1"),
	})
	if !errors.Is(err, domain.ErrUnknownProduct) {
		t.Fatalf("expected unknown product error, got %v", err)
	}

	pts, err := svc.Prices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 2 || pts[0].ProductID != "BTC-USD" || pts[1].ProductID != "SOL-USD" {
		t.Fatalf("unexpected prices %+v", pts)
	}
}

func TestPriceServiceCatalog(t *testing.T) {
	svc := NewPriceService([]string{"BTC-USD", "BTC-USD", "ETH-EUR"}, memory.NewPriceCache(), nil, nil, "", nil, discardLogger())

	products := svc.Products()
	if len(products) != 2 {
		t.Fatalf("duplicates should collapse, got %+v", products)
	}
	p, err := svc.Product("ETH-EUR")
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseCurrency != "ETH" || p.QuoteCurrency != "EUR" || p.Status != "online" {
		t.Fatalf("unexpected product %+v", p)
	}
	if _, err := svc.Product("XRP-USD"); !errors.Is(err, domain.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}

	pts, err := svc.History(context.Background(), "ETH-EUR", time.Time{}, time.Time{})
	if err != nil || pts == nil || len(pts) != 0 {
		t.Fatalf("history without a store should be empty, got %v %v", pts, err)
	}
}
