package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	pc := NewPriceCache(c)

	if _, err := pc.GetPrice(ctx, "BTC-USD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	point := domain.PricePoint{ProductID: "BTC-USD", Price: decimal.RequireFromString("55000.10"), Timestamp: ts}
	if err := pc.SetPrice(ctx, point); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if got := mr.HGet("price:BTC-USD", "price"); got != "55000.1" {
		t.Fatalf("stored price = %q", got)
	}

	got, err := pc.GetPrice(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !got.Price.Equal(point.Price) || !got.Timestamp.Equal(ts) {
		t.Fatalf("got %+v, want %+v", got, point)
	}
}

func TestPriceCacheGetPricesOmitsMissing(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	pc := NewPriceCache(c)

	for id, p := range map[string]string{"BTC-USD": "75000", "SOL-USD": "195"} {
		if err := pc.SetPrice(ctx, domain.PricePoint{ProductID: id, Price: decimal.RequireFromString(p), Timestamp: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	mr.HSet("price:ETH-USD", "price", "not-a-number")

	got, err := pc.GetPrices(ctx, []string{"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD"})
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d prices, want 2: %+v", len(got), got)
	}
	if !got["SOL-USD"].Price.Equal(decimal.NewFromInt(195)) {
		t.Fatalf("SOL = %s", got["SOL-USD"].Price)
	}
}

func TestSignalBusPublish(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	sub := c.rdb.Subscribe(ctx, "prices")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if err := bus.Publish(ctx, "prices", []byte(`{"event":"price_set"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"event":"price_set"}` {
			t.Fatalf("payload = %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestLockerExclusive(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	l := NewLocker(c)

	release, err := l.Acquire(ctx, "archive", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "archive", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	release()
	release()
	if mr.Exists("lock:archive") {
		t.Fatal("lock key still present after release")
	}

	again, err := l.Acquire(ctx, "archive", time.Minute)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	again()
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping error")
	}
}
