package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exchangesandbox/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Server.Port = 0
	return &cfg
}

func TestWireMemoryMode(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig("memory"), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if deps.PriceCache == nil || deps.History == nil {
		t.Fatal("memory mode must provide a cache and history")
	}
	if deps.SignalBus != nil || deps.Archiver != nil || len(deps.Checks) != 0 {
		t.Fatalf("memory mode wired external dependencies: %+v", deps)
	}
}

func TestWireRedisMode(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("redis")
	cfg.Redis.Addr = mr.Addr()

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if deps.SignalBus == nil || deps.Locker == nil {
		t.Fatal("redis mode must wire the bus and the lock")
	}
	if err := deps.Checks["redis"](context.Background()); err != nil {
		t.Fatalf("redis check: %v", err)
	}
}

func TestWireRedisUnreachable(t *testing.T) {
	cfg := testConfig("redis")
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := Wire(ctx, cfg, discardLogger()); err == nil {
		t.Fatal("expected wire error for unreachable redis")
	}
}

func TestSeedPrices(t *testing.T) {
	got, err := seedPrices(map[string]string{"BTC-USD": "75000.00"})
	if err != nil || got["BTC-USD"].String() != "75000" {
		t.Fatalf("got %v %v", got, err)
	}
	if _, err := seedPrices(map[string]string{"ETH-USD": "lots"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunMemoryModeServesAndStops(t *testing.T) {
	a := New(testConfig("memory"), discardLogger())
	ready := make(chan string, 1)
	a.ready = ready

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer a.Close()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/prices/BTC-USD/current")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["price"] != "75000" {
		t.Fatalf("current price = %d %v", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunShutdownClosesFeedConnections(t *testing.T) {
	a := New(testConfig("memory"), discardLogger())
	ready := make(chan string, 1)
	a.ready = ready

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer a.Close()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("read after shutdown = %v, want normal closure", err)
		}
		break
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil); err == nil {
		t.Fatal("upgrade accepted after shutdown")
	}
}
