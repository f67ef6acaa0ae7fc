package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records frames and can be told to fail sends.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// messages decodes every recorded frame and clears the buffer.
func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	frames := f.frames
	f.frames = nil
	f.mu.Unlock()

	out := make([]map[string]any, 0, len(frames))
	for _, b := range frames {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("frame is not JSON: %s", b)
		}
		out = append(out, m)
	}
	return out
}

func types(msgs []map[string]any) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i], _ = m["type"].(string)
	}
	return out
}

// fakeStore is a concurrency-safe PriceStore. Products listed in panics make
// GetCurrentPrice panic.
type fakeStore struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	panics map[string]bool
	reads  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{prices: map[string]decimal.Decimal{}, panics: map[string]bool{}}
}

func (s *fakeStore) GetCurrentPrice(_ context.Context, productID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.panics[productID] {
		delete(s.panics, productID)
		panic("store exploded")
	}
	p, ok := s.prices[productID]
	if !ok {
		return decimal.Zero, fmt.Errorf("fake: %s: %w", productID, domain.ErrNotFound)
	}
	return p, nil
}

func (s *fakeStore) SetPrice(_ context.Context, productID string, price decimal.Decimal) (domain.PricePoint, error) {
	if !price.IsPositive() {
		return domain.PricePoint{}, domain.ErrInvalidPrice
	}
	s.mu.Lock()
	s.prices[productID] = price
	s.mu.Unlock()
	return domain.PricePoint{ProductID: productID, Price: price, Timestamp: fixedNow}, nil
}

func (s *fakeStore) set(productID, price string) {
	_, _ = s.SetPrice(context.Background(), productID, decimal.RequireFromString(price))
}

func newTestEngine(store domain.PriceStore) *Engine {
	return NewEngine(store, Options{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		ErrorBackoff:      30 * time.Millisecond,
		CloseTimeout:      50 * time.Millisecond,
		Now:               func() time.Time { return fixedNow },
		Rand:              func() float64 { return 0.5 },
	}, discardLogger())
}

func send(e *Engine, id, msg string) {
	e.Receive(context.Background(), id, []byte(msg))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

var errBroken = errors.New("broken pipe")
