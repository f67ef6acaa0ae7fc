package feed

import (
	"context"
	"log/slog"
	"time"
)

// Heartbeat sends a liveness frame to every registered connection on a fixed
// interval, independent of subscriptions and of the poller.
type Heartbeat struct {
	registry   *Registry
	dispatcher *Dispatcher
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Run beats every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := h.Beat()
			h.logger.Debug("heartbeat sent", slog.Int("connections", n))
		}
	}
}

// Beat sends one heartbeat and returns how many connections accepted it.
func (h *Heartbeat) Beat() int {
	msg, err := encodeHeartbeat(h.now())
	if err != nil {
		return 0
	}
	n := 0
	for _, c := range h.registry.Snapshot() {
		if h.dispatcher.deliver(c, TypeHeartbeat, msg) {
			n++
		}
	}
	return n
}
