// Package feed implements the real-time market-data feed: a registry of
// client connections and their (channel, product) subscriptions, the
// subscribe/unsubscribe protocol, a poller that turns price-store changes into
// ticker and l2update broadcasts, and a heartbeat.
//
// The feed is transport-agnostic. The WebSocket server registers each
// connection through Engine.Connect with a Transport, forwards inbound frames
// to Engine.Receive and calls Engine.Disconnect when the socket goes away.
package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
)

// Options tunes an Engine. Zero values take the defaults noted per field.
type Options struct {
	PollInterval      time.Duration // 1s
	HeartbeatInterval time.Duration // 30s
	ErrorBackoff      time.Duration // 5s
	CloseTimeout      time.Duration // 1s
	Now               func() time.Time
	Rand              func() float64 // [0,1), used for order book sizes
	Metrics           *metrics.Metrics
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
}

// Engine ties the feed components together.
type Engine struct {
	registry     *Registry
	dispatcher   *Dispatcher
	handler      *Handler
	poller       *Poller
	heartbeat    *Heartbeat
	closeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewEngine builds an Engine reading prices from prices.
func NewEngine(prices domain.PriceStore, opts Options, logger *slog.Logger) *Engine {
	opts.withDefaults()
	logger = logger.With(slog.String("component", "feed"))

	reg := NewRegistry()
	d := &Dispatcher{
		registry:     reg,
		now:          opts.Now,
		randf:        opts.Rand,
		closeTimeout: opts.CloseTimeout,
		logger:       logger,
		metrics:      opts.Metrics,
	}
	p := &Poller{
		registry:   reg,
		prices:     prices,
		dispatcher: d,
		interval:   opts.PollInterval,
		backoff:    opts.ErrorBackoff,
		logger:     logger,
		metrics:    opts.Metrics,
		seeds:      make(chan seed, seedBuffer),
		last:       make(map[string]decimal.Decimal),
		watched:    make(map[string]struct{}),
		missing:    make(map[string]struct{}),
	}

	return &Engine{
		registry:   reg,
		dispatcher: d,
		handler: &Handler{
			dispatcher: d,
			prices:     prices,
			seed:       p.Seed,
			now:        opts.Now,
			logger:     logger,
		},
		poller: p,
		heartbeat: &Heartbeat{
			registry:   reg,
			dispatcher: d,
			interval:   opts.HeartbeatInterval,
			now:        opts.Now,
			logger:     logger,
		},
		closeTimeout: opts.CloseTimeout,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Registry exposes the connection registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Dispatcher exposes the broadcast dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Poller exposes the price poller, mainly so tests can drive ticks.
func (e *Engine) Poller() *Poller { return e.poller }

// Heartbeat exposes the heartbeat broadcaster.
func (e *Engine) Heartbeat() *Heartbeat { return e.heartbeat }

// Connect registers a new connection.
func (e *Engine) Connect(id string, t Transport) *Conn {
	c := e.registry.Add(id, t)
	n := e.registry.Len()
	e.metrics.SetConnections(n)
	e.logger.Info("connection registered",
		slog.String("conn_id", id),
		slog.Int("connections", n),
	)
	return c
}

// Receive handles one inbound frame. Frames for unknown connections are
// ignored.
func (e *Engine) Receive(ctx context.Context, id string, data []byte) {
	c, ok := e.registry.Get(id)
	if !ok {
		return
	}
	e.handler.Handle(ctx, c, data)
}

// Disconnect deregisters a connection whose transport has gone away.
func (e *Engine) Disconnect(id string) {
	if _, ok := e.registry.Remove(id); !ok {
		return
	}
	n := e.registry.Len()
	e.metrics.SetConnections(n)
	e.logger.Info("connection removed",
		slog.String("conn_id", id),
		slog.Int("connections", n),
	)
}

// Run starts the poller and the heartbeat and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.poller.Run(ctx) })
	g.Go(func() error { return e.heartbeat.Run(ctx) })
	return g.Wait()
}

// Shutdown closes every registered connection with a normal-closure frame.
// Each close is bounded by the configured close timeout; closes run in
// parallel so one stuck peer does not delay the rest.
func (e *Engine) Shutdown(ctx context.Context) {
	conns := e.registry.Snapshot()
	e.logger.Info("closing connections", slog.Int("connections", len(conns)))

	var wg sync.WaitGroup
	for _, c := range conns {
		e.registry.Remove(c.id)
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, e.closeTimeout)
			defer cancel()
			if err := c.transport.Close(cctx); err != nil {
				e.logger.Warn("close connection failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
		}(c)
	}
	wg.Wait()
	e.metrics.SetConnections(e.registry.Len())
}
