package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/exchangesandbox/internal/blob/s3"
	"github.com/alanyoungcy/exchangesandbox/internal/feed"
	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
	"github.com/alanyoungcy/exchangesandbox/internal/pipeline"
	"github.com/alanyoungcy/exchangesandbox/internal/server"
	"github.com/alanyoungcy/exchangesandbox/internal/server/handler"
	"github.com/alanyoungcy/exchangesandbox/internal/server/ws"
	"github.com/alanyoungcy/exchangesandbox/internal/service"
)

const shutdownTimeout = 10 * time.Second

// MemoryMode serves the sandbox from in-process stores only.
func (a *App) MemoryMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting memory mode")
	return a.serve(ctx, deps, nil)
}

// RedisMode keeps latest prices in Redis and publishes every write on the
// price channel. Price history stays in memory.
func (a *App) RedisMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting redis mode",
		slog.String("price_channel", a.cfg.Redis.PriceChannel),
	)
	return a.serve(ctx, deps, nil)
}

// FullMode adds Postgres price history and, when enabled, the scheduled S3
// archive of old history.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("archive", deps.Archiver != nil),
	)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.Locker, a.cfg.Archive.RetentionDays, a.logger)
	}
	return a.serve(ctx, deps, archiver)
}

// serve builds the services on top of deps and runs the feed engine, the HTTP
// server and the optional archive loop. On cancellation it stops the
// simulators, closes every feed connection and then stops the HTTP server.
func (a *App) serve(ctx context.Context, deps *Dependencies, archiver *pipeline.Archiver) error {
	startedAt := time.Now().UTC()
	m := metrics.New()

	prices := service.NewPriceService(
		a.cfg.Products.IDs,
		deps.PriceCache,
		deps.History,
		deps.SignalBus,
		a.cfg.Redis.PriceChannel,
		m,
		a.logger,
	)
	seeds, err := seedPrices(a.cfg.Products.SeedPrices)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := prices.Seed(ctx, seeds); err != nil {
		return fmt.Errorf("app: seed prices: %w", err)
	}
	a.logger.InfoContext(ctx, "seed prices written", slog.Int("products", len(seeds)))

	defaultPrice, err := decimal.NewFromString(a.cfg.Simulation.DefaultPrice)
	if err != nil {
		return fmt.Errorf("app: simulation default_price: %w", err)
	}
	sim := service.NewSimulator(prices, service.SimulatorConfig{
		Tick:               a.cfg.Simulation.Tick(),
		DefaultPrice:       defaultPrice,
		MaxDurationSeconds: a.cfg.Simulation.MaxDurationSeconds,
	}, m, a.logger)
	scenarios := service.NewScenarios(prices, sim, a.logger)

	engine := feed.NewEngine(prices, feed.Options{
		PollInterval:      a.cfg.Feed.Poll(),
		HeartbeatInterval: a.cfg.Feed.Heartbeat(),
		ErrorBackoff:      a.cfg.Feed.Backoff(),
		CloseTimeout:      a.cfg.Feed.CloseWait(),
		Metrics:           m,
	}, a.logger)
	wsServer := ws.NewServer(engine, ws.Config{
		SendBuffer:     a.cfg.Feed.SendBuffer,
		WriteWait:      a.cfg.Feed.WriteDeadline(),
		PongWait:       a.cfg.Feed.PongDeadline(),
		MaxMessageSize: a.cfg.Feed.MaxMessageSize,
	}, a.logger)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, startedAt, deps.Checks, a.logger),
		Prices:  handler.NewPriceHandler(prices, a.logger),
		Sandbox: handler.NewSandboxHandler(prices, sim, scenarios, engine.Registry(), seeds, a.logger),
		Metrics: m.Handler(),
	}
	if archiver != nil {
		trigger := make(chan struct{}, 1)
		archiver.WithTrigger(trigger)
		handlers.Archive = handler.NewArchiveHandler(trigger, deps.Archives, s3blob.ArchivePrefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, wsServer, a.logger)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	if a.ready != nil {
		a.ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return srv.Serve(ln) })
	if archiver != nil {
		g.Go(func() error { return archiver.RunCron(gctx, a.cfg.Archive.Cron) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := sim.Shutdown(shutCtx); err != nil {
			a.logger.Warn("simulator shutdown incomplete", slog.String("error", err.Error()))
		}
		// Stop accepting upgrades before the close sweep so no /ws
		// connection registers after it. Hijacked sockets are not tracked
		// by the HTTP server and stay open until the engine closes them.
		err := srv.Shutdown(shutCtx)
		engine.Shutdown(shutCtx)
		return err
	})

	return g.Wait()
}

// seedPrices parses the configured seed prices.
func seedPrices(raw map[string]string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]decimal.Decimal, len(raw))
	for _, id := range ids {
		p, err := decimal.NewFromString(raw[id])
		if err != nil {
			return nil, fmt.Errorf("seed price for %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}
