package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
)

// ErrSimulatorClosed is returned by Start after Shutdown.
var ErrSimulatorClosed = errors.New("simulator: shut down")

var (
	hundred  = decimal.NewFromInt(100)
	minPrice = decimal.RequireFromString("0.01")
)

// SimulatorConfig tunes the price movers.
type SimulatorConfig struct {
	Tick               time.Duration
	DefaultPrice       decimal.Decimal
	MaxDurationSeconds int
	// Now and Rand are replaced in tests.
	Now  func() time.Time
	Rand func() float64
}

// Simulator runs at most one price mover per product. Starting a mover for a
// product that already has one cancels the old mover and waits for it to exit.
type Simulator struct {
	prices  domain.PriceStore
	cfg     SimulatorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]*run
	closed  bool
	wg      sync.WaitGroup
}

type run struct {
	sim    domain.Simulation
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) stop() {
	r.cancel()
	<-r.done
}

// NewSimulator creates a Simulator writing to prices.
func NewSimulator(prices domain.PriceStore, cfg SimulatorConfig, m *metrics.Metrics, logger *slog.Logger) *Simulator {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if !cfg.DefaultPrice.IsPositive() {
		cfg.DefaultPrice = decimal.RequireFromString("50000.00")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Simulator{
		prices:  prices,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "simulator")),
		running: make(map[string]*run),
	}
}

// Start sets the starting price for productID and, for trend and volatility
// modes, launches a mover. The starting price is the current price, else the
// requested start price, else the configured default.
func (s *Simulator) Start(ctx context.Context, productID string, req domain.SimulationRequest) (domain.Simulation, error) {
	mode, err := s.validate(req)
	if err != nil {
		return domain.Simulation{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return domain.Simulation{}, ErrSimulatorClosed
	}
	prev := s.running[productID]
	s.running[productID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
		s.logger.InfoContext(ctx, "replaced running simulation",
			slog.String("product_id", productID),
			slog.String("simulation_id", prev.sim.ID),
		)
	}

	start, err := s.startPrice(ctx, productID, req)
	if err == nil {
		_, err = s.prices.SetPrice(ctx, productID, start)
	}
	if err != nil {
		s.finish(productID, r)
		return domain.Simulation{}, fmt.Errorf("simulator: start %s: %w", productID, err)
	}

	sim := domain.Simulation{
		ID:              uuid.NewString(),
		ProductID:       productID,
		Mode:            mode,
		StartPrice:      start,
		DurationSeconds: req.DurationSeconds,
		Repeat:          req.Repeat,
		StartedAt:       s.cfg.Now().UTC(),
	}
	switch mode {
	case domain.SimulationTrend:
		sim.EndPrice = req.EndPrice
	case domain.SimulationVolatility:
		sim.VolatilityPercent = req.VolatilityPercent
	default:
		sim.DurationSeconds = 0
		sim.Repeat = false
		s.finish(productID, r)
		return sim, nil
	}

	s.mu.Lock()
	r.sim = sim
	s.mu.Unlock()

	go s.loop(runCtx, r)
	return sim, nil
}

func (s *Simulator) validate(req domain.SimulationRequest) (domain.SimulationMode, error) {
	mode := domain.SimulationMode(strings.ToLower(string(req.Mode)))
	switch mode {
	case "", domain.SimulationStatic:
		return domain.SimulationStatic, nil
	case domain.SimulationReplay:
		return "", fmt.Errorf("simulator: historical price replay: %w", domain.ErrNotImplemented)
	case domain.SimulationTrend:
		if !req.EndPrice.IsPositive() {
			return "", fmt.Errorf("%w: end price is required for trend simulation", domain.ErrInvalidSimulation)
		}
	case domain.SimulationVolatility:
		if !req.VolatilityPercent.IsPositive() {
			return "", fmt.Errorf("%w: volatility percentage is required for volatility simulation", domain.ErrInvalidSimulation)
		}
		if req.VolatilityPercent.GreaterThan(hundred) {
			return "", fmt.Errorf("%w: volatility percentage must not exceed 100", domain.ErrInvalidSimulation)
		}
	default:
		return "", fmt.Errorf("%w: unknown simulation mode %q", domain.ErrInvalidSimulation, req.Mode)
	}

	if req.DurationSeconds <= 0 {
		return "", fmt.Errorf("%w: duration is required for %s simulation", domain.ErrInvalidSimulation, mode)
	}
	if s.cfg.MaxDurationSeconds > 0 && req.DurationSeconds > s.cfg.MaxDurationSeconds {
		return "", fmt.Errorf("%w: duration must not exceed %d seconds", domain.ErrInvalidSimulation, s.cfg.MaxDurationSeconds)
	}
	return mode, nil
}

func (s *Simulator) startPrice(ctx context.Context, productID string, req domain.SimulationRequest) (decimal.Decimal, error) {
	cur, err := s.prices.GetCurrentPrice(ctx, productID)
	switch {
	case err == nil && cur.IsPositive():
		return cur, nil
	case errors.Is(err, domain.ErrUnknownProduct):
		return decimal.Decimal{}, err
	case req.StartPrice.IsPositive():
		return req.StartPrice, nil
	default:
		return s.cfg.DefaultPrice, nil
	}
}

// Stop cancels the mover for productID and waits for it to exit.
func (s *Simulator) Stop(productID string) error {
	s.mu.Lock()
	r := s.running[productID]
	active := r != nil && r.sim.ID != ""
	s.mu.Unlock()
	if !active {
		return fmt.Errorf("simulator: stop %s: %w", productID, domain.ErrSimulationNotFound)
	}
	r.stop()
	return nil
}

// StopAll cancels every mover and returns how many were running.
func (s *Simulator) StopAll() int {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.running))
	for _, r := range s.running {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.stop()
	}
	return len(runs)
}

// List returns the running simulations ordered by product id.
func (s *Simulator) List() []domain.Simulation {
	s.mu.Lock()
	out := make([]domain.Simulation, 0, len(s.running))
	for _, r := range s.running {
		if r.sim.ID != "" {
			out = append(out, r.sim)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Shutdown stops every mover and rejects further starts. It returns when all
// movers have exited or ctx is done.
func (s *Simulator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.StopAll()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) finish(productID string, r *run) {
	s.mu.Lock()
	if s.running[productID] == r {
		delete(s.running, productID)
	}
	n := len(s.running)
	s.mu.Unlock()

	r.cancel()
	close(r.done)
	s.wg.Done()
	s.metrics.SetSimulations(n)
}

func (s *Simulator) loop(ctx context.Context, r *run) {
	sim := r.sim
	logger := s.logger.With(
		slog.String("product_id", sim.ProductID),
		slog.String("simulation_id", sim.ID),
		slog.String("mode", string(sim.Mode)),
	)

	defer s.finish(sim.ProductID, r)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("simulation panicked", slog.Any("panic", rec))
		}
	}()

	s.metrics.SetSimulations(s.count())
	logger.Info("simulation started",
		slog.String("start_price", sim.StartPrice.String()),
		slog.Int("duration_seconds", sim.DurationSeconds),
		slog.Bool("repeat", sim.Repeat),
	)

	var err error
	switch sim.Mode {
	case domain.SimulationTrend:
		err = s.trend(ctx, sim)
	case domain.SimulationVolatility:
		err = s.volatility(ctx, sim)
	}

	switch {
	case err == nil:
		logger.Info("simulation completed")
	case errors.Is(err, context.Canceled):
		logger.Info("simulation stopped")
	default:
		logger.Warn("simulation failed", slog.String("error", err.Error()))
	}
}

func (s *Simulator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// trend moves linearly from the start price to the end price, one step per
// tick. With repeat it then walks back and keeps alternating.
func (s *Simulator) trend(ctx context.Context, sim domain.Simulation) error {
	from, to := sim.StartPrice, sim.EndPrice
	steps := decimal.NewFromInt(int64(sim.DurationSeconds))
	for {
		step := to.Sub(from).Div(steps)
		for i := 1; i <= sim.DurationSeconds; i++ {
			price := to
			if i < sim.DurationSeconds {
				price = roundPrice(from.Add(step.Mul(decimal.NewFromInt(int64(i)))))
			}
			if err := s.write(ctx, sim.ProductID, price); err != nil {
				return err
			}
			if err := s.sleep(ctx); err != nil {
				return err
			}
		}
		if !sim.Repeat {
			return nil
		}
		from, to = to, from
	}
}

// volatility draws a price uniformly within base ± percent on every tick.
func (s *Simulator) volatility(ctx context.Context, sim domain.Simulation) error {
	base := sim.StartPrice
	maxDev := base.Mul(sim.VolatilityPercent).Div(hundred)
	for {
		for i := 0; i < sim.DurationSeconds; i++ {
			dev := maxDev.Mul(decimal.NewFromFloat(s.cfg.Rand()*2 - 1))
			price := roundPrice(base.Add(dev))
			if !price.IsPositive() {
				price = minPrice
			}
			if err := s.write(ctx, sim.ProductID, price); err != nil {
				return err
			}
			if err := s.sleep(ctx); err != nil {
				return err
			}
		}
		if !sim.Repeat {
			return nil
		}
	}
}

func (s *Simulator) write(ctx context.Context, productID string, price decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.prices.SetPrice(ctx, productID, price); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	t := time.NewTimer(s.cfg.Tick)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// roundPrice keeps cents for prices of at least 1 and eight places below.
func roundPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(decimal.NewFromInt(1)) {
		return p.Round(8)
	}
	return p.Round(2)
}
