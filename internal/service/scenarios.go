package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// Scenario is a preset market: fixed starting prices plus one repeating
// mover per product.
type Scenario struct {
	Name        string
	Message     string
	Prices      map[string]decimal.Decimal
	Simulations map[string]domain.SimulationRequest
}

func trendTo(end string) domain.SimulationRequest {
	return domain.SimulationRequest{
		Mode:            domain.SimulationTrend,
		EndPrice:        decimal.RequireFromString(end),
		DurationSeconds: 3600,
		Repeat:          true,
	}
}

func swing(percent string) domain.SimulationRequest {
	return domain.SimulationRequest{
		Mode:              domain.SimulationVolatility,
		VolatilityPercent: decimal.RequireFromString(percent),
		DurationSeconds:   7200,
		Repeat:            true,
	}
}

func prices(kv ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = decimal.RequireFromString(kv[i+1])
	}
	return out
}

var scenarios = map[string]Scenario{
	"bullrun": {
		Name:    "bullrun",
		Message: "Bull market scenario has been set up",
		Prices:  prices("BTC-USD", "75000.00", "ETH-USD", "4500.00", "SOL-USD", "195.00"),
		Simulations: map[string]domain.SimulationRequest{
			"BTC-USD": trendTo("85000.00"),
			"ETH-USD": trendTo("5200.00"),
			"SOL-USD": trendTo("250.00"),
		},
	},
	"bearmarket": {
		Name:    "bearmarket",
		Message: "Bear market scenario has been set up",
		Prices:  prices("BTC-USD", "65000.00", "ETH-USD", "3800.00", "SOL-USD", "150.00"),
		Simulations: map[string]domain.SimulationRequest{
			"BTC-USD": trendTo("55000.00"),
			"ETH-USD": trendTo("3300.00"),
			"SOL-USD": trendTo("120.00"),
		},
	},
	"volatility": {
		Name:    "volatility",
		Message: "High volatility scenario has been set up",
		Prices:  prices("BTC-USD", "70000.00", "ETH-USD", "4000.00", "SOL-USD", "180.00"),
		Simulations: map[string]domain.SimulationRequest{
			"BTC-USD": swing("10.0"),
			"ETH-USD": swing("12.0"),
			"SOL-USD": swing("15.0"),
		},
	},
}

// ScenarioNames lists the preset scenarios.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Scenarios applies preset and custom market scenarios.
type Scenarios struct {
	prices *PriceService
	sim    *Simulator
	logger *slog.Logger
}

// NewScenarios creates a Scenarios runner.
func NewScenarios(prices *PriceService, sim *Simulator, logger *slog.Logger) *Scenarios {
	return &Scenarios{
		prices: prices,
		sim:    sim,
		logger: logger.With(slog.String("component", "scenarios")),
	}
}

// Apply sets up the named preset. Products missing from the catalog are
// skipped.
func (s *Scenarios) Apply(ctx context.Context, name string) (Scenario, error) {
	sc, ok := scenarios[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %s. Available scenarios: %s",
			domain.ErrUnknownScenario, name, strings.Join(ScenarioNames(), ", "))
	}

	ids := make([]string, 0, len(sc.Prices))
	for id := range sc.Prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := s.prices.Product(id); err != nil {
			s.logger.DebugContext(ctx, "scenario product not in catalog", slog.String("product_id", id))
			continue
		}
		// A mover left over from an earlier scenario would overwrite the
		// preset price before the new mover reads it.
		_ = s.sim.Stop(id)
		if _, err := s.prices.SetPrice(ctx, id, sc.Prices[id]); err != nil {
			return Scenario{}, fmt.Errorf("scenarios: apply %s: %w", sc.Name, err)
		}
		req, ok := sc.Simulations[id]
		if !ok {
			continue
		}
		if _, err := s.sim.Start(ctx, id, req); err != nil {
			return Scenario{}, fmt.Errorf("scenarios: apply %s: %w", sc.Name, err)
		}
	}

	s.logger.InfoContext(ctx, "scenario applied", slog.String("scenario", sc.Name))
	return sc, nil
}

// ApplyPrices sets a custom set of prices. Every valid entry is written even
// when others fail; the failures are returned together.
func (s *Scenarios) ApplyPrices(ctx context.Context, custom map[string]decimal.Decimal) error {
	if err := s.prices.Seed(ctx, custom); err != nil {
		return fmt.Errorf("scenarios: apply custom prices: %w", err)
	}
	s.logger.InfoContext(ctx, "custom scenario applied", slog.Int("prices", len(custom)))
	return nil
}

// Reset stops every simulation and restores the seed prices.
func (s *Scenarios) Reset(ctx context.Context, seeds map[string]decimal.Decimal) error {
	stopped := s.sim.StopAll()
	if err := s.prices.Seed(ctx, seeds); err != nil {
		return fmt.Errorf("scenarios: reset: %w", err)
	}
	s.logger.InfoContext(ctx, "sandbox reset", slog.Int("simulations_stopped", stopped))
	return nil
}
