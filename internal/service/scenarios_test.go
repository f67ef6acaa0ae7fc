package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

func TestApplyPresetScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)
	sim := newSimulator(t, svc, nil)
	sc := NewScenarios(svc, sim, discardLogger())

	got, err := sc.Apply(ctx, "BullRun")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Name != "bullrun" || got.Message != "Bull market scenario has been set up" {
		t.Fatalf("unexpected scenario %+v", got)
	}

	list := sim.List()
	if len(list) != 3 {
		t.Fatalf("running simulations = %d, want 3", len(list))
	}
	for _, s := range list {
		if s.Mode != domain.SimulationTrend || !s.Repeat || s.DurationSeconds != 3600 {
			t.Errorf("unexpected simulation %+v", s)
		}
		if s.ProductID == "BTC-USD" && (!s.StartPrice.Equal(dec("75000")) || !s.EndPrice.Equal(dec("85000"))) {
			t.Errorf("BTC trend = %s -> %s", s.StartPrice, s.EndPrice)
		}
	}

	// Switching scenario replaces every mover.
	if _, err := sc.Apply(ctx, "volatility"); err != nil {
		t.Fatal(err)
	}
	for _, s := range sim.List() {
		if s.Mode != domain.SimulationVolatility {
			t.Errorf("%s still runs %s", s.ProductID, s.Mode)
		}
		if s.ProductID == "SOL-USD" && !s.StartPrice.Equal(dec("180")) {
			t.Errorf("SOL base = %s, want 180", s.StartPrice)
		}
	}
}

func TestApplyUnknownScenario(t *testing.T) {
	svc, _ := newPriceService(t, nil)
	sc := NewScenarios(svc, newSimulator(t, svc, nil), discardLogger())

	_, err := sc.Apply(context.Background(), "sideways")
	if !errors.Is(err, domain.ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
	if !strings.Contains(err.Error(), "bearmarket, bullrun, volatility") {
		t.Fatalf("error should list scenarios: %v", err)
	}
}

func TestApplyPricesAndReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPriceService(t, nil)
	sim := newSimulator(t, svc, nil)
	sc := NewScenarios(svc, sim, discardLogger())

	if err := sc.ApplyPrices(ctx, map[string]decimal.Decimal{"ETH-USD": dec("1234.5")}); err != nil {
		t.Fatal(err)
	}
	if p, _ := svc.GetCurrentPrice(ctx, "ETH-USD"); !p.Equal(dec("1234.5")) {
		t.Fatalf("ETH = %s", p)
	}

	if _, err := sc.Apply(ctx, "bearmarket"); err != nil {
		t.Fatal(err)
	}
	seeds := map[string]decimal.Decimal{"BTC-USD": dec("75000"), "ETH-USD": dec("4500"), "SOL-USD": dec("195")}
	if err := sc.Reset(ctx, seeds); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n := len(sim.List()); n != 0 {
		t.Fatalf("simulations after reset = %d", n)
	}
	for id, want := range seeds {
		if p, _ := svc.GetCurrentPrice(ctx, id); !p.Equal(want) {
			t.Errorf("%s = %s, want %s", id, p, want)
		}
	}
}
