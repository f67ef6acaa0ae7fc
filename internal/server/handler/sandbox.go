package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/service"
)

// Simulator runs price movers.
type Simulator interface {
	Start(ctx context.Context, productID string, req domain.SimulationRequest) (domain.Simulation, error)
	Stop(productID string) error
	List() []domain.Simulation
}

// ScenarioRunner applies preset and custom scenarios and resets the sandbox.
type ScenarioRunner interface {
	Apply(ctx context.Context, name string) (service.Scenario, error)
	ApplyPrices(ctx context.Context, prices map[string]decimal.Decimal) error
	Reset(ctx context.Context, seeds map[string]decimal.Decimal) error
}

// ConnectionCounter reports open feed connections.
type ConnectionCounter interface {
	Len() int
}

// SandboxHandler serves the /api/v3/sandbox control endpoints.
type SandboxHandler struct {
	prices    PriceService
	sim       Simulator
	scenarios ScenarioRunner
	conns     ConnectionCounter
	seeds     map[string]decimal.Decimal
	logger    *slog.Logger
}

// NewSandboxHandler creates a SandboxHandler. seeds are the prices restored
// by the reset endpoint.
func NewSandboxHandler(
	prices PriceService,
	sim Simulator,
	scenarios ScenarioRunner,
	conns ConnectionCounter,
	seeds map[string]decimal.Decimal,
	logger *slog.Logger,
) *SandboxHandler {
	return &SandboxHandler{
		prices:    prices,
		sim:       sim,
		scenarios: scenarios,
		conns:     conns,
		seeds:     seeds,
		logger:    logHandler(logger, "sandbox"),
	}
}

// SetStaticPrice pins a price, stopping any simulation on the product.
// POST /api/v3/sandbox/prices/{productId}
func (h *SandboxHandler) SetStaticPrice(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	price, err := decodePrice(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.prices.Product(productID); err != nil {
		writeDomainError(w, r, h.logger, "set static price", err)
		return
	}
	if err := h.sim.Stop(productID); err != nil && !errors.Is(err, domain.ErrSimulationNotFound) {
		writeDomainError(w, r, h.logger, "stop simulation", err)
		return
	}

	p, err := h.prices.SetPrice(r.Context(), productID, price)
	if err != nil {
		writeDomainError(w, r, h.logger, "set static price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"product_id":      p.ProductID,
		"price":           p.Price,
		"timestamp":       p.Timestamp,
		"simulation_mode": domain.SimulationStatic,
	})
}

type simulateRequest struct {
	Mode              string          `json:"mode"`
	SimulationMode    string          `json:"simulation_mode"`
	StartPrice        decimal.Decimal `json:"start_price"`
	EndPrice          decimal.Decimal `json:"end_price"`
	VolatilityPercent decimal.Decimal `json:"volatility_percent"`
	DurationSeconds   int             `json:"duration_seconds"`
	Repeat            bool            `json:"repeat"`
}

// Simulate starts a price simulation.
// POST /api/v3/sandbox/prices/{productId}/simulate
func (h *SandboxHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = req.SimulationMode
	}

	sim, err := h.sim.Start(r.Context(), r.PathValue("productId"), domain.SimulationRequest{
		Mode:              domain.SimulationMode(strings.ToLower(mode)),
		StartPrice:        req.StartPrice,
		EndPrice:          req.EndPrice,
		VolatilityPercent: req.VolatilityPercent,
		DurationSeconds:   req.DurationSeconds,
		Repeat:            req.Repeat,
	})
	if errors.Is(err, domain.ErrNotImplemented) {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"message": "Historical price replay not implemented yet"})
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "start simulation", err)
		return
	}

	resp := map[string]any{
		"success":         true,
		"product_id":      sim.ProductID,
		"simulation_mode": sim.Mode,
	}
	switch sim.Mode {
	case domain.SimulationTrend:
		resp["simulation_id"] = sim.ID
		resp["start_price"] = sim.StartPrice
		resp["end_price"] = sim.EndPrice
		resp["duration_seconds"] = sim.DurationSeconds
		resp["repeat"] = sim.Repeat
	case domain.SimulationVolatility:
		resp["simulation_id"] = sim.ID
		resp["base_price"] = sim.StartPrice
		resp["volatility_percent"] = sim.VolatilityPercent
		resp["duration_seconds"] = sim.DurationSeconds
		resp["repeat"] = sim.Repeat
	default:
		resp["price"] = sim.StartPrice
	}
	writeJSON(w, http.StatusOK, resp)
}

// StopSimulation stops the simulation running on a product.
// DELETE /api/v3/sandbox/prices/{productId}/simulation
func (h *SandboxHandler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if _, err := h.prices.Product(productID); err != nil {
		writeDomainError(w, r, h.logger, "stop simulation", err)
		return
	}
	if err := h.sim.Stop(productID); err != nil {
		writeDomainError(w, r, h.logger, "stop simulation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"product_id": productID,
		"message":    "Price simulation stopped",
	})
}

// ListSimulations returns the running simulations.
// GET /api/v3/sandbox/simulations
func (h *SandboxHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"simulations": h.sim.List()})
}

type scenarioRequest struct {
	Name   string                     `json:"name"`
	Prices map[string]decimal.Decimal `json:"prices"`
}

// SetupScenario applies a named preset or a custom price map.
// POST /api/v3/sandbox/scenarios
func (h *SandboxHandler) SetupScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Name) != "" {
		sc, err := h.scenarios.Apply(r.Context(), req.Name)
		if err != nil {
			writeDomainError(w, r, h.logger, "apply scenario", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"scenario": sc.Name,
			"message":  sc.Message,
		})
		return
	}

	if len(req.Prices) > 0 {
		if err := h.scenarios.ApplyPrices(r.Context(), req.Prices); err != nil {
			writeDomainError(w, r, h.logger, "apply custom scenario", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Custom scenario has been set up",
	})
}

// Reset stops every simulation and restores the seed prices.
// POST /api/v3/sandbox/reset
func (h *SandboxHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.scenarios.Reset(r.Context(), h.seeds); err != nil {
		writeDomainError(w, r, h.logger, "reset sandbox", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Sandbox has been reset to initial state",
	})
}

type statePrice struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
}

// State returns current prices, running simulations and the number of feed
// connections.
// GET /api/v3/sandbox/state
func (h *SandboxHandler) State(w http.ResponseWriter, r *http.Request) {
	pts, err := h.prices.Prices(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "get sandbox state", err)
		return
	}
	prices := make([]statePrice, len(pts))
	for i, p := range pts {
		prices[i] = statePrice{ProductID: p.ProductID, Price: p.Price}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"products":    h.prices.Products(),
		"prices":      prices,
		"simulations": h.sim.List(),
		"connections": h.conns.Len(),
	})
}
