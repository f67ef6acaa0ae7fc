package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SimulationMode selects the price mover algorithm.
type SimulationMode string

const (
	SimulationStatic     SimulationMode = "static"
	SimulationTrend      SimulationMode = "trend"
	SimulationVolatility SimulationMode = "volatility"
	SimulationReplay     SimulationMode = "replay"
)

// SimulationRequest carries the parameters for starting a price mover. Zero
// decimals mean "not provided".
type SimulationRequest struct {
	Mode              SimulationMode
	StartPrice        decimal.Decimal
	EndPrice          decimal.Decimal
	VolatilityPercent decimal.Decimal
	DurationSeconds   int
	Repeat            bool
}

// Simulation describes a running price mover.
type Simulation struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	Mode              SimulationMode  `json:"simulation_mode"`
	StartPrice        decimal.Decimal `json:"start_price"`
	EndPrice          decimal.Decimal `json:"end_price,omitzero"`
	VolatilityPercent decimal.Decimal `json:"volatility_percent,omitzero"`
	DurationSeconds   int             `json:"duration_seconds"`
	Repeat            bool            `json:"repeat"`
	StartedAt         time.Time       `json:"started_at"`
}
