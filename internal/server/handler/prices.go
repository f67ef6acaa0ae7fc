package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// PriceService is what the price and product endpoints need from the
// service layer.
type PriceService interface {
	Products() []domain.Product
	Product(productID string) (domain.Product, error)
	GetPrice(ctx context.Context, productID string) (domain.PricePoint, error)
	SetPrice(ctx context.Context, productID string, price decimal.Decimal) (domain.PricePoint, error)
	Prices(ctx context.Context) ([]domain.PricePoint, error)
	History(ctx context.Context, productID string, start, end time.Time) ([]domain.PricePoint, error)
}

// PriceHandler serves the product catalog and price endpoints.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logHandler(logger, "prices")}
}

// ListProducts returns the product catalog.
// GET /api/products
func (h *PriceHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prices.Products())
}

// GetProduct returns one product.
// GET /api/products/{productId}
func (h *PriceHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.prices.Product(r.PathValue("productId"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CurrentPrice returns the latest price point.
// GET /api/prices/{productId}/current
func (h *PriceHandler) CurrentPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.prices.GetPrice(r.Context(), r.PathValue("productId"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get current price", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History returns recorded prices, oldest first.
// GET /api/prices/{productId}/history?start=RFC3339&end=RFC3339
func (h *PriceHandler) History(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	pts, err := h.prices.History(r.Context(), r.PathValue("productId"), start, end)
	if err != nil {
		writeDomainError(w, r, h.logger, "get price history", err)
		return
	}
	writeJSON(w, http.StatusOK, pts)
}

// MockPrice sets a price without touching running simulations.
// POST /api/prices/{productId}/mock
func (h *PriceHandler) MockPrice(w http.ResponseWriter, r *http.Request) {
	price, err := decodePrice(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.prices.SetPrice(r.Context(), r.PathValue("productId"), price)
	if err != nil {
		writeDomainError(w, r, h.logger, "set mock price", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s time %q, want RFC3339", name, v)
	}
	return t, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
