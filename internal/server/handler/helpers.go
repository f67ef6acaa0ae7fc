// Package handler implements the sandbox REST API.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownProduct),
		errors.Is(err, domain.ErrSimulationNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidSimulation),
		errors.Is(err, domain.ErrUnknownScenario):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers with the mapped status. Server errors are logged
// and their detail is not exposed.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return bytes.TrimSpace(body), nil
}

// decodeJSON decodes the request body into v. An empty body leaves v alone.
func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodePrice accepts a bare price (55000.00 or "55000.00") or an object
// {"price": ...}.
func decodePrice(r *http.Request) (decimal.Decimal, error) {
	body, err := readBody(r)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(body) == 0 {
		return decimal.Decimal{}, errors.New("price is required")
	}

	var price decimal.Decimal
	if body[0] == '{' {
		var req struct {
			Price *decimal.Decimal `json:"price"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return decimal.Decimal{}, fmt.Errorf("invalid request body: %w", err)
		}
		if req.Price == nil {
			return decimal.Decimal{}, errors.New("price is required")
		}
		price = *req.Price
	} else if err := json.Unmarshal(body, &price); err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price: %w", err)
	}
	return price, nil
}
