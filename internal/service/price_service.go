package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/metrics"
)

// PriceService is the price store used by the feed, the simulators and the
// REST handlers. It validates products, keeps the latest price in the cache,
// appends history and publishes price events on the signal bus.
type PriceService struct {
	cache    domain.PriceCache
	history  domain.PriceHistoryStore
	bus      domain.SignalBus
	channel  string
	products []domain.Product
	known    map[string]struct{}
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPriceService creates a PriceService for the given product ids. history
// and bus may be nil.
func NewPriceService(
	productIDs []string,
	cache domain.PriceCache,
	history domain.PriceHistoryStore,
	bus domain.SignalBus,
	channel string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PriceService {
	s := &PriceService{
		cache:   cache,
		history: history,
		bus:     bus,
		channel: channel,
		known:   make(map[string]struct{}, len(productIDs)),
		now:     time.Now,
		metrics: m,
		logger:  logger.With(slog.String("component", "price_service")),
	}
	for _, id := range productIDs {
		if _, dup := s.known[id]; dup {
			continue
		}
		s.known[id] = struct{}{}
		s.products = append(s.products, domain.NewProduct(id))
	}
	return s
}

// Products returns the product catalog in configured order.
func (s *PriceService) Products() []domain.Product {
	return append([]domain.Product(nil), s.products...)
}

// ProductIDs returns the ids of every known product.
func (s *PriceService) ProductIDs() []string {
	ids := make([]string, len(s.products))
	for i, p := range s.products {
		ids[i] = p.ID
	}
	return ids
}

// Product looks up a single product.
func (s *PriceService) Product(productID string) (domain.Product, error) {
	for _, p := range s.products {
		if p.ID == productID {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("price_service: product %q: %w", productID, domain.ErrUnknownProduct)
}

func (s *PriceService) checkProduct(productID string) error {
	if _, ok := s.known[productID]; !ok {
		return fmt.Errorf("price_service: product %q: %w", productID, domain.ErrUnknownProduct)
	}
	return nil
}

// GetCurrentPrice returns the latest price for productID.
func (s *PriceService) GetCurrentPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	p, err := s.GetPrice(ctx, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Price, nil
}

// GetPrice returns the latest price point for productID.
func (s *PriceService) GetPrice(ctx context.Context, productID string) (domain.PricePoint, error) {
	if err := s.checkProduct(productID); err != nil {
		return domain.PricePoint{}, err
	}
	p, err := s.cache.GetPrice(ctx, productID)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("price_service: get price for %q: %w", productID, err)
	}
	return p, nil
}

// Prices returns the latest point of every product that has one, in catalog
// order.
func (s *PriceService) Prices(ctx context.Context) ([]domain.PricePoint, error) {
	ids := s.ProductIDs()
	got, err := s.cache.GetPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	out := make([]domain.PricePoint, 0, len(got))
	for _, id := range ids {
		if p, ok := got[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetPrice writes a new price for productID. History and the price event are
// best effort: failures are logged, never returned.
func (s *PriceService) SetPrice(ctx context.Context, productID string, price decimal.Decimal) (domain.PricePoint, error) {
	if err := s.checkProduct(productID); err != nil {
		return domain.PricePoint{}, err
	}
	if !price.IsPositive() {
		return domain.PricePoint{}, fmt.Errorf("price_service: set price for %q to %s: %w", productID, price, domain.ErrInvalidPrice)
	}

	point := domain.PricePoint{ProductID: productID, Price: price, Timestamp: s.now().UTC()}
	if err := s.cache.SetPrice(ctx, point); err != nil {
		return domain.PricePoint{}, fmt.Errorf("price_service: set price for %q: %w", productID, err)
	}
	s.metrics.PriceWritten(productID)

	if s.history != nil {
		if err := s.history.Append(ctx, point); err != nil {
			s.logger.WarnContext(ctx, "append price history failed",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":      "price_set",
			"product_id": productID,
			"price":      point.Price.String(),
			"timestamp":  point.Timestamp.Format(time.RFC3339Nano),
		})
		if pubErr := s.bus.Publish(ctx, s.channel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish price event failed",
				slog.String("product_id", productID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	return point, nil
}

// History returns the recorded prices for productID between start and end,
// oldest first. Zero times leave that side of the range open.
func (s *PriceService) History(ctx context.Context, productID string, start, end time.Time) ([]domain.PricePoint, error) {
	if err := s.checkProduct(productID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.PricePoint{}, nil
	}
	pts, err := s.history.Range(ctx, productID, start, end)
	if err != nil {
		return nil, fmt.Errorf("price_service: history for %q: %w", productID, err)
	}
	if pts == nil {
		pts = []domain.PricePoint{}
	}
	return pts, nil
}

// Seed writes the given prices in product id order. Unknown products are
// reported together.
func (s *PriceService) Seed(ctx context.Context, prices map[string]decimal.Decimal) error {
	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if _, err := s.SetPrice(ctx, id, prices[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
