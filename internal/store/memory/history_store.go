package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// defaultHistoryLimit bounds the points retained per product.
const defaultHistoryLimit = 10_000

// HistoryStore implements domain.PriceHistoryStore in memory. Each product
// keeps at most limit points; the oldest are evicted first.
type HistoryStore struct {
	mu     sync.RWMutex
	points map[string][]domain.PricePoint
	limit  int
}

// NewHistoryStore creates a HistoryStore. A non-positive limit uses the
// default of 10000 points per product.
func NewHistoryStore(limit int) *HistoryStore {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &HistoryStore{
		points: make(map[string][]domain.PricePoint),
		limit:  limit,
	}
}

// Append records a point. Points are expected in roughly ascending time order;
// out-of-order points are inserted at their sorted position.
func (s *HistoryStore) Append(_ context.Context, point domain.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.points[point.ProductID]
	i := len(pts)
	if i > 0 && point.Timestamp.Before(pts[i-1].Timestamp) {
		i = sort.Search(len(pts), func(j int) bool { return pts[j].Timestamp.After(point.Timestamp) })
	}
	pts = append(pts, domain.PricePoint{})
	copy(pts[i+1:], pts[i:])
	pts[i] = point

	if len(pts) > s.limit {
		pts = append([]domain.PricePoint(nil), pts[len(pts)-s.limit:]...)
	}
	s.points[point.ProductID] = pts
	return nil
}

// Range returns points with start <= ts <= end, oldest first. A zero start or
// end leaves that side unbounded.
func (s *HistoryStore) Range(_ context.Context, productID string, start, end time.Time) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PricePoint
	for _, p := range s.points[productID] {
		if !start.IsZero() && p.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && p.Timestamp.After(end) {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

// ListBefore returns up to limit points older than before across all products,
// oldest first.
func (s *HistoryStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.PricePoint, error) {
	s.mu.RLock()
	var out []domain.PricePoint
	for _, pts := range s.points {
		for _, p := range pts {
			if !p.Timestamp.Before(before) {
				break
			}
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore drops every point older than before and reports how many were
// removed.
func (s *HistoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, pts := range s.points {
		cut := sort.Search(len(pts), func(i int) bool { return !pts[i].Timestamp.Before(before) })
		if cut == 0 {
			continue
		}
		n += int64(cut)
		s.points[id] = append([]domain.PricePoint(nil), pts[cut:]...)
	}
	return n, nil
}
