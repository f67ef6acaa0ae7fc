package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore on the price_history
// table.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a store on the given pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

func scanPoints(rows pgx.Rows) ([]domain.PricePoint, error) {
	defer rows.Close()
	pts := []domain.PricePoint{}
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.ProductID, &p.Price, &p.Timestamp); err != nil {
			return nil, err
		}
		p.Timestamp = p.Timestamp.UTC()
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// Append inserts one point.
func (s *PriceHistoryStore) Append(ctx context.Context, point domain.PricePoint) error {
	const query = `INSERT INTO price_history (product_id, price, recorded_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, point.ProductID, point.Price, point.Timestamp); err != nil {
		return fmt.Errorf("postgres: append price %s: %w", point.ProductID, err)
	}
	return nil
}

// Range returns points for productID between start and end inclusive, oldest
// first. A zero bound is open.
func (s *PriceHistoryStore) Range(ctx context.Context, productID string, start, end time.Time) ([]domain.PricePoint, error) {
	const query = `
		SELECT product_id, price, recorded_at
		FROM price_history
		WHERE product_id = $1
		  AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		  AND ($3::timestamptz IS NULL OR recorded_at <= $3)
		ORDER BY recorded_at, id`

	rows, err := s.pool.Query(ctx, query, productID, nullTime(start), nullTime(end))
	if err != nil {
		return nil, fmt.Errorf("postgres: price range %s: %w", productID, err)
	}
	pts, err := scanPoints(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price range %s: %w", productID, err)
	}
	return pts, nil
}

// ListBefore returns up to limit points recorded strictly before the cutoff,
// oldest first. A non-positive limit returns all of them.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.PricePoint, error) {
	query := `
		SELECT product_id, price, recorded_at
		FROM price_history
		WHERE recorded_at < $1
		ORDER BY recorded_at, id`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list prices before %s: %w", before.Format(time.RFC3339), err)
	}
	pts, err := scanPoints(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan prices before %s: %w", before.Format(time.RFC3339), err)
	}
	return pts, nil
}

// DeleteBefore removes every point recorded strictly before the cutoff.
func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete prices before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)
