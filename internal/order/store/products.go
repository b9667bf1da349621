package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

type Products struct {
	Pool *pgxpool.Pool
}

func (s *Products) Get(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := s.Pool.QueryRow(ctx,
		`SELECT id, name, unit_price, stock, image_url FROM products WHERE id=$1`, id,
	).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Stock, &p.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// AdjustStock applies a signed delta as a single atomic update, clamped
// at zero. Never read-modify-write: concurrent fulfillments and
// cancellations race on this column.
func (s *Products) AdjustStock(ctx context.Context, id string, delta int64) (domain.Product, error) {
	var p domain.Product
	err := s.Pool.QueryRow(ctx,
		`UPDATE products SET stock = GREATEST(stock + $2, 0) WHERE id=$1
		 RETURNING id, name, unit_price, stock, image_url`, id, delta,
	).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Stock, &p.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}
