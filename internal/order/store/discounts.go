package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

type Discounts struct {
	Pool *pgxpool.Pool
}

// Resolve looks a discount up by id first, then by code.
func (s *Discounts) Resolve(ctx context.Context, idOrCode string) (domain.Discount, error) {
	var d domain.Discount
	err := s.Pool.QueryRow(ctx,
		`SELECT id, code, kind, value, min_purchase, active FROM discounts WHERE id=$1 OR code=$1`, idOrCode,
	).Scan(&d.ID, &d.Code, &d.Kind, &d.Value, &d.MinPurchase, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Discount{}, ErrNotFound
	}
	if err != nil {
		return domain.Discount{}, err
	}
	return d, nil
}
