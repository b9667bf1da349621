package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
	"github.com/nazeru/farmshop-orders-go/pkg/contracts"
	"github.com/nazeru/farmshop-orders-go/pkg/idempotency"
	"github.com/nazeru/farmshop-orders-go/pkg/outbox"
)

type Orders struct {
	Pool  *pgxpool.Pool
	Topic string
}

// CreateFromEvent materializes an order from a verified fulfillment
// event. Everything happens in one transaction: claiming the event id,
// allocating the order number, inserting the order and its items,
// decrementing stock and enqueueing the outbox record. A duplicate
// delivery commits nothing and returns created=false.
func (s *Orders) CreateFromEvent(ctx context.Context, eventID string, in domain.NewOrder) (domain.Order, bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claimed, err := idempotency.Claim(ctx, tx, eventID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if !claimed {
		return domain.Order{}, false, nil
	}

	// Sequence allocation is collision-free under concurrent deliveries,
	// unlike counting existing orders.
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('order_numbers')`).Scan(&seq); err != nil {
		return domain.Order{}, false, err
	}

	o := domain.Order{
		ID:           domain.OrderID(uuid.NewString()),
		Number:       fmt.Sprintf("FS-%d", seq),
		SessionID:    in.SessionID,
		Status:       domain.OrderStatusPending,
		Customer:     in.Customer,
		Items:        in.Items,
		Subtotal:     in.Subtotal,
		Discount:     in.Discount,
		DiscountCode: in.DiscountCode,
		Total:        in.Total,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders(id, number, session_id, status,
		    customer_name, customer_email, customer_phone, customer_address, customer_city, customer_postal_code,
		    subtotal, discount, discount_code, total)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 RETURNING created_at, updated_at`,
		o.ID, o.Number, o.SessionID, o.Status,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address, o.Customer.City, o.Customer.PostalCode,
		o.Subtotal, o.Discount, o.DiscountCode, o.Total,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		// Distinct event ids for one session (provider quirk): the unique
		// session_id makes the second insert a duplicate, not an error.
		if isUniqueViolation(err) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, product_id, name, image_url, quantity, unit_price)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.Name, it.ImageURL, it.Quantity, it.UnitPrice)
		if err != nil {
			return domain.Order{}, false, err
		}
		// Payment already succeeded, so the decrement is not re-checked
		// against availability; it is clamped so stock never goes
		// negative. Accepted risk: oversold items need manual handling.
		_, err = tx.Exec(ctx,
			`UPDATE products SET stock = GREATEST(stock - $2, 0) WHERE id=$1`,
			it.ProductID, int64(it.Quantity))
		if err != nil {
			return domain.Order{}, false, err
		}
	}

	evt := contracts.Event{
		EventID:     uuid.NewString(),
		OrderID:     string(o.ID),
		OrderNumber: o.Number,
		Type:        contracts.EventOrderCreated,
		CreatedAt:   time.Now().UTC(),
		Payload:     map[string]any{"total": o.Total, "email": o.Customer.Email},
	}
	if err := outbox.InsertTx(ctx, tx, evt.EventID, s.Topic, string(o.ID), evt); err != nil {
		return domain.Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func (s *Orders) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.getWhere(ctx, `id=$1`, id)
}

// GetBySession serves the storefront's post-payment poll: the webhook may
// land before or after the customer returns, so 404 here means "not yet".
func (s *Orders) GetBySession(ctx context.Context, sessionID string) (domain.Order, error) {
	return s.getWhere(ctx, `session_id=$1`, sessionID)
}

func (s *Orders) getWhere(ctx context.Context, cond string, arg any) (domain.Order, error) {
	var o domain.Order
	err := s.Pool.QueryRow(ctx,
		`SELECT id, number, session_id, status,
		    customer_name, customer_email, customer_phone, customer_address, customer_city, customer_postal_code,
		    subtotal, discount, discount_code, total, created_at, updated_at
		 FROM orders WHERE `+cond, arg,
	).Scan(&o.ID, &o.Number, &o.SessionID, &o.Status,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address, &o.Customer.City, &o.Customer.PostalCode,
		&o.Subtotal, &o.Discount, &o.DiscountCode, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = s.loadItems(ctx, s.Pool, string(o.ID))
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Orders) loadItems(ctx context.Context, q querier, orderID string) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_id, name, image_url, quantity, unit_price FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.ImageURL, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Cancel flips a PENDING order to CANCELLED and restocks every line item
// exactly once, all in one transaction. Non-pending orders return
// ErrConflict and stock is left untouched.
func (s *Orders) Cancel(ctx context.Context, id string) (domain.Order, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status domain.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order is %s", ErrConflict, status)
	}

	items, err := s.loadItems(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}
	for _, it := range items {
		_, err = tx.Exec(ctx,
			`UPDATE products SET stock = stock + $2 WHERE id=$1`,
			it.ProductID, int64(it.Quantity))
		if err != nil {
			return domain.Order{}, err
		}
	}

	var o domain.Order
	err = tx.QueryRow(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
		 RETURNING id, number, session_id, status,
		    customer_name, customer_email, customer_phone, customer_address, customer_city, customer_postal_code,
		    subtotal, discount, discount_code, total, created_at, updated_at`,
		id, domain.OrderStatusCancelled,
	).Scan(&o.ID, &o.Number, &o.SessionID, &o.Status,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address, &o.Customer.City, &o.Customer.PostalCode,
		&o.Subtotal, &o.Discount, &o.DiscountCode, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items

	evt := contracts.Event{
		EventID:     uuid.NewString(),
		OrderID:     string(o.ID),
		OrderNumber: o.Number,
		Type:        contracts.EventOrderCancelled,
		CreatedAt:   time.Now().UTC(),
		Payload:     map[string]any{"email": o.Customer.Email},
	}
	if err := outbox.InsertTx(ctx, tx, evt.EventID, s.Topic, string(o.ID), evt); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
