package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrDiscountInactive = errors.New("discount is not active")
	ErrBelowMinPurchase = errors.New("discount requires minimum purchase")
)

// FieldError names the offending input field so the handler can return a
// field-level 400.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// CartItem is the client-submitted shape. Quantity is trusted, price is
// not: the server re-prices every line from the product store.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

func ValidateCart(items []CartItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &FieldError{Field: fmt.Sprintf("cart_items[%d].product_id", i), Reason: "is required"}
		}
		if it.Quantity <= 0 {
			return &FieldError{Field: fmt.Sprintf("cart_items[%d].quantity", i), Reason: "must be > 0"}
		}
	}
	return nil
}

func ValidateCustomer(c domain.CustomerInfo) error {
	fields := []struct {
		name  string
		value string
	}{
		{"customer_info.name", c.Name},
		{"customer_info.email", c.Email},
		{"customer_info.phone", c.Phone},
		{"customer_info.address", c.Address},
		{"customer_info.city", c.City},
		{"customer_info.postal_code", c.PostalCode},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &FieldError{Field: f.name, Reason: "is required"}
		}
	}
	return nil
}

type Quote struct {
	Items        []domain.LineItem
	Subtotal     int64
	Discount     int64
	DiscountCode string
	Total        int64
}

func Subtotal(items []domain.LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += int64(it.Quantity) * it.UnitPrice
	}
	return sum
}

// DiscountAmount resolves a discount against a subtotal. The amount is
// always in [0, subtotal]. Percentage amounts round down.
func DiscountAmount(d domain.Discount, subtotal int64) (int64, error) {
	if !d.Active {
		return 0, ErrDiscountInactive
	}
	if subtotal < d.MinPurchase {
		return 0, ErrBelowMinPurchase
	}
	var amount int64
	switch d.Kind {
	case domain.DiscountPercentage:
		amount = subtotal * d.Value / 100
	case domain.DiscountFixed:
		amount = d.Value
	default:
		return 0, fmt.Errorf("unknown discount kind %q", d.Kind)
	}
	if amount < 0 {
		amount = 0
	}
	if amount > subtotal {
		amount = subtotal
	}
	return amount, nil
}

// Price computes the totals for a re-priced cart. Line items must already
// carry the server's current unit prices.
func Price(items []domain.LineItem, disc *domain.Discount) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyCart
	}
	q := Quote{Items: items, Subtotal: Subtotal(items)}
	if disc != nil {
		amount, err := DiscountAmount(*disc, q.Subtotal)
		if err != nil {
			return Quote{}, err
		}
		q.Discount = amount
		q.DiscountCode = disc.Code
	}
	q.Total = q.Subtotal - q.Discount
	return q, nil
}
