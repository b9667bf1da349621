package domain

import "time"

type OrderID string
type ProductID string
type DiscountID string

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal statuses never transition further.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCancelled
}

type Product struct {
	ID        ProductID `json:"id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"` // minor units
	Stock     int64     `json:"stock"`
	ImageURL  string    `json:"image_url,omitempty"`
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFixed      DiscountKind = "FIXED"
)

type Discount struct {
	ID          DiscountID   `json:"id"`
	Code        string       `json:"code"`
	Kind        DiscountKind `json:"kind"`
	Value       int64        `json:"value"` // percent for PERCENTAGE, minor units for FIXED
	MinPurchase int64        `json:"min_purchase"`
	Active      bool         `json:"active"`
}

type CustomerInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// LineItem is a snapshot taken at session-creation time. Later product
// edits must not alter historical orders.
type LineItem struct {
	ProductID ProductID `json:"product_id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url,omitempty"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
}

type Order struct {
	ID           OrderID      `json:"id"`
	Number       string       `json:"number"`
	SessionID    string       `json:"session_id"`
	Status       OrderStatus  `json:"status"`
	Customer     CustomerInfo `json:"customer"`
	Items        []LineItem   `json:"items"`
	Subtotal     int64        `json:"subtotal"`
	Discount     int64        `json:"discount"`
	DiscountCode string       `json:"discount_code,omitempty"`
	Total        int64        `json:"total"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewOrder carries everything a verified fulfillment event needs to
// materialize an Order. It is built from session metadata set by this
// system, never from a client-supplied request body.
type NewOrder struct {
	SessionID    string
	Customer     CustomerInfo
	Items        []LineItem
	Subtotal     int64
	Discount     int64
	DiscountCode string
	Total        int64
}
