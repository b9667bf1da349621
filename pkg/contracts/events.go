package contracts

import "time"

// Event is the envelope published to the order events topic via the
// outbox. EventID is unique per emission and used by consumers for
// their own inbox dedup.
type Event struct {
	EventID     string         `json:"event_id"`
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Type        string         `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)
