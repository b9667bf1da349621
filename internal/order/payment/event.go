package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

const EventCheckoutCompleted = "checkout.session.completed"

// Event is the provider's webhook envelope. Delivery is at-least-once;
// ID is stable across redeliveries of the same event.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	SessionID   string   `json:"session_id"`
	AmountTotal int64    `json:"amount_total"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata is opaque to the provider: we set it at session creation and
// it comes back verbatim on the completed event. Once the signature
// verifies, its contents are as trustworthy as our own database.
type Metadata map[string]string

const (
	metaItems        = "items"
	metaCustomer     = "customer"
	metaSubtotal     = "subtotal"
	metaDiscount     = "discount"
	metaDiscountCode = "discount_code"
	metaTotal        = "total"
)

var ErrBadMetadata = errors.New("malformed session metadata")

func EncodeMetadata(in domain.NewOrder) (Metadata, error) {
	itemsJSON, err := json.Marshal(in.Items)
	if err != nil {
		return nil, err
	}
	customerJSON, err := json.Marshal(in.Customer)
	if err != nil {
		return nil, err
	}
	m := Metadata{
		metaItems:    string(itemsJSON),
		metaCustomer: string(customerJSON),
		metaSubtotal: strconv.FormatInt(in.Subtotal, 10),
		metaDiscount: strconv.FormatInt(in.Discount, 10),
		metaTotal:    strconv.FormatInt(in.Total, 10),
	}
	if in.DiscountCode != "" {
		m[metaDiscountCode] = in.DiscountCode
	}
	return m, nil
}

func DecodeMetadata(sessionID string, m Metadata) (domain.NewOrder, error) {
	out := domain.NewOrder{SessionID: sessionID, DiscountCode: m[metaDiscountCode]}
	if err := json.Unmarshal([]byte(m[metaItems]), &out.Items); err != nil {
		return domain.NewOrder{}, fmt.Errorf("%w: items: %v", ErrBadMetadata, err)
	}
	if len(out.Items) == 0 {
		return domain.NewOrder{}, fmt.Errorf("%w: no line items", ErrBadMetadata)
	}
	if err := json.Unmarshal([]byte(m[metaCustomer]), &out.Customer); err != nil {
		return domain.NewOrder{}, fmt.Errorf("%w: customer: %v", ErrBadMetadata, err)
	}
	var err error
	if out.Subtotal, err = strconv.ParseInt(m[metaSubtotal], 10, 64); err != nil {
		return domain.NewOrder{}, fmt.Errorf("%w: subtotal: %v", ErrBadMetadata, err)
	}
	if out.Discount, err = strconv.ParseInt(m[metaDiscount], 10, 64); err != nil {
		return domain.NewOrder{}, fmt.Errorf("%w: discount: %v", ErrBadMetadata, err)
	}
	if out.Total, err = strconv.ParseInt(m[metaTotal], 10, 64); err != nil {
		return domain.NewOrder{}, fmt.Errorf("%w: total: %v", ErrBadMetadata, err)
	}
	return out, nil
}
