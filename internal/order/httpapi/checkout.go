package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nazeru/farmshop-orders-go/internal/order/checkout"
	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/internal/order/store"
	"github.com/nazeru/farmshop-orders-go/pkg/logging"
)

type createSessionRequest struct {
	CartItems    []checkout.CartItem `json:"cart_items"`
	CustomerInfo domain.CustomerInfo `json:"customer_info"`
	DiscountID   string              `json:"discount_id,omitempty"`
}

// handleCreateCheckoutSession validates the cart, re-prices it from the
// product store, applies the discount and asks the provider for a hosted
// session. No local state is created; the order only comes into
// existence when the fulfillment webhook arrives.
func (a *API) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		a.observe("create_session", http.StatusBadRequest, start)
		return
	}
	if err := checkout.ValidateCart(req.CartItems); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		a.observe("create_session", http.StatusBadRequest, start)
		return
	}
	if err := checkout.ValidateCustomer(req.CustomerInfo); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		a.observe("create_session", http.StatusBadRequest, start)
		return
	}

	ctx := r.Context()

	// Server prices only; the client's idea of a price is ignored.
	items := make([]domain.LineItem, 0, len(req.CartItems))
	for _, ci := range req.CartItems {
		p, err := a.Products.Get(ctx, ci.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown product: "+ci.ProductID)
			a.observe("create_session", http.StatusBadRequest, start)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			a.observe("create_session", http.StatusInternalServerError, start)
			return
		}
		items = append(items, domain.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Quantity:  ci.Quantity,
			UnitPrice: p.UnitPrice,
		})
	}

	var disc *domain.Discount
	if req.DiscountID != "" {
		d, err := a.Discounts.Resolve(ctx, req.DiscountID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown discount")
			a.observe("create_session", http.StatusBadRequest, start)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			a.observe("create_session", http.StatusInternalServerError, start)
			return
		}
		disc = &d
	}

	quote, err := checkout.Price(items, disc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		a.observe("create_session", http.StatusBadRequest, start)
		return
	}

	meta, err := payment.EncodeMetadata(domain.NewOrder{
		Customer:     req.CustomerInfo,
		Items:        quote.Items,
		Subtotal:     quote.Subtotal,
		Discount:     quote.Discount,
		DiscountCode: quote.DiscountCode,
		Total:        quote.Total,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("create_session", http.StatusInternalServerError, start)
		return
	}

	sess, err := a.Provider.CreateSession(ctx, payment.SessionRequest{
		AmountTotal: quote.Total,
		Currency:    a.Cfg.Currency,
		SuccessURL:  a.Cfg.SuccessURL,
		CancelURL:   a.Cfg.CancelURL,
		Metadata:    meta,
	})
	if err != nil {
		logging.Log(logging.Fields{Service: "order-service", Step: "create_session", Status: "provider_error", Message: err.Error()})
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		a.observe("create_session", http.StatusBadGateway, start)
		return
	}

	logging.Log(logging.Fields{
		Service: "order-service", SessionID: sess.ID, Step: "create_session",
		Status: "created", DurationMS: time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": sess.ID, "url": sess.URL})
	a.observe("create_session", http.StatusOK, start)
}
