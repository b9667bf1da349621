package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
	"github.com/nazeru/farmshop-orders-go/internal/order/store"
	"github.com/nazeru/farmshop-orders-go/pkg/logging"
)

// The acting identity is either the admin bearer token or an actor email
// asserted by the fronting auth layer. The order's snapshotted customer
// email is the authorization anchor, not anything in the request body.
func (a *API) authorize(r *http.Request, o domain.Order) bool {
	auth := r.Header.Get("Authorization")
	if a.Cfg.AdminToken != "" && auth == "Bearer "+a.Cfg.AdminToken {
		return true
	}
	actor := strings.TrimSpace(r.Header.Get("X-Actor-Email"))
	return actor != "" && strings.EqualFold(actor, o.Customer.Email)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("id")

	o, err := a.Orders.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		a.observe("cancel_order", http.StatusNotFound, start)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("cancel_order", http.StatusInternalServerError, start)
		return
	}

	if !a.authorize(r, o) {
		writeError(w, http.StatusForbidden, "not allowed to cancel this order")
		a.observe("cancel_order", http.StatusForbidden, start)
		return
	}

	updated, err := a.Orders.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
		a.observe("cancel_order", http.StatusConflict, start)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		a.observe("cancel_order", http.StatusNotFound, start)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("cancel_order", http.StatusInternalServerError, start)
		return
	}

	logging.Log(logging.Fields{
		Service: "order-service", OrderID: string(updated.ID), Step: "cancel",
		Status: "cancelled", DurationMS: time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, updated)
	a.observe("cancel_order", http.StatusOK, start)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	o, err := a.Orders.Get(r.Context(), r.PathValue("id"))
	a.writeOrder(w, o, err, "get_order", start)
}

func (a *API) handleGetOrderBySession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	o, err := a.Orders.GetBySession(r.Context(), r.PathValue("sessionID"))
	a.writeOrder(w, o, err, "get_order_by_session", start)
}

func (a *API) writeOrder(w http.ResponseWriter, o domain.Order, err error, handler string, start time.Time) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		a.observe(handler, http.StatusNotFound, start)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe(handler, http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, o)
	a.observe(handler, http.StatusOK, start)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, err := a.Products.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		a.observe("get_product", http.StatusNotFound, start)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("get_product", http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, p)
	a.observe("get_product", http.StatusOK, start)
}

type adjustStockRequest struct {
	Delta int64 `json:"delta"`
}

// handleAdjustStock is the admin inventory adjustment: a single signed
// delta applied atomically, clamped at zero.
func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if a.Cfg.AdminToken == "" || r.Header.Get("Authorization") != "Bearer "+a.Cfg.AdminToken {
		writeError(w, http.StatusForbidden, "admin token required")
		a.observe("adjust_stock", http.StatusForbidden, start)
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		a.observe("adjust_stock", http.StatusBadRequest, start)
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero")
		a.observe("adjust_stock", http.StatusBadRequest, start)
		return
	}

	p, err := a.Products.AdjustStock(r.Context(), r.PathValue("id"), req.Delta)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		a.observe("adjust_stock", http.StatusNotFound, start)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("adjust_stock", http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, p)
	a.observe("adjust_stock", http.StatusOK, start)
}
