package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/pkg/metrics"
)

type ProductStore interface {
	Get(ctx context.Context, id string) (domain.Product, error)
	AdjustStock(ctx context.Context, id string, delta int64) (domain.Product, error)
}

type DiscountStore interface {
	Resolve(ctx context.Context, idOrCode string) (domain.Discount, error)
}

type OrderStore interface {
	CreateFromEvent(ctx context.Context, eventID string, in domain.NewOrder) (domain.Order, bool, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	GetBySession(ctx context.Context, sessionID string) (domain.Order, error)
	Cancel(ctx context.Context, id string) (domain.Order, error)
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

type Config struct {
	WebhookSecret []byte
	AdminToken    string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

type API struct {
	Products  ProductStore
	Discounts DiscountStore
	Orders    OrderStore
	Provider  SessionCreator
	Cfg       Config
	Metrics   *metrics.ServerMetrics

	// overridable in tests
	now func() time.Time
}

func New(products ProductStore, discounts DiscountStore, orders OrderStore, provider SessionCreator, cfg Config, m *metrics.ServerMetrics) *API {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &API{
		Products:  products,
		Discounts: discounts,
		Orders:    orders,
		Provider:  provider,
		Cfg:       cfg,
		Metrics:   m,
		now:       time.Now,
	}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout/session", a.handleCreateCheckoutSession)
	mux.HandleFunc("POST /webhooks/payment", a.handleWebhook)
	mux.HandleFunc("POST /orders/{id}/cancel", a.handleCancelOrder)
	mux.HandleFunc("GET /orders/{id}", a.handleGetOrder)
	mux.HandleFunc("GET /orders/session/{sessionID}", a.handleGetOrderBySession)
	mux.HandleFunc("GET /products/{id}", a.handleGetProduct)
	mux.HandleFunc("POST /products/{id}/stock", a.handleAdjustStock)
}

func (a *API) observe(handler string, code int, start time.Time) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.Requests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	a.Metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
