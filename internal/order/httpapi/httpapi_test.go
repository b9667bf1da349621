package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/internal/order/store"
)

var (
	testSecret = []byte("whsec_test")
	testNow    = time.Unix(1700000000, 0)
)

// fakeStore mimics the transactional store semantics in memory: event-id
// dedup, session uniqueness, clamped decrements and restock.
type fakeStore struct {
	products  map[string]domain.Product
	discounts map[string]domain.Discount
	orders    map[string]domain.Order
	bySession map[string]string
	processed map[string]bool
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  map[string]domain.Product{},
		discounts: map[string]domain.Discount{},
		orders:    map[string]domain.Order{},
		bySession: map[string]string{},
		processed: map[string]bool{},
	}
}

func (f *fakeStore) Get(ctx context.Context, id string) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) AdjustStock(ctx context.Context, id string, delta int64) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	p.Stock += delta
	if p.Stock < 0 {
		p.Stock = 0
	}
	f.products[id] = p
	return p, nil
}

func (f *fakeStore) Resolve(ctx context.Context, idOrCode string) (domain.Discount, error) {
	for _, d := range f.discounts {
		if string(d.ID) == idOrCode || d.Code == idOrCode {
			return d, nil
		}
	}
	return domain.Discount{}, store.ErrNotFound
}

func (f *fakeStore) CreateFromEvent(ctx context.Context, eventID string, in domain.NewOrder) (domain.Order, bool, error) {
	if f.processed[eventID] {
		return domain.Order{}, false, nil
	}
	if _, dup := f.bySession[in.SessionID]; dup {
		return domain.Order{}, false, nil
	}
	f.processed[eventID] = true
	f.seq++
	o := domain.Order{
		ID:        domain.OrderID(fmt.Sprintf("ord-%d", f.seq)),
		Number:    fmt.Sprintf("FS-%d", 100000+f.seq),
		SessionID: in.SessionID,
		Status:    domain.OrderStatusPending,
		Customer:  in.Customer,
		Items:     in.Items,
		Subtotal:  in.Subtotal, Discount: in.Discount, DiscountCode: in.DiscountCode, Total: in.Total,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	for _, it := range in.Items {
		_, _ = f.AdjustStock(ctx, string(it.ProductID), -int64(it.Quantity))
	}
	f.orders[string(o.ID)] = o
	f.bySession[in.SessionID] = string(o.ID)
	return o, true, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) GetBySession(ctx context.Context, sessionID string) (domain.Order, error) {
	id, ok := f.bySession[sessionID]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return f.orders[id], nil
}

func (f *fakeStore) Cancel(ctx context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order is %s", store.ErrConflict, o.Status)
	}
	for _, it := range o.Items {
		_, _ = f.AdjustStock(ctx, string(it.ProductID), int64(it.Quantity))
	}
	o.Status = domain.OrderStatusCancelled
	f.orders[id] = o
	return o, nil
}

// ordersView adapts fakeStore to the OrderStore interface (Get collides
// with ProductStore.Get on the shared struct).
type ordersView struct{ *fakeStore }

func (v ordersView) Get(ctx context.Context, id string) (domain.Order, error) {
	return v.GetOrder(ctx, id)
}

type fakeProvider struct {
	lastReq payment.SessionRequest
	fail    bool
	session payment.Session
}

func (p *fakeProvider) CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	if p.fail {
		return payment.Session{}, payment.ErrProviderUnavailable
	}
	p.lastReq = req
	if p.session.ID == "" {
		p.session = payment.Session{ID: "cs_test", URL: "https://pay.example.com/cs_test"}
	}
	return p.session, nil
}

func newTestAPI(t *testing.T) (*API, *fakeStore, *fakeProvider, *http.ServeMux) {
	t.Helper()
	fs := newFakeStore()
	fs.products["p1"] = domain.Product{ID: "p1", Name: "Raw Honey", UnitPrice: 5, Stock: 10}
	fs.products["p2"] = domain.Product{ID: "p2", Name: "Goat Cheese", UnitPrice: 700, Stock: 3}
	fs.discounts["d1"] = domain.Discount{ID: "d1", Code: "HARVEST10", Kind: domain.DiscountPercentage, Value: 10, Active: true}
	fs.discounts["d2"] = domain.Discount{ID: "d2", Code: "BIGSPEND", Kind: domain.DiscountFixed, Value: 100, MinPurchase: 5000, Active: true}

	fp := &fakeProvider{}
	api := New(fs, fs, ordersView{fs}, fp, Config{
		WebhookSecret: testSecret,
		AdminToken:    "admin-token",
		SuccessURL:    "https://shop.example.com/success",
		CancelURL:     "https://shop.example.com/cart",
	}, nil)
	api.now = func() time.Time { return testNow }

	mux := http.NewServeMux()
	api.Register(mux)
	return api, fs, fp, mux
}

func doJSON(mux *http.ServeMux, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func validCustomer() map[string]any {
	return map[string]any{
		"name": "Ada", "email": "ada@example.com", "phone": "555-0100",
		"address": "1 Farm Lane", "city": "Springfield", "postal_code": "12345",
	}
}

func TestCreateSessionRepricesServerSide(t *testing.T) {
	_, _, fp, mux := newTestAPI(t)

	rec := doJSON(mux, http.MethodPost, "/checkout/session", map[string]any{
		// client-supplied prices are not part of the contract; quantity only
		"cart_items":    []map[string]any{{"product_id": "p1", "quantity": 2}},
		"customer_info": validCustomer(),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cs_test", resp.ID)
	assert.NotEmpty(t, resp.URL)

	assert.Equal(t, int64(10), fp.lastReq.AmountTotal, "2 x 5 at the server's price")

	in, err := payment.DecodeMetadata("cs_test", fp.lastReq.Metadata)
	require.NoError(t, err)
	require.Len(t, in.Items, 1)
	assert.Equal(t, int64(5), in.Items[0].UnitPrice)
	assert.Equal(t, int32(2), in.Items[0].Quantity)
	assert.Equal(t, "ada@example.com", in.Customer.Email)
}

func TestCreateSessionWithPercentageDiscount(t *testing.T) {
	_, _, fp, mux := newTestAPI(t)

	rec := doJSON(mux, http.MethodPost, "/checkout/session", map[string]any{
		"cart_items":    []map[string]any{{"product_id": "p1", "quantity": 2}},
		"customer_info": validCustomer(),
		"discount_id":   "HARVEST10",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(9), fp.lastReq.AmountTotal, "subtotal 10 less ten percent")
}

func TestCreateSessionValidation(t *testing.T) {
	_, _, _, mux := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"empty cart", map[string]any{"cart_items": []any{}, "customer_info": validCustomer()}, "cart is empty"},
		{"unknown product", map[string]any{"cart_items": []map[string]any{{"product_id": "nope", "quantity": 1}}, "customer_info": validCustomer()}, "unknown product"},
		{"zero quantity", map[string]any{"cart_items": []map[string]any{{"product_id": "p1", "quantity": 0}}, "customer_info": validCustomer()}, "quantity"},
		{"unknown discount", map[string]any{"cart_items": []map[string]any{{"product_id": "p1", "quantity": 1}}, "customer_info": validCustomer(), "discount_id": "nope"}, "unknown discount"},
		{"discount below minimum", map[string]any{"cart_items": []map[string]any{{"product_id": "p1", "quantity": 1}}, "customer_info": validCustomer(), "discount_id": "BIGSPEND"}, "minimum purchase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(mux, http.MethodPost, "/checkout/session", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}

	t.Run("missing customer field", func(t *testing.T) {
		customer := validCustomer()
		customer["email"] = ""
		rec := doJSON(mux, http.MethodPost, "/checkout/session", map[string]any{
			"cart_items":    []map[string]any{{"product_id": "p1", "quantity": 1}},
			"customer_info": customer,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "customer_info.email")
	})
}

func TestCreateSessionProviderUnavailable(t *testing.T) {
	_, _, fp, mux := newTestAPI(t)
	fp.fail = true

	rec := doJSON(mux, http.MethodPost, "/checkout/session", map[string]any{
		"cart_items":    []map[string]any{{"product_id": "p1", "quantity": 1}},
		"customer_info": validCustomer(),
	}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment provider unavailable")
}

func signedEvent(t *testing.T, eventID, sessionID string, in domain.NewOrder) (*bytes.Reader, string) {
	t.Helper()
	in.SessionID = sessionID
	meta, err := payment.EncodeMetadata(in)
	require.NoError(t, err)
	evt := payment.Event{
		ID: eventID, Type: payment.EventCheckoutCompleted, Created: testNow.Unix(),
		Data: payment.EventData{SessionID: sessionID, AmountTotal: in.Total, Metadata: meta},
	}
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	return bytes.NewReader(body), payment.Sign(testSecret, testNow, body)
}

func honeyOrder() domain.NewOrder {
	return domain.NewOrder{
		Customer: domain.CustomerInfo{
			Name: "Ada", Email: "ada@example.com", Phone: "555-0100",
			Address: "1 Farm Lane", City: "Springfield", PostalCode: "12345",
		},
		Items:    []domain.LineItem{{ProductID: "p1", Name: "Raw Honey", Quantity: 2, UnitPrice: 5}},
		Subtotal: 10, Discount: 0, Total: 10,
	}
}

func postWebhook(mux *http.ServeMux, body *bytes.Reader, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", body)
	req.Header.Set(payment.SignatureHeader, sig)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCreatesPendingOrderAndDecrementsStock(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	body, sig := signedEvent(t, "evt_1", "cs_a", honeyOrder())
	rec := postWebhook(mux, body, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, fs.orders, 1)
	o := fs.orders["ord-1"]
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, "FS-100001", o.Number)
	require.Len(t, o.Items, 1)
	assert.Equal(t, int32(2), o.Items[0].Quantity)
	assert.Equal(t, int64(8), fs.products["p1"].Stock, "stock 10 - 2")
}

func TestWebhookIdempotentOnDuplicateDelivery(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	for i := 0; i < 3; i++ {
		body, sig := signedEvent(t, "evt_1", "cs_a", honeyOrder())
		rec := postWebhook(mux, body, sig)
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d", i)
	}

	assert.Len(t, fs.orders, 1, "exactly one order")
	assert.Equal(t, int64(8), fs.products["p1"].Stock, "stock decremented exactly once")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	body, _ := signedEvent(t, "evt_1", "cs_a", honeyOrder())
	rec := postWebhook(mux, body, "t=1700000000,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fs.orders, "no order created")
	assert.Equal(t, int64(10), fs.products["p1"].Stock, "no stock change")
}

func TestWebhookAcksUnhandledEventTypes(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	body, err := json.Marshal(payment.Event{ID: "evt_x", Type: "checkout.session.expired", Created: testNow.Unix()})
	require.NoError(t, err)
	rec := postWebhook(mux, bytes.NewReader(body), payment.Sign(testSecret, testNow, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fs.orders)
}

func TestCancelRestocksAndGuardsStatus(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	body, sig := signedEvent(t, "evt_1", "cs_a", honeyOrder())
	require.Equal(t, http.StatusOK, postWebhook(mux, body, sig).Code)
	require.Equal(t, int64(8), fs.products["p1"].Stock)

	actor := map[string]string{"X-Actor-Email": "ada@example.com"}
	rec := doJSON(mux, http.MethodPost, "/orders/ord-1/cancel", nil, actor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, int64(10), fs.products["p1"].Stock, "restocked to pre-fulfillment level")

	// Terminal state: second cancel conflicts and stock stays put.
	rec = doJSON(mux, http.MethodPost, "/orders/ord-1/cancel", nil, actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int64(10), fs.products["p1"].Stock)
}

func TestCancelAuthorization(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	body, sig := signedEvent(t, "evt_1", "cs_a", honeyOrder())
	require.Equal(t, http.StatusOK, postWebhook(mux, body, sig).Code)

	rec := doJSON(mux, http.MethodPost, "/orders/ord-1/cancel", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "no identity")

	rec = doJSON(mux, http.MethodPost, "/orders/ord-1/cancel", nil, map[string]string{"X-Actor-Email": "mallory@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "wrong customer")
	assert.Equal(t, int64(8), fs.products["p1"].Stock, "stock untouched on 403")

	rec = doJSON(mux, http.MethodPost, "/orders/ord-1/cancel", nil, map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusOK, rec.Code, "admin may cancel any order")
}

func TestCancelUnknownOrder(t *testing.T) {
	_, _, _, mux := newTestAPI(t)
	rec := doJSON(mux, http.MethodPost, "/orders/nope/cancel", nil, map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrderBySession(t *testing.T) {
	_, _, _, mux := newTestAPI(t)

	rec := doJSON(mux, http.MethodGet, "/orders/session/cs_a", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "webhook not processed yet")

	body, sig := signedEvent(t, "evt_1", "cs_a", honeyOrder())
	require.Equal(t, http.StatusOK, postWebhook(mux, body, sig).Code)

	rec = doJSON(mux, http.MethodGet, "/orders/session/cs_a", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "cs_a", o.SessionID)
}

func TestAdjustStockRequiresAdmin(t *testing.T) {
	_, fs, _, mux := newTestAPI(t)

	rec := doJSON(mux, http.MethodPost, "/products/p1/stock", map[string]any{"delta": 5}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(mux, http.MethodPost, "/products/p1/stock", map[string]any{"delta": 5},
		map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(15), fs.products["p1"].Stock)

	rec = doJSON(mux, http.MethodPost, "/products/p1/stock", map[string]any{"delta": -100},
		map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), fs.products["p1"].Stock, "clamped at zero")
}

// Guards against fakes drifting from the real interfaces.
var (
	_ ProductStore   = (*fakeStore)(nil)
	_ DiscountStore  = (*fakeStore)(nil)
	_ OrderStore     = ordersView{}
	_ SessionCreator = (*fakeProvider)(nil)
)
