package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/pkg/logging"
)

const maxWebhookBody = 1 << 20

// handleWebhook processes the provider's asynchronous fulfillment
// notification. Signature verification gates everything: an unverifiable
// request is rejected before any parsing of its content is acted on.
// Delivery is at-least-once, so duplicates are detected by event id and
// acked without side effects.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		a.observe("webhook", http.StatusBadRequest, start)
		return
	}

	sig := r.Header.Get(payment.SignatureHeader)
	if err := payment.Verify(a.Cfg.WebhookSecret, sig, raw, a.now(), payment.DefaultTolerance); err != nil {
		logging.Log(logging.Fields{Service: "order-service", Step: "webhook", Status: "bad_signature", Message: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid signature")
		a.observe("webhook", http.StatusBadRequest, start)
		return
	}

	var evt payment.Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid event")
		a.observe("webhook", http.StatusBadRequest, start)
		return
	}

	if evt.Type != payment.EventCheckoutCompleted {
		// Unhandled event types are acked so the provider stops retrying.
		logging.Log(logging.Fields{Service: "order-service", EventID: evt.ID, Step: "webhook", Status: "skipped", Message: evt.Type})
		w.WriteHeader(http.StatusOK)
		a.observe("webhook", http.StatusOK, start)
		return
	}

	in, err := payment.DecodeMetadata(evt.Data.SessionID, evt.Data.Metadata)
	if err != nil {
		// Metadata was written by this system at session creation; failing
		// to decode it means the event is not ours.
		logging.Log(logging.Fields{Service: "order-service", EventID: evt.ID, Step: "webhook", Status: "bad_metadata", Message: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid event metadata")
		a.observe("webhook", http.StatusBadRequest, start)
		return
	}

	order, created, err := a.Orders.CreateFromEvent(r.Context(), evt.ID, in)
	if err != nil {
		// Non-2xx makes the provider redeliver; the inbox claim keeps the
		// retry from double-processing.
		logging.Log(logging.Fields{Service: "order-service", EventID: evt.ID, SessionID: evt.Data.SessionID, Step: "webhook", Status: "error", Message: err.Error()})
		writeError(w, http.StatusInternalServerError, "internal error")
		a.observe("webhook", http.StatusInternalServerError, start)
		return
	}
	if !created {
		logging.Log(logging.Fields{Service: "order-service", EventID: evt.ID, SessionID: evt.Data.SessionID, Step: "webhook", Status: "duplicate"})
		w.WriteHeader(http.StatusOK)
		a.observe("webhook", http.StatusOK, start)
		return
	}

	logging.Log(logging.Fields{
		Service: "order-service", OrderID: string(order.ID), EventID: evt.ID, SessionID: evt.Data.SessionID,
		Step: "webhook", Status: "order_created", DurationMS: time.Since(start).Milliseconds(),
	})
	w.WriteHeader(http.StatusOK)
	a.observe("webhook", http.StatusOK, start)
}
