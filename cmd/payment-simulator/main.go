package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/pkg/logging"
)

// Development stand-in for the hosted-checkout provider: creates
// sessions, and on "complete" signs and delivers the fulfillment webhook
// to the order service. Redelivery of the same event id is supported to
// exercise the at-least-once contract.

type cfg struct {
	Port          string
	WebhookSecret string
	WebhookURL    string
	HostedBaseURL string
}

type session struct {
	ID      string
	EventID string // stable across redeliveries
	Req     payment.SessionRequest
	Done    bool
}

type simulator struct {
	mu       sync.Mutex
	sessions map[string]*session
	cfg      cfg
	client   *http.Client
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	sim := &simulator{
		sessions: map[string]*session{},
		cfg:      cfg,
		client:   &http.Client{Timeout: 5 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /v1/checkout/sessions", sim.handleCreateSession)
	mux.HandleFunc("POST /v1/checkout/sessions/{id}/complete", sim.handleCompleteSession)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("payment-simulator listening on :%s (webhook target %s)", cfg.Port, cfg.WebhookURL)
	log.Fatal(srv.ListenAndServe())
}

func readCfg() (cfg, error) {
	secret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	if secret == "" {
		return cfg{}, errors.New("WEBHOOK_SECRET is required")
	}
	return cfg{
		Port:          getenv("PORT", "8090"),
		WebhookSecret: secret,
		WebhookURL:    getenv("WEBHOOK_URL", "http://localhost:8080/webhooks/payment"),
		HostedBaseURL: getenv("HOSTED_BASE_URL", "http://localhost:8090/pay"),
	}, nil
}

func (s *simulator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req payment.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.AmountTotal < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "amount_total must be >= 0"})
		return
	}

	sess := &session{
		ID:      "cs_" + uuid.NewString(),
		EventID: "evt_" + uuid.NewString(),
		Req:     req,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	logging.Log(logging.Fields{Service: "payment-simulator", SessionID: sess.ID, Step: "create_session", Status: "created"})
	writeJSON(w, http.StatusOK, payment.Session{
		ID:  sess.ID,
		URL: fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.HostedBaseURL, "/"), sess.ID),
	})
}

// handleCompleteSession simulates the customer finishing payment. The
// first call marks the session done; ?redeliver=true re-sends the same
// event id so duplicate handling can be observed end to end.
func (s *simulator) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && sess.Done && r.URL.Query().Get("redeliver") != "true" {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"error": "session already completed"})
		return
	}
	if ok {
		sess.Done = true
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}

	evt := payment.Event{
		ID:      sess.EventID,
		Type:    payment.EventCheckoutCompleted,
		Created: time.Now().Unix(),
		Data: payment.EventData{
			SessionID:   sess.ID,
			AmountTotal: sess.Req.AmountTotal,
			Metadata:    sess.Req.Metadata,
		},
	}
	status, err := s.deliver(r.Context(), evt)
	if err != nil {
		logging.Log(logging.Fields{Service: "payment-simulator", SessionID: sess.ID, EventID: sess.EventID, Step: "webhook_delivery", Status: "error", Message: err.Error()})
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	logging.Log(logging.Fields{Service: "payment-simulator", SessionID: sess.ID, EventID: sess.EventID, Step: "webhook_delivery", Status: fmt.Sprintf("delivered_%d", status)})
	writeJSON(w, http.StatusOK, map[string]any{"event_id": sess.EventID, "webhook_status": status})
}

func (s *simulator) deliver(ctx context.Context, evt payment.Event) (int, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payment.SignatureHeader, payment.Sign([]byte(s.cfg.WebhookSecret), time.Now(), body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
