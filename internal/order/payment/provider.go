package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrProviderUnavailable covers transport failures and non-2xx answers
// from the hosted-checkout provider. The caller surfaces it as 502 and
// does not retry; re-creating a session is harmless.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

type SessionRequest struct {
	AmountTotal int64    `json:"amount_total"`
	Currency    string   `json:"currency"`
	SuccessURL  string   `json:"success_url"`
	CancelURL   string   `json:"cancel_url"`
	Metadata    Metadata `json:"metadata"`
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client talks to the hosted-checkout provider. HTTP must carry a bounded
// timeout; session creation has no local side effects.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/checkout/sessions", bytes.NewReader(data))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return sess, nil
}
