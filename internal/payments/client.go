// Package payments – provider HTTP client.
//
// This file implements the payment-intent client used when a priced request
// is approved and moves to pending_payment. Calls carry a bounded timeout and
// a small retry budget: intent creation is idempotent on the provider side
// (keyed by request ID), so retrying a timed-out call is safe.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable is returned when the provider cannot be reached or keeps
// failing after the retry budget is exhausted.
var ErrUnavailable = errors.New("payment provider unavailable")

// Intent is the provider-side payment intent for one request.
type Intent struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
}

// Client creates payment intents with the external provider.
type Client interface {
	// CreateIntent registers amount (integer currency units) to be collected
	// for requestID and returns the provider intent.
	CreateIntent(ctx context.Context, requestID string, amount int64) (*Intent, error)
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	baseURL     string
	secretKey   string
	hc          *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewHTTPClient builds a provider client. timeout bounds every individual
// call; on timeout the operation fails cleanly and may be retried.
func NewHTTPClient(baseURL, secretKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:     baseURL,
		secretKey:   secretKey,
		hc:          &http.Client{Timeout: timeout},
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}
}

// CreateIntent implements Client. Transient failures (network errors, 5xx)
// are retried with backoff up to the attempt budget; 4xx responses are
// terminal.
func (c *HTTPClient) CreateIntent(ctx context.Context, requestID string, amount int64) (*Intent, error) {
	body, err := json.Marshal(map[string]any{
		"request_id": requestID,
		"amount":     amount,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		intent, retryable, err := c.createIntentOnce(ctx, body)
		if err == nil {
			return intent, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *HTTPClient) createIntentOnce(ctx context.Context, body []byte) (*Intent, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("provider rejected intent: %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, false, err
	}
	return &intent, false, nil
}
