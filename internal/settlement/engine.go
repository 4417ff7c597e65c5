package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const idempotencyKeyHeader = "Idempotency-Key"

// EngineClient talks to an external settlement engine. Every method is
// idempotent at the protocol level: account setup by account id, settlement
// initiation by idempotency key.
type EngineClient interface {
	SetupAccount(ctx context.Context, engineURL, accountID string) error
	InitiateSettlement(ctx context.Context, engineURL, accountID, idempotencyKey string, amount Quantity) (Quantity, error)
	SendMessage(ctx context.Context, engineURL, accountID string, message []byte) ([]byte, error)
}

type quantityPayload struct {
	Scale  uint8  `json:"scale"`
	Amount string `json:"amount"`
}

// HTTPEngineClient implements the settlement engine HTTP API.
type HTTPEngineClient struct {
	client *http.Client
}

// NewHTTPEngineClient builds a client with the given request timeout.
func NewHTTPEngineClient(timeout time.Duration) *HTTPEngineClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngineClient{client: &http.Client{Timeout: timeout}}
}

// SetupAccount provisions the settlement-side account. Safe to repeat.
func (c *HTTPEngineClient) SetupAccount(ctx context.Context, engineURL, accountID string) error {
	url := fmt.Sprintf("%s/accounts/%s", engineURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("setup settlement account: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("setup settlement account: engine returned %d", resp.StatusCode)
	}
	return nil
}

// InitiateSettlement submits an idempotent settlement request. The engine
// commits to settling at most the requested amount; its committed amount
// comes back in the response.
func (c *HTTPEngineClient) InitiateSettlement(ctx context.Context, engineURL, accountID, idempotencyKey string, amount Quantity) (Quantity, error) {
	body, err := json.Marshal(quantityPayload{Scale: amount.Scale, Amount: amount.Amount.String()})
	if err != nil {
		return Quantity{}, err
	}

	url := fmt.Sprintf("%s/accounts/%s/settlements", engineURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Quantity{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyKeyHeader, idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Quantity{}, fmt.Errorf("initiate settlement: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Quantity{}, fmt.Errorf("initiate settlement: engine returned %d", resp.StatusCode)
	}

	var payload quantityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quantity{}, fmt.Errorf("decode settlement response: %w", err)
	}
	committed, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid committed amount %q: %w", payload.Amount, err)
	}
	return Quantity{Amount: committed, Scale: payload.Scale}, nil
}

// SendMessage relays an opaque byte string to the counterparty's settlement
// engine and returns its opaque reply.
func (c *HTTPEngineClient) SendMessage(ctx context.Context, engineURL, accountID string, message []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/accounts/%s/messages", engineURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(message))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send settlement message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("send settlement message: engine returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
