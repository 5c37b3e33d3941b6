// Package payout sends native-token transfers through an HTTP payout
// gateway that signs and broadcasts them.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tablecash/cashier/internal/model"
)

var (
	// ErrNotConfigured is returned by Unconfigured for every transfer.
	ErrNotConfigured = errors.New("payout transport not configured")

	// ErrRejected is returned when the gateway answers with a non-2xx status.
	ErrRejected = errors.New("payout: gateway rejected transfer")

	// ErrNoTxHash is returned when the gateway accepts but omits the hash.
	ErrNoTxHash = errors.New("payout: gateway returned no transaction hash")
)

// Client posts transfers to the gateway.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// NewClient creates a gateway client. token is sent as a bearer token when
// non-empty.
func NewClient(url, token string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type transferResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// SendTip posts one transfer and returns the transaction hash.
func (c *Client) SendTip(ctx context.Context, transfer model.Transfer) (string, error) {
	body, err := json.Marshal(transfer)
	if err != nil {
		return "", fmt.Errorf("payout: encode transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payout: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(transfer, body))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("payout: send transfer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("payout: read response: %w", err)
	}

	var result transferResponse
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if result.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, result.Error)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
	if result.TxHash == "" {
		return "", ErrNoTxHash
	}
	return result.TxHash, nil
}

// transferNamespace scopes keys derived from transfer contents.
var transferNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:cashier:transfer"))

// idempotencyKey returns the transfer's own key, or one derived from its
// encoded body so identical transfers share a key.
func idempotencyKey(transfer model.Transfer, body []byte) string {
	if transfer.IdempotencyKey != "" {
		return transfer.IdempotencyKey
	}
	return uuid.NewSHA1(transferNamespace, body).String()
}

// Unconfigured fails every transfer. Used when no gateway URL is set so
// cashouts are still recorded with a payout error.
type Unconfigured struct{}

func (Unconfigured) SendTip(context.Context, model.Transfer) (string, error) {
	return "", ErrNotConfigured
}
