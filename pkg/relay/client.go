// Package relay wraps the private bundle relay. Signed transactions are
// submitted as bundles instead of broadcast publicly, which removes them from
// the open mempool and cuts down adversarial reordering.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bundle status values reported by the relay.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Client wraps REST access to the relay.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a relay client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// BundleStatus is a single poll result.
type BundleStatus struct {
	Status    string `json:"status"`
	Signature string `json:"signature,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Submit sends signed transactions as a private bundle and returns its id.
func (c *Client) Submit(ctx context.Context, signedTxsB64 []string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"transactions": signedTxsB64,
	})
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/bundle", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relay submit status %d: %s", res.StatusCode, string(body))
	}

	var resp struct {
		BundleID string `json:"bundleId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.BundleID == "" {
		return "", fmt.Errorf("relay returned empty bundle id")
	}
	return resp.BundleID, nil
}

// Status polls the relay for the current bundle state.
func (c *Client) Status(ctx context.Context, bundleID string) (*BundleStatus, error) {
	u := fmt.Sprintf("%s/bundle/%s", c.BaseURL, bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay status %d: %s", res.StatusCode, string(body))
	}

	var status BundleStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode bundle status: %w", err)
	}
	return &status, nil
}
