// Package aggregator wraps the route-quoting aggregator HTTP API. The
// aggregator is a black box: it prices a path between two mints and builds
// the unsigned swap transaction for a chosen route.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNoRoute is returned when the aggregator has no path between the mints.
var ErrNoRoute = errors.New("no route found")

// Client wraps REST access to the aggregator.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds an aggregator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// QuoteRequest describes the swap to price. Amount is in the input mint's
// smallest unit; SlippageBps must already be clamped by the caller.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Route is a priced path returned by the aggregator. It is ephemeral: the
// out amount is only good until the next block, so routes are fetched per
// execution attempt and never persisted.
type Route struct {
	InputMint      string  `json:"inputMint"`
	OutputMint     string  `json:"outputMint"`
	InAmount       uint64  `json:"inAmount,string"`
	OutAmount      uint64  `json:"outAmount,string"`
	PriceImpactPct float64 `json:"priceImpactPct,string"`
	SlippageBps    int     `json:"slippageBps"`

	raw json.RawMessage // full quote payload, echoed back on swap build
}

// Quote asks the aggregator for the best route.
func (c *Client) Quote(ctx context.Context, q QuoteRequest) (*Route, error) {
	params := url.Values{}
	params.Set("inputMint", q.InputMint)
	params.Set("outputMint", q.OutputMint)
	params.Set("amount", strconv.FormatUint(q.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(q.SlippageBps))

	u := fmt.Sprintf("%s/quote?%s", c.BaseURL, params.Encode())
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
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNoRoute
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator quote status %d: %s", res.StatusCode, string(body))
	}

	var route Route
	if err := json.Unmarshal(body, &route); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if route.OutAmount == 0 {
		return nil, ErrNoRoute
	}
	route.raw = body
	return &route, nil
}

// BuildSwap asks the aggregator to assemble the unsigned swap transaction for
// a previously fetched route. Returns the transaction base64-encoded.
func (c *Client) BuildSwap(ctx context.Context, route *Route, userPublicKey string) (string, error) {
	if route == nil || len(route.raw) == 0 {
		return "", errors.New("route has no quote payload")
	}

	payload, err := json.Marshal(map[string]any{
		"quoteResponse": json.RawMessage(route.raw),
		"userPublicKey": userPublicKey,
	})
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/swap", c.BaseURL)
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
		return "", fmt.Errorf("aggregator swap status %d: %s", res.StatusCode, string(body))
	}

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode swap: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", errors.New("aggregator returned empty transaction")
	}
	return resp.SwapTransaction, nil
}
