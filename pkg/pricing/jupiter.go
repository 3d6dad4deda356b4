package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// JupiterSource fetches spot prices from the Jupiter price API.
type JupiterSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewJupiterSource builds the primary price source client.
func NewJupiterSource(baseURL string) *JupiterSource {
	return &JupiterSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *JupiterSource) Name() string { return "jupiter" }

// FetchPrice looks a mint up on the price endpoint. A response that does not
// carry the mint yields ErrNoPrice rather than a transport error.
func (s *JupiterSource) FetchPrice(ctx context.Context, mint string) (float64, error) {
	params := url.Values{}
	params.Set("ids", mint)

	u := fmt.Sprintf("%s/price?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	res, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("jupiter price status %d: %s", res.StatusCode, string(body))
	}

	var resp struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode jupiter price: %w", err)
	}

	entry, ok := resp.Data[mint]
	if !ok || entry.Price <= 0 {
		return 0, ErrNoPrice
	}
	return entry.Price, nil
}
