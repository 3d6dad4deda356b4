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

// BirdeyeSource is the secondary oracle used when the primary source is down
// or does not track the mint.
type BirdeyeSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewBirdeyeSource builds the fallback price source client.
func NewBirdeyeSource(baseURL, apiKey string) *BirdeyeSource {
	return &BirdeyeSource{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *BirdeyeSource) Name() string { return "birdeye" }

func (s *BirdeyeSource) FetchPrice(ctx context.Context, mint string) (float64, error) {
	params := url.Values{}
	params.Set("address", mint)

	u := fmt.Sprintf("%s/defi/price?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	res, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("birdeye price status %d: %s", res.StatusCode, string(body))
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode birdeye price: %w", err)
	}

	if !resp.Success || resp.Data.Value <= 0 {
		return 0, ErrNoPrice
	}
	return resp.Data.Value, nil
}
