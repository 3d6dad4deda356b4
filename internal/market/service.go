// Package market looks token prices up across multiple sources with a TTL
// cache in front. Sources are tried in priority order; each attempt runs
// through a bounded exponential backoff.
package market

import (
	"context"
	"errors"
	"log"
	"time"

	"trading-service/internal/events"
	"trading-service/pkg/cache"
	"trading-service/pkg/pricing"
)

// ErrSourceUnavailable is returned when every configured source failed.
var ErrSourceUnavailable = errors.New("all price sources unavailable")

// Result is the structured answer to a market data request; lookups degrade
// to a failed result instead of raising.
type Result struct {
	Success   bool      `json:"success"`
	Price     float64   `json:"price,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Service answers price lookups with cache plus source fallback.
type Service struct {
	sources    []pricing.Source // ascending priority order
	cache      *cache.ShardedPriceCache
	bus        *events.Bus
	maxRetries int
	retryDelay time.Duration
}

// NewService builds the market data service. Sources are consulted in the
// order given.
func NewService(sources []pricing.Source, priceCache *cache.ShardedPriceCache, bus *events.Bus, maxRetries int, retryDelay time.Duration) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 250 * time.Millisecond
	}
	return &Service{
		sources:    sources,
		cache:      priceCache,
		bus:        bus,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// GetMarketData returns the current price for a mint. A cache hit inside the
// TTL short-circuits before any source is called.
func (s *Service) GetMarketData(ctx context.Context, mint string) Result {
	if mint == "" {
		return Result{Success: false, Error: "token mint is required", Timestamp: time.Now()}
	}

	if entry, ok := s.cache.Get(mint); ok {
		return Result{Success: true, Price: entry.Price, Source: entry.Source, Timestamp: entry.FetchedAt}
	}

	for _, src := range s.sources {
		price, err := s.fetchWithRetry(ctx, src, mint)
		if err != nil {
			log.Printf("market: source %s failed for %s: %v", src.Name(), mint, err)
			continue
		}

		s.cache.Set(mint, price, src.Name())
		if s.bus != nil {
			s.bus.Publish(events.TopicQuoteUpdate, "", map[string]any{
				"mint":   mint,
				"price":  price,
				"source": src.Name(),
			})
		}
		return Result{Success: true, Price: price, Source: src.Name(), Timestamp: time.Now()}
	}

	return Result{Success: false, Error: ErrSourceUnavailable.Error(), Timestamp: time.Now()}
}

// fetchWithRetry calls one source with bounded exponential backoff: the delay
// doubles after every failed attempt.
func (s *Service) fetchWithRetry(ctx context.Context, src pricing.Source, mint string) (float64, error) {
	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		price, err := src.FetchPrice(ctx, mint)
		if err == nil && price > 0 {
			return price, nil
		}
		if err == nil {
			err = pricing.ErrNoPrice
		}
		lastErr = err
	}
	return 0, lastErr
}

// CacheStats exposes price cache statistics for the status endpoint.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Snapshot()
}
