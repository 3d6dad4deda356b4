// Package pricing contains the spot-price source clients consumed by the
// market data service. Each source answers a single question: what is this
// mint worth right now.
package pricing

import (
	"context"
	"errors"
)

// ErrNoPrice is returned when a source answered but had no price for the mint.
var ErrNoPrice = errors.New("no price for token")

// Source is a single external price provider.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, mint string) (float64, error)
}
