package price

import (
	"context"
	"errors"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
)

var (
	ErrNoPriceAvailable = errors.New("no price available")
	ErrNoProvider       = errors.New("no provider configured for asset type")

	// ErrTransient marks failures worth retrying against the same
	// provider (timeouts, rate limits, 5xx) before falling through
	// the chain. Anything else fails the provider immediately.
	ErrTransient = errors.New("transient provider error")
)

// Provider returns a current quote for a symbol. Implementations are
// expected to rate-limit themselves and honor the request context.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string, assetType model.AssetType) (model.PriceQuote, error)
}

// HistoricalProvider is implemented by providers that can quote a
// past date. Providers without date support are skipped for
// historical lookups.
type HistoricalProvider interface {
	Provider
	QuoteAt(ctx context.Context, symbol string, assetType model.AssetType, date time.Time) (model.PriceQuote, error)
}
