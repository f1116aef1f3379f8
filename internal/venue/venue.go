package venue

import (
	"context"

	"github.com/foliosync/portfolio-core/internal/model"
)

// Connector is one external trading venue. Implementations may return
// partial results or error per call; the import pipeline tolerates
// both. Not every venue supports cursors, so FetchTrades is bounded
// by a count and re-imports rely on ledger-side deduplication.
type Connector interface {
	Name() string
	FetchTrades(ctx context.Context, limit int) ([]model.RawTrade, error)
	FetchBalances(ctx context.Context) ([]model.RawBalance, error)
}
