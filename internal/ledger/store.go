package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
)

var (
	ErrNotFound         = errors.New("ledger record not found")
	ErrDuplicate        = errors.New("duplicate trade record")
	ErrPermissionDenied = errors.New("record is venue-imported, mutation denied")
)

// Filter narrows ledger queries. Zero values match everything.
type Filter struct {
	Venue  string
	Symbol string
	From   time.Time
	To     time.Time
}

func (f Filter) Matches(r model.TradeRecord) bool {
	if f.Venue != "" && r.Venue != f.Venue {
		return false
	}
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if !f.From.IsZero() && r.ExecutedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.ExecutedAt.After(f.To) {
		return false
	}
	return true
}

// Store is the persistence behind the ledger. List returns records in
// (executed_at, id) order with soft-deleted rows excluded.
type Store interface {
	Insert(ctx context.Context, r model.TradeRecord) error
	List(ctx context.Context, f Filter) ([]model.TradeRecord, error)
	Get(ctx context.Context, id string) (model.TradeRecord, error)
	Update(ctx context.Context, r model.TradeRecord) error
	Delete(ctx context.Context, id string, at time.Time) error
	IdentityKeys(ctx context.Context) (map[string]string, error)
}
