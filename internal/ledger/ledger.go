package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/google/uuid"
)

// Ledger is the append-only, deduplicated trade store and the single
// source of truth for everything derived downstream. Mutations go
// through one writer lock; reads hit the store concurrently.
type Ledger struct {
	store  Store
	logger logger.Logger

	mu   sync.RWMutex
	keys map[string]string // identity key -> record id
}

// Open loads the identity-key index from the store so Append can
// dedup without a round-trip per record.
func Open(ctx context.Context, store Store, logger logger.Logger) (*Ledger, error) {
	keys, err := store.IdentityKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load ledger identity keys", err)
	}

	return &Ledger{
		store:  store,
		logger: logger,
		keys:   keys,
	}, nil
}

// Append inserts a record unless its identity key is already present.
// A duplicate is a no-op returning inserted=false, which is what
// makes venue re-imports idempotent.
func (l *Ledger) Append(ctx context.Context, r model.TradeRecord) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, fmt.Errorf("%w: invalid trade record", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := r.IdentityKey()
	if _, ok := l.keys[key]; ok {
		l.logger.Debugf("duplicate trade %s %s %s@%s, not inserted", r.Venue, r.Symbol, r.Quantity, r.Price)
		return false, nil
	}

	if err := l.store.Insert(ctx, r); err != nil {
		return false, err
	}
	l.keys[key] = r.ID
	return true, nil
}

// Query returns matching records in (executed_at, id) order.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]model.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.List(ctx, f)
}

func (l *Ledger) Get(ctx context.Context, id string) (model.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Get(ctx, id)
}

// Edit patches a record. Venue-imported records are protected: the
// caller must set asCorrection to override, and the change is
// stamped with CorrectedAt either way so the audit trail survives.
func (l *Ledger) Edit(ctx context.Context, id string, patch model.TradePatch, asCorrection bool) (model.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.store.Get(ctx, id)
	if err != nil {
		return model.TradeRecord{}, err
	}
	if r.Source != model.SourceManual && !asCorrection {
		return model.TradeRecord{}, fmt.Errorf("%w: %s record %s", ErrPermissionDenied, r.Source, id)
	}

	oldKey := r.IdentityKey()

	if patch.Quantity != nil {
		r.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		r.Price = *patch.Price
	}
	if patch.Commission != nil {
		r.Commission = *patch.Commission
	}
	if patch.AssetName != nil {
		r.AssetName = *patch.AssetName
	}
	if patch.ExecutedAt != nil {
		r.ExecutedAt = patch.ExecutedAt.UTC()
	}
	if err := r.Validate(); err != nil {
		return model.TradeRecord{}, fmt.Errorf("%w: invalid patch", err)
	}

	newKey := r.IdentityKey()
	if otherID, ok := l.keys[newKey]; ok && otherID != id {
		return model.TradeRecord{}, fmt.Errorf("%w: patch collides with record %s", ErrDuplicate, otherID)
	}

	now := time.Now().UTC()
	r.CorrectedAt = &now

	if err := l.store.Update(ctx, r); err != nil {
		return model.TradeRecord{}, err
	}
	delete(l.keys, oldKey)
	l.keys[newKey] = id
	return r, nil
}

// Delete soft-deletes a record under the same provenance rules as
// Edit. The row is retained with a deletion stamp, not destroyed.
func (l *Ledger) Delete(ctx context.Context, id string, asCorrection bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Source != model.SourceManual && !asCorrection {
		return fmt.Errorf("%w: %s record %s", ErrPermissionDenied, r.Source, id)
	}

	if err := l.store.Delete(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	delete(l.keys, r.IdentityKey())
	return nil
}

// Partitions lists the distinct (venue, symbol) pairs currently in
// the ledger, sorted. Downstream stages iterate these.
func (l *Ledger) Partitions(ctx context.Context, f Filter) ([]Partition, error) {
	records, err := l.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	seen := make(map[Partition]struct{})
	partitions := make([]Partition, 0)
	for _, r := range records {
		p := Partition{Venue: r.Venue, Symbol: r.Symbol}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool {
		if partitions[i].Venue != partitions[j].Venue {
			return partitions[i].Venue < partitions[j].Venue
		}
		return partitions[i].Symbol < partitions[j].Symbol
	})
	return partitions, nil
}

type Partition struct {
	Venue  string
	Symbol string
}
