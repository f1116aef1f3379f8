package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/foliosync/portfolio-core/internal/costbasis"
	"github.com/foliosync/portfolio-core/internal/importer"
	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/reconcile"
)

// Tracker is the facade over the ledger, the import pipeline and the
// reconciler. It remembers the balance snapshots from the latest sync
// so reconciliation checks against the same pass the trades came from.
type Tracker struct {
	ledger     *ledger.Ledger
	pipeline   *importer.Pipeline
	engine     *costbasis.Engine
	reconciler *reconcile.Service
	syncLimit  int
	logger     logger.Logger

	mu          sync.RWMutex
	balances    map[string][]model.RawBalance
	unavailable map[string]string
}

func New(l *ledger.Ledger, pipeline *importer.Pipeline, engine *costbasis.Engine, reconciler *reconcile.Service, syncLimit int, logger logger.Logger) *Tracker {
	return &Tracker{
		ledger:      l,
		pipeline:    pipeline,
		engine:      engine,
		reconciler:  reconciler,
		syncLimit:   syncLimit,
		logger:      logger,
		balances:    make(map[string][]model.RawBalance),
		unavailable: make(map[string]string),
	}
}

// Sync runs one import pass over all configured venues and keeps the
// returned balance snapshots for reconciliation.
func (t *Tracker) Sync(ctx context.Context) (importer.Result, error) {
	result, err := t.pipeline.Sync(ctx, t.syncLimit)

	t.mu.Lock()
	for venueName, list := range result.Balances {
		t.balances[venueName] = list
	}
	t.unavailable = result.Unavailable
	t.mu.Unlock()

	if err != nil {
		return result, fmt.Errorf("%w: sync interrupted", err)
	}
	return result, nil
}

func (t *Tracker) Holdings(ctx context.Context, f ledger.Filter) ([]model.Holding, error) {
	return t.reconciler.Holdings(ctx, f)
}

// Reconciliation reconciles against the balances captured by the last
// Sync. Assets from venues whose fetch failed stay in the output with
// a venue-unavailable issue instead of being dropped.
func (t *Tracker) Reconciliation(ctx context.Context, f ledger.Filter) ([]model.ReconciliationResult, error) {
	t.mu.RLock()
	balances := make(map[string][]model.RawBalance, len(t.balances))
	for venueName, list := range t.balances {
		balances[venueName] = list
	}
	unavailable := make(map[string]string, len(t.unavailable))
	for venueName, reason := range t.unavailable {
		unavailable[venueName] = reason
	}
	t.mu.RUnlock()

	results, err := t.reconciler.Reconcile(ctx, f, balances)
	if err != nil {
		return nil, err
	}

	for i := range results {
		reason, ok := unavailable[results[i].Venue]
		if !ok {
			continue
		}
		results[i].Issues = append(results[i].Issues, model.IssueVenueUnavailable(results[i].Venue, reason))
		if results[i].Confidence == model.ConfidenceHigh {
			results[i].Confidence = model.ConfidenceDegraded
		}
	}
	return results, nil
}

func (t *Tracker) Positions(ctx context.Context, f ledger.Filter) ([]costbasis.Position, error) {
	return t.engine.Positions(ctx, f)
}

func (t *Tracker) ListTrades(ctx context.Context, f ledger.Filter) ([]model.TradeRecord, error) {
	return t.ledger.Query(ctx, f)
}

// AddTrade appends a manually entered trade. Duplicates of existing
// records are rejected rather than silently skipped: a human typing
// the same trade twice should hear about it.
func (t *Tracker) AddTrade(ctx context.Context, r model.TradeRecord) error {
	r.Source = model.SourceManual

	inserted, err := t.ledger.Append(ctx, r)
	if err != nil {
		return fmt.Errorf("%w: can't add trade", err)
	}
	if !inserted {
		return fmt.Errorf("%w: identical trade already recorded", ledger.ErrDuplicate)
	}
	return nil
}

func (t *Tracker) EditTrade(ctx context.Context, id string, patch model.TradePatch, asCorrection bool) (model.TradeRecord, error) {
	return t.ledger.Edit(ctx, id, patch, asCorrection)
}

func (t *Tracker) DeleteTrade(ctx context.Context, id string, asCorrection bool) error {
	return t.ledger.Delete(ctx, id, asCorrection)
}
