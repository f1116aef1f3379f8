package importer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/venue"
)

const _workersDefault = 4

// RecordError is one non-fatal per-item failure inside a sync batch.
type RecordError struct {
	Venue  string `json:"venue"`
	Reason string `json:"reason"`
}

// Result aggregates one sync pass. Balance snapshots ride along so
// the reconciler works off the same pass the trades came from.
// Unavailable lists venues whose fetches failed, with the reason, so
// downstream consumers can mark their data as suspect.
type Result struct {
	Imported        int                           `json:"imported"`
	Skipped         int                           `json:"skipped"`
	ImportedByVenue map[string]int                `json:"imported_by_venue"`
	Balances        map[string][]model.RawBalance `json:"-"`
	Unavailable     map[string]string             `json:"unavailable,omitempty"`
	Errors          []RecordError                 `json:"errors,omitempty"`
}

// Pipeline pulls raw data from venue connectors, normalizes it and
// appends to the ledger. Running it twice over identical source data
// imports nothing the second time.
type Pipeline struct {
	ledger     *ledger.Ledger
	connectors []venue.Connector
	workers    int
	logger     logger.Logger
}

func NewPipeline(l *ledger.Ledger, connectors []venue.Connector, workers int, logger logger.Logger) *Pipeline {
	if workers <= 0 {
		workers = _workersDefault
	}
	return &Pipeline{
		ledger:     l,
		connectors: connectors,
		workers:    workers,
		logger:     logger,
	}
}

type venueResult struct {
	venue       string
	imported    int
	skipped     int
	balances    []model.RawBalance
	unavailable string
	errors      []RecordError
}

// Sync runs one import pass over all venues, bounded by limit trades
// per venue. Venue fetches overlap up to the worker bound. On
// cancellation, venues that already finished are still merged into
// the result, and ctx.Err() is returned alongside it.
func (p *Pipeline) Sync(ctx context.Context, limit int) (Result, error) {
	sem := make(chan struct{}, p.workers)
	results := make(chan venueResult, len(p.connectors))

	var wg sync.WaitGroup
	for _, c := range p.connectors {
		select {
		case <-ctx.Done():
			results <- venueResult{
				venue:       c.Name(),
				unavailable: fmt.Sprintf("not started: %s", ctx.Err()),
				errors:      []RecordError{{Venue: c.Name(), Reason: fmt.Sprintf("not started: %s", ctx.Err())}},
			}
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(c venue.Connector) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- p.syncVenue(ctx, c, limit)
		}(c)
	}

	wg.Wait()
	close(results)

	merged := Result{
		ImportedByVenue: make(map[string]int),
		Balances:        make(map[string][]model.RawBalance),
		Unavailable:     make(map[string]string),
	}
	collected := make([]venueResult, 0, len(p.connectors))
	for r := range results {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].venue < collected[j].venue })

	for _, r := range collected {
		merged.Imported += r.imported
		merged.Skipped += r.skipped
		merged.ImportedByVenue[r.venue] = r.imported
		if r.balances != nil {
			merged.Balances[r.venue] = r.balances
		}
		if r.unavailable != "" {
			merged.Unavailable[r.venue] = r.unavailable
		}
		merged.Errors = append(merged.Errors, r.errors...)
	}

	return merged, ctx.Err()
}

func (p *Pipeline) syncVenue(ctx context.Context, c venue.Connector, limit int) venueResult {
	result := venueResult{venue: c.Name()}

	rawTrades, err := c.FetchTrades(ctx, limit)
	if err != nil {
		// The venue may still report balances; keep going.
		result.unavailable = fmt.Sprintf("fetch trades: %s", err)
		result.errors = append(result.errors, RecordError{
			Venue:  c.Name(),
			Reason: fmt.Sprintf("fetch trades: %s", err),
		})
	}

	for _, raw := range rawTrades {
		record, err := Normalize(c.Name(), raw)
		if err != nil {
			result.errors = append(result.errors, RecordError{
				Venue:  c.Name(),
				Reason: fmt.Sprintf("malformed record %s: %s", raw.Symbol, err),
			})
			continue
		}

		inserted, err := p.ledger.Append(ctx, record)
		if err != nil {
			result.errors = append(result.errors, RecordError{
				Venue:  c.Name(),
				Reason: fmt.Sprintf("append %s: %s", record.Symbol, err),
			})
			continue
		}
		if inserted {
			result.imported++
		} else {
			result.skipped++
		}
	}

	balances, err := c.FetchBalances(ctx)
	if err != nil {
		if result.unavailable == "" {
			result.unavailable = fmt.Sprintf("fetch balances: %s", err)
		}
		result.errors = append(result.errors, RecordError{
			Venue:  c.Name(),
			Reason: fmt.Sprintf("fetch balances: %s", err),
		})
	} else {
		result.balances = balances
	}

	p.logger.Infof("synced venue %s: %d imported, %d duplicates, %d errors",
		c.Name(), result.imported, result.skipped, len(result.errors))
	return result
}
