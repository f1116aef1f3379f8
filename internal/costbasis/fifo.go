package costbasis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/tools"
	"github.com/shopspring/decimal"
)

// Lot is one open purchase: the quantity still unconsumed and its
// per-unit cost with the buy commission capitalized in.
type Lot struct {
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	OpenedAt time.Time
}

// Position is the replay result for one (venue, symbol) partition.
type Position struct {
	Venue       string
	Symbol      string
	AssetName   string
	AssetType   model.AssetType
	Currency    string
	Quantity    decimal.Decimal
	CostBasis   decimal.Decimal
	AvgCost     decimal.Decimal
	RealizedPnL decimal.Decimal
	OpenLots    []Lot
	Issues      []string
}

// Engine recomputes positions from the ledger on demand. It holds no
// state of its own, which keeps every computation reproducible from
// the ledger alone.
type Engine struct {
	ledger *ledger.Ledger
}

func NewEngine(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

func (e *Engine) Position(ctx context.Context, venue, symbol string) (Position, error) {
	records, err := e.ledger.Query(ctx, ledger.Filter{Venue: venue, Symbol: symbol})
	if err != nil {
		return Position{}, fmt.Errorf("%w: can't query ledger for %s/%s", err, venue, symbol)
	}
	return Compute(venue, symbol, records), nil
}

// Positions computes every partition matched by the filter, sorted by
// (venue, symbol).
func (e *Engine) Positions(ctx context.Context, f ledger.Filter) ([]Position, error) {
	records, err := e.ledger.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: can't query ledger", err)
	}

	byPartition := make(map[ledger.Partition][]model.TradeRecord)
	partitions := make([]ledger.Partition, 0)
	for _, r := range records {
		p := ledger.Partition{Venue: r.Venue, Symbol: r.Symbol}
		if _, ok := byPartition[p]; !ok {
			partitions = append(partitions, p)
		}
		byPartition[p] = append(byPartition[p], r)
	}
	sort.Slice(partitions, func(i, j int) bool {
		if partitions[i].Venue != partitions[j].Venue {
			return partitions[i].Venue < partitions[j].Venue
		}
		return partitions[i].Symbol < partitions[j].Symbol
	})

	positions := make([]Position, 0, len(partitions))
	for _, p := range partitions {
		positions = append(positions, Compute(p.Venue, p.Symbol, byPartition[p]))
	}
	return positions, nil
}

// Compute replays trades in timestamp order through a FIFO lot queue.
// Sells consume the oldest lots first; a sell that exceeds open
// quantity consumes what exists and books the excess against zero
// cost, with an oversell issue attached instead of a fabricated
// negative lot.
func Compute(venue, symbol string, records []model.TradeRecord) Position {
	ordered := make([]model.TradeRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	pos := Position{
		Venue:       venue,
		Symbol:      symbol,
		Quantity:    decimal.Zero,
		CostBasis:   decimal.Zero,
		AvgCost:     decimal.Zero,
		RealizedPnL: decimal.Zero,
	}

	var lots []Lot
	for _, r := range ordered {
		if r.AssetName != "" {
			pos.AssetName = r.AssetName
		}
		if r.AssetType != "" {
			pos.AssetType = r.AssetType
		}
		if r.Currency != "" {
			pos.Currency = r.Currency
		}

		switch r.Side {
		case model.Buy:
			// Capitalize the buy commission into the lot cost.
			unitCost := r.Price.Add(r.Commission.Div(r.Quantity))
			lots = append(lots, Lot{
				Quantity: r.Quantity,
				UnitCost: unitCost,
				OpenedAt: r.ExecutedAt,
			})

		case model.Sell:
			remaining := r.Quantity
			for len(lots) > 0 && remaining.IsPositive() {
				lot := &lots[0]
				consumed := decimal.Min(lot.Quantity, remaining)

				gross := r.Price.Sub(lot.UnitCost).Mul(consumed)
				fee := tools.ProportionalShare(r.Commission, consumed, r.Quantity)
				pos.RealizedPnL = pos.RealizedPnL.Add(gross).Sub(fee)

				lot.Quantity = lot.Quantity.Sub(consumed)
				remaining = remaining.Sub(consumed)
				if lot.Quantity.IsZero() {
					lots = lots[1:]
				}
			}

			if remaining.IsPositive() {
				// Deduction against zero cost: proceeds count in full.
				gross := r.Price.Mul(remaining)
				fee := tools.ProportionalShare(r.Commission, remaining, r.Quantity)
				pos.RealizedPnL = pos.RealizedPnL.Add(gross).Sub(fee)
				pos.Issues = append(pos.Issues, model.IssueOversell(remaining))
			}
		}
	}

	for _, lot := range lots {
		pos.Quantity = pos.Quantity.Add(lot.Quantity)
		pos.CostBasis = pos.CostBasis.Add(lot.UnitCost.Mul(lot.Quantity))
	}
	if pos.Quantity.IsPositive() {
		pos.AvgCost = pos.CostBasis.Div(pos.Quantity)
	}
	pos.OpenLots = lots

	return pos
}
