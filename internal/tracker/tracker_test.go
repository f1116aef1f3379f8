package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foliosync/portfolio-core/internal/costbasis"
	"github.com/foliosync/portfolio-core/internal/fx"
	"github.com/foliosync/portfolio-core/internal/importer"
	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/price"
	"github.com/foliosync/portfolio-core/internal/reconcile"
	"github.com/foliosync/portfolio-core/internal/venue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	name     string
	trades   []model.RawTrade
	balances []model.RawBalance
	err      error
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) FetchTrades(context.Context, int) ([]model.RawTrade, error) {
	return c.trades, c.err
}

func (c *fakeConnector) FetchBalances(context.Context) ([]model.RawBalance, error) {
	return c.balances, c.err
}

type fakeProvider struct{ quotes map[string]string }

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Quote(_ context.Context, symbol string, _ model.AssetType) (model.PriceQuote, error) {
	v, ok := p.quotes[symbol]
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return model.PriceQuote{
		Symbol:   symbol,
		Value:    decimal.RequireFromString(v),
		Currency: "USD",
		Source:   "fake",
		Ts:       time.Now().UTC(),
	}, nil
}

type identityRate struct{}

func (identityRate) GetRate(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

func newTracker(t *testing.T, connectors []venue.Connector, quotes map[string]string) *Tracker {
	t.Helper()

	l, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), logger.Nop{})
	require.NoError(t, err)

	engine := costbasis.NewEngine(l)
	resolver := price.NewResolver(
		map[model.AssetType][]price.Provider{"": {&fakeProvider{quotes: quotes}}},
		price.NewCache(),
		price.ResolverConfig{},
		logger.Nop{},
	)
	reconciler := reconcile.NewService(
		engine,
		resolver,
		fx.NewConverter(identityRate{}, logger.Nop{}),
		reconcile.Config{ReportingCurrency: "USD"},
		logger.Nop{},
	)
	pipeline := importer.NewPipeline(l, connectors, 0, logger.Nop{})

	return New(l, pipeline, engine, reconciler, 100, logger.Nop{})
}

func TestSyncThenReconcile(t *testing.T) {
	c := &fakeConnector{
		name: "ibkr",
		trades: []model.RawTrade{{
			Symbol:     "AAPL",
			Side:       "buy",
			Quantity:   "10",
			Price:      "100",
			Currency:   "USD",
			ExecutedAt: "2026-03-10T14:30:00Z",
		}},
		balances: []model.RawBalance{{Symbol: "AAPL", Quantity: "10"}},
	}
	tr := newTracker(t, []venue.Connector{c}, map[string]string{"AAPL": "110"})

	result, err := tr.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)

	holdings, err := tr.Holdings(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	require.True(t, holdings[0].MarketValue.Equal(decimal.NewFromInt(1100)))

	// The reconciler sees the balances captured during Sync.
	results, err := tr.Reconciliation(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Issues)
	require.Equal(t, model.ConfidenceHigh, results[0].Confidence)
}

func TestFailingVenueMarkedUnavailable(t *testing.T) {
	healthy := &fakeConnector{
		name: "ibkr",
		trades: []model.RawTrade{{
			Symbol:     "AAPL",
			Side:       "buy",
			Quantity:   "10",
			Price:      "100",
			Currency:   "USD",
			ExecutedAt: "2026-03-10T14:30:00Z",
		}},
		balances: []model.RawBalance{{Symbol: "AAPL", Quantity: "10"}},
	}
	broken := &fakeConnector{name: "kraken", err: fmt.Errorf("connection refused")}
	tr := newTracker(t, []venue.Connector{healthy, broken}, map[string]string{"AAPL": "110", "BTC": "70000"})

	// Seed a prior kraken trade so the broken venue still has an asset
	// to reconcile.
	_, err := tr.ledger.Append(context.Background(), model.TradeRecord{
		Venue:      "kraken",
		Symbol:     "BTC",
		Side:       model.Buy,
		Quantity:   decimal.RequireFromString("0.5"),
		Price:      decimal.NewFromInt(60000),
		Currency:   "USD",
		ExecutedAt: time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		Source:     model.SourceVenue,
	})
	require.NoError(t, err)

	_, err = tr.Sync(context.Background())
	require.NoError(t, err)

	results, err := tr.Reconciliation(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "ibkr", results[0].Venue)
	require.Empty(t, results[0].Issues)
	require.Equal(t, model.ConfidenceHigh, results[0].Confidence)

	require.Equal(t, "kraken", results[1].Venue)
	require.Contains(t, results[1].Issues[0], "venue kraken unavailable")
	require.Equal(t, model.ConfidenceDegraded, results[1].Confidence)
	require.True(t, results[1].ComputedValue.Equal(decimal.NewFromInt(35000)))
}

func TestAddTradeManualProvenance(t *testing.T) {
	tr := newTracker(t, nil, map[string]string{"MSFT": "400"})

	record := model.TradeRecord{
		Venue:      "manual",
		Symbol:     "MSFT",
		Side:       model.Buy,
		Quantity:   decimal.NewFromInt(2),
		Price:      decimal.NewFromInt(390),
		Currency:   "USD",
		ExecutedAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}
	require.NoError(t, tr.AddTrade(context.Background(), record))

	err := tr.AddTrade(context.Background(), record)
	require.ErrorIs(t, err, ledger.ErrDuplicate)

	trades, err := tr.ListTrades(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, model.SourceManual, trades[0].Source)
}

func TestEditAndDeleteThroughFacade(t *testing.T) {
	tr := newTracker(t, nil, nil)

	record := model.TradeRecord{
		Venue:      "manual",
		Symbol:     "MSFT",
		Side:       model.Buy,
		Quantity:   decimal.NewFromInt(2),
		Price:      decimal.NewFromInt(390),
		Currency:   "USD",
		ExecutedAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}
	require.NoError(t, tr.AddTrade(context.Background(), record))

	trades, err := tr.ListTrades(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	id := trades[0].ID

	newPrice := decimal.NewFromInt(395)
	edited, err := tr.EditTrade(context.Background(), id, model.TradePatch{Price: &newPrice}, false)
	require.NoError(t, err)
	require.True(t, edited.Price.Equal(newPrice))

	require.NoError(t, tr.DeleteTrade(context.Background(), id, false))

	trades, err = tr.ListTrades(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Empty(t, trades)
}
