package costbasis

import (
	"testing"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func trade(side model.Side, qty, price, commission string, offset time.Duration) model.TradeRecord {
	return model.TradeRecord{
		ID:         string(side) + qty + price + offset.String(),
		Venue:      "ibkr",
		Symbol:     "AAPL",
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		Commission: decimal.RequireFromString(commission),
		Currency:   "USD",
		ExecutedAt: base.Add(offset),
		Source:     model.SourceVenue,
	}
}

func TestFIFOMatchesOldestLotFirst(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Buy, "1", "100", "0", 0),
		trade(model.Buy, "1", "200", "0", time.Hour),
		trade(model.Sell, "1", "250", "0", 2*time.Hour),
	})

	// The 100-cost lot is consumed, not an average of the two.
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(150)), "realized %s", pos.RealizedPnL)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(200)), "avg cost %s", pos.AvgCost)
	require.Empty(t, pos.Issues)
}

func TestSellSpansMultipleLots(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Buy, "10", "100", "0", 0),
		trade(model.Buy, "10", "120", "0", time.Hour),
		trade(model.Sell, "15", "130", "0", 2*time.Hour),
	})

	// 10 from the 100 lot (+300) and 5 from the 120 lot (+50).
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(350)), "realized %s", pos.RealizedPnL)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(5)))
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(120)))
	require.Len(t, pos.OpenLots, 1)
}

func TestBuyCommissionCapitalized(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Buy, "10", "100", "10", 0),
	})

	// 10 @ 100 plus 10 commission: 1010 basis, 101 per unit.
	require.True(t, pos.CostBasis.Equal(decimal.NewFromInt(1010)), "basis %s", pos.CostBasis)
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(101)))
}

func TestSellCommissionReducesRealized(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Buy, "10", "100", "0", 0),
		trade(model.Sell, "5", "110", "2", time.Hour),
	})

	// Gross 5*10 = 50, minus the full commission since the whole sell
	// matched: 48.
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(48)), "realized %s", pos.RealizedPnL)
}

func TestOversellClampsAndFlags(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Buy, "5", "100", "0", 0),
		trade(model.Sell, "8", "110", "0", time.Hour),
	})

	require.True(t, pos.Quantity.IsZero(), "quantity %s", pos.Quantity)
	require.Len(t, pos.Issues, 1)
	require.Contains(t, pos.Issues[0], "oversell")
	require.Contains(t, pos.Issues[0], "3")
	// 5 matched at +10 each, 3 unmatched booked against zero cost.
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(50+330)), "realized %s", pos.RealizedPnL)
}

func TestSellWithNoLotsAtAll(t *testing.T) {
	pos := Compute("ibkr", "AAPL", []model.TradeRecord{
		trade(model.Sell, "2", "50", "0", 0),
	})

	require.True(t, pos.Quantity.IsZero())
	require.Len(t, pos.Issues, 1)
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(100)))
}

func TestDeterministicTieBreak(t *testing.T) {
	// Two trades at the same instant: ordering falls back to record ID,
	// so replay order (and output) is stable regardless of input order.
	buy := trade(model.Buy, "1", "100", "0", 0)
	buy.ID = "a"
	sell := trade(model.Sell, "1", "110", "0", 0)
	sell.ID = "b"

	forward := Compute("ibkr", "AAPL", []model.TradeRecord{buy, sell})
	backward := Compute("ibkr", "AAPL", []model.TradeRecord{sell, buy})

	require.True(t, forward.RealizedPnL.Equal(backward.RealizedPnL))
	require.True(t, forward.Quantity.Equal(backward.Quantity))
	require.Equal(t, forward.Issues, backward.Issues)
}

func TestFractionalQuantities(t *testing.T) {
	pos := Compute("kraken", "BTC", []model.TradeRecord{
		trade(model.Buy, "0.5", "40000", "0", 0),
		trade(model.Sell, "0.2", "50000", "0", time.Hour),
	})

	require.True(t, pos.Quantity.Equal(decimal.RequireFromString("0.3")))
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(2000)), "realized %s", pos.RealizedPnL)
}
