package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testRecord(venue, symbol string, side model.Side, qty, price string, ts time.Time) model.TradeRecord {
	return model.TradeRecord{
		Venue:      venue,
		Symbol:     symbol,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		Currency:   "USD",
		ExecutedAt: ts,
		Source:     model.SourceManual,
	}
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), NewMemoryStore(), logger.Nop{})
	require.NoError(t, err)
	return l
}

func TestAppendDeduplicates(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	inserted, err := l.Append(ctx, testRecord("ibkr", "AAPL", model.Buy, "10", "150.25", ts))
	require.NoError(t, err)
	require.True(t, inserted)

	// Same trade again, sub-second timestamp difference and trailing
	// zeros must still collide.
	dup := testRecord("ibkr", "AAPL", model.Buy, "10.0", "150.250", ts.Add(500*time.Millisecond))
	inserted, err = l.Append(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted)

	records, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestAppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	for name, r := range map[string]model.TradeRecord{
		"zero quantity":     testRecord("ibkr", "AAPL", model.Buy, "0", "150", ts),
		"negative price":    testRecord("ibkr", "AAPL", model.Buy, "1", "-1", ts),
		"lowercase symbol":  testRecord("ibkr", "aapl", model.Buy, "1", "150", ts),
		"missing venue":     testRecord("", "AAPL", model.Buy, "1", "150", ts),
		"bad side":          testRecord("ibkr", "AAPL", "hold", "1", "150", ts),
		"missing timestamp": testRecord("ibkr", "AAPL", model.Buy, "1", "150", time.Time{}),
	} {
		_, err := l.Append(ctx, r)
		require.Error(t, err, name)
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []model.TradeRecord{
		testRecord("kraken", "BTC", model.Buy, "1", "40000", base.Add(48*time.Hour)),
		testRecord("ibkr", "AAPL", model.Buy, "5", "151", base.Add(24*time.Hour)),
		testRecord("ibkr", "AAPL", model.Buy, "10", "150", base),
	} {
		inserted, err := l.Append(ctx, r)
		require.NoError(t, err, i)
		require.True(t, inserted)
	}

	records, err := l.Query(ctx, Filter{Venue: "ibkr", Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].ExecutedAt.Before(records[1].ExecutedAt))

	records, err = l.Query(ctx, Filter{From: base.Add(36 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "BTC", records[0].Symbol)
}

func TestEditProvenance(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	manual := testRecord("manual", "AAPL", model.Buy, "10", "150", ts)
	imported := testRecord("ibkr", "MSFT", model.Buy, "3", "400", ts)
	imported.Source = model.SourceVenue

	_, err := l.Append(ctx, manual)
	require.NoError(t, err)
	_, err = l.Append(ctx, imported)
	require.NoError(t, err)

	records, err := l.Query(ctx, Filter{Symbol: "MSFT"})
	require.NoError(t, err)
	importedID := records[0].ID

	qty := decimal.RequireFromString("4")
	_, err = l.Edit(ctx, importedID, model.TradePatch{Quantity: &qty}, false)
	require.ErrorIs(t, err, ErrPermissionDenied)

	// Explicit correction overrides the protection and leaves a stamp.
	edited, err := l.Edit(ctx, importedID, model.TradePatch{Quantity: &qty}, true)
	require.NoError(t, err)
	require.True(t, edited.Quantity.Equal(qty))
	require.NotNil(t, edited.CorrectedAt)
	require.Equal(t, model.SourceVenue, edited.Source)
}

func TestEditCollision(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	_, err := l.Append(ctx, testRecord("manual", "AAPL", model.Buy, "10", "150", ts))
	require.NoError(t, err)
	_, err = l.Append(ctx, testRecord("manual", "AAPL", model.Buy, "20", "150", ts))
	require.NoError(t, err)

	records, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Patching the second record onto the first one's identity must fail.
	qty := decimal.RequireFromString("10")
	_, err = l.Edit(ctx, records[1].ID, model.TradePatch{Quantity: &qty}, false)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	imported := testRecord("ibkr", "MSFT", model.Sell, "3", "400", ts)
	imported.Source = model.SourceVenue
	_, err := l.Append(ctx, imported)
	require.NoError(t, err)

	records, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	id := records[0].ID

	require.ErrorIs(t, l.Delete(ctx, id, false), ErrPermissionDenied)
	require.NoError(t, l.Delete(ctx, id, true))
	require.ErrorIs(t, l.Delete(ctx, id, true), ErrNotFound)

	// Identity is freed: the same trade can be re-appended.
	inserted, err := l.Append(ctx, imported)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestPartitions(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []model.TradeRecord{
		testRecord("kraken", "BTC", model.Buy, "1", "40000", base.Add(2*time.Hour)),
		testRecord("ibkr", "MSFT", model.Buy, "5", "400", base.Add(time.Hour)),
		testRecord("ibkr", "AAPL", model.Buy, "10", "150", base),
		testRecord("ibkr", "AAPL", model.Sell, "5", "160", base.Add(3*time.Hour)),
	} {
		_, err := l.Append(ctx, r)
		require.NoError(t, err, i)
	}

	partitions, err := l.Partitions(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, []Partition{
		{Venue: "ibkr", Symbol: "AAPL"},
		{Venue: "ibkr", Symbol: "MSFT"},
		{Venue: "kraken", Symbol: "BTC"},
	}, partitions)
}
