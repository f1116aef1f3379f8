package price

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCacheTTL(t *testing.T) {
	c := NewCache()
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c.Put("AAPL", model.PriceQuote{Symbol: "AAPL", Value: decimal.NewFromInt(100), Ts: ts}, 5*time.Minute)

	_, fresh, ok := c.Get("AAPL", ts.Add(time.Minute))
	require.True(t, ok)
	require.True(t, fresh)

	// Expired entries stay available, just no longer fresh.
	q, fresh, ok := c.Get("AAPL", ts.Add(time.Hour))
	require.True(t, ok)
	require.False(t, fresh)
	require.True(t, q.Value.Equal(decimal.NewFromInt(100)))

	_, _, ok = c.Get("MSFT", ts)
	require.False(t, ok)
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	c := NewCache()
	c.Put("AAPL", model.PriceQuote{
		Symbol:   "AAPL",
		Value:    decimal.RequireFromString("123.45"),
		Currency: "USD",
		Source:   "primary",
		Ts:       ts,
	}, 10*time.Minute)
	require.NoError(t, c.SaveFile(path))

	restored := NewCache()
	require.NoError(t, restored.LoadFile(path))

	q, fresh, ok := restored.Get("AAPL", ts.Add(time.Minute))
	require.True(t, ok)
	require.True(t, fresh)
	require.Equal(t, "primary", q.Source)
	require.True(t, q.Value.Equal(decimal.RequireFromString("123.45")))

	// Missing snapshot file is not an error.
	require.NoError(t, restored.LoadFile(filepath.Join(t.TempDir(), "absent.json")))
}
