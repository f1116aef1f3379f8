package fx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls int
	rate  decimal.Decimal
	err   error
}

func (s *fakeSource) GetRate(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func TestConvertSameCurrencyShortCircuits(t *testing.T) {
	src := &fakeSource{}
	c := NewConverter(src, logger.Nop{})

	got, err := c.Convert(context.Background(), decimal.NewFromInt(100), "EUR", "EUR", time.Now())
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(100)))
	require.Zero(t, src.calls)
}

func TestConvertCachesPerDay(t *testing.T) {
	src := &fakeSource{rate: decimal.RequireFromString("1.1")}
	c := NewConverter(src, logger.Nop{})
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	got, err := c.Convert(ctx, decimal.NewFromInt(100), "EUR", "USD", day)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(110)))

	// Later the same day: cache hit.
	_, err = c.Convert(ctx, decimal.NewFromInt(50), "EUR", "USD", day.Add(8*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	// Next day: fresh lookup.
	_, err = c.Convert(ctx, decimal.NewFromInt(50), "EUR", "USD", day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestConvertRejectsBadRates(t *testing.T) {
	src := &fakeSource{rate: decimal.Zero}
	c := NewConverter(src, logger.Nop{})

	_, err := c.Convert(context.Background(), decimal.NewFromInt(100), "EUR", "USD", time.Now())
	require.Error(t, err)

	src.err = fmt.Errorf("upstream down")
	_, err = c.Convert(context.Background(), decimal.NewFromInt(100), "EUR", "USD", time.Now())
	require.Error(t, err)
}
