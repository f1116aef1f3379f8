package fx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/shopspring/decimal"
)

// RateSource is the external currency-conversion collaborator.
type RateSource interface {
	GetRate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)
}

// Converter caches rates per (pair, calendar day) so a full
// reconciliation pass costs at most one upstream call per currency.
type Converter struct {
	source RateSource
	logger logger.Logger

	mu    sync.Mutex
	cache map[string]decimal.Decimal
}

func NewConverter(source RateSource, logger logger.Logger) *Converter {
	return &Converter{
		source: source,
		logger: logger,
		cache:  make(map[string]decimal.Decimal),
	}
}

func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	if from == to || from == "" || to == "" {
		return amount, nil
	}

	rate, err := c.rate(ctx, from, to, date)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Mul(rate), nil
}

func (c *Converter) rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	key := fmt.Sprintf("%s|%s|%s", from, to, date.UTC().Format(time.DateOnly))

	c.mu.Lock()
	defer c.mu.Unlock()

	if rate, ok := c.cache[key]; ok {
		return rate, nil
	}

	rate, err := c.source.GetRate(ctx, from, to, date)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: can't get rate %s/%s", err, from, to)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate %s for %s/%s", rate, from, to)
	}

	c.logger.Debugf("fx rate %s/%s on %s: %s", from, to, date.Format(time.DateOnly), rate)
	c.cache[key] = rate
	return rate, nil
}
