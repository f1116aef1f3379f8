package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one resolved price. Stale marks a cache hit older
// than its provider TTL, returned only when every provider failed.
type PriceQuote struct {
	Symbol   string          `json:"symbol"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	Source   string          `json:"source"`
	Ts       time.Time       `json:"ts"`
	Stale    bool            `json:"stale,omitempty"`
}

func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Ts)
}
