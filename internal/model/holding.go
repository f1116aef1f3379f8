package model

import "github.com/shopspring/decimal"

// Holding is the derived position for one (venue, symbol). It is
// recomputed from the ledger on demand, never stored.
type Holding struct {
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	AssetName     string          `json:"asset_name,omitempty"`
	AssetType     AssetType       `json:"asset_type,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarketValue   decimal.Decimal `json:"market_value"`
	Currency      string          `json:"currency"`
	Issues        []string        `json:"issues,omitempty"`
}
