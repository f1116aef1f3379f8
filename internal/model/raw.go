package model

// RawTrade is a venue connector's untyped view of one trade. All
// numeric fields are strings so connectors never lose precision on
// the wire; the import pipeline coerces them to decimals.
type RawTrade struct {
	Symbol             string `json:"symbol"`
	Side               string `json:"side"`
	Quantity           string `json:"quantity"`
	Price              string `json:"price"`
	Currency           string `json:"currency"`
	Commission         string `json:"commission,omitempty"`
	CommissionCurrency string `json:"commission_currency,omitempty"`
	ExecutedAt         string `json:"executed_at"` // RFC 3339
	AssetName          string `json:"asset_name,omitempty"`
	ISIN               string `json:"isin,omitempty"`
	AssetType          string `json:"asset_type,omitempty"`
}

// RawBalance is a venue-reported position snapshot used for
// reconciliation against computed holdings.
type RawBalance struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"` // venue's own valuation price, if any
	Currency string `json:"currency,omitempty"`
}
