package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return Buy, nil
	case "sell", "s":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown trade side %q", s)
	}
}

type AssetType string

const (
	Stock    AssetType = "stock"
	Etf      AssetType = "etf"
	Bond     AssetType = "bond"
	Crypto   AssetType = "crypto"
	Currency AssetType = "currency"
)

// RecordSource marks how a trade entered the ledger. Venue-imported
// records are protected from manual edits (see ledger package).
type RecordSource string

const (
	SourceVenue  RecordSource = "venue"
	SourceManual RecordSource = "manual"
)

// TradeRecord is one executed buy or sell, immutable once appended.
type TradeRecord struct {
	ID                 string          `db:"id" json:"id"`
	Venue              string          `db:"venue" json:"venue"`
	Symbol             string          `db:"symbol" json:"symbol"`
	Side               Side            `db:"side" json:"side"`
	Quantity           decimal.Decimal `db:"quantity" json:"quantity"`
	Price              decimal.Decimal `db:"price" json:"price"`
	Currency           string          `db:"currency" json:"currency"`
	Commission         decimal.Decimal `db:"commission" json:"commission"`
	CommissionCurrency string          `db:"commission_currency" json:"commission_currency"`
	ExecutedAt         time.Time       `db:"executed_at" json:"executed_at"`
	AssetName          string          `db:"asset_name" json:"asset_name,omitempty"`
	ISIN               string          `db:"isin" json:"isin,omitempty"`
	AssetType          AssetType       `db:"asset_type" json:"asset_type"`
	Source             RecordSource    `db:"source" json:"source"`
	CorrectedAt        *time.Time      `db:"corrected_at" json:"corrected_at,omitempty"`
}

// _keyPrecision fixes decimal formatting inside identity keys so that
// "1.5" and "1.50" collapse to the same key.
const _keyPrecision = 8

// IdentityKey returns the composite dedup key: two records with equal
// keys are the same trade. Timestamp is truncated to the second since
// venues report sub-second parts inconsistently between exports.
func (r TradeRecord) IdentityKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		r.Venue,
		r.Symbol,
		r.Side,
		r.Quantity.StringFixed(_keyPrecision),
		r.Price.StringFixed(_keyPrecision),
		r.ExecutedAt.UTC().Truncate(time.Second).Unix(),
	)
}

func (r TradeRecord) Validate() error {
	if r.Venue == "" {
		return fmt.Errorf("empty venue")
	}
	if r.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if r.Symbol != strings.ToUpper(r.Symbol) {
		return fmt.Errorf("symbol %q is not normalized", r.Symbol)
	}
	if r.Side != Buy && r.Side != Sell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be > 0, got %s", r.Quantity)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("price must be > 0, got %s", r.Price)
	}
	if r.Commission.IsNegative() {
		return fmt.Errorf("commission must be >= 0, got %s", r.Commission)
	}
	if r.ExecutedAt.IsZero() {
		return fmt.Errorf("empty executed_at")
	}
	return nil
}

// TradePatch carries the editable fields of a manual ledger entry.
// Nil means "leave unchanged".
type TradePatch struct {
	Quantity   *decimal.Decimal
	Price      *decimal.Decimal
	Commission *decimal.Decimal
	AssetName  *string
	ExecutedAt *time.Time
}
