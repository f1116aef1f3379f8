package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceDegraded Confidence = "degraded"
	ConfidenceLow      Confidence = "low"
)

// ReconciliationResult compares a computed holding with what the
// venue itself reports. Produced fresh on every pass; the ledger
// stays the system of record.
type ReconciliationResult struct {
	Venue            string           `json:"venue"`
	Symbol           string           `json:"symbol"`
	ComputedQuantity decimal.Decimal  `json:"computed_quantity"`
	ReportedQuantity *decimal.Decimal `json:"reported_quantity,omitempty"`
	ComputedValue    decimal.Decimal  `json:"computed_value"`
	ReportedValue    *decimal.Decimal `json:"reported_value,omitempty"`
	Currency         string           `json:"currency"`
	Quote            *PriceQuote      `json:"quote,omitempty"`
	Issues           []string         `json:"issues,omitempty"`
	Confidence       Confidence       `json:"confidence"`
}

// Issue constructors keep the user-facing issue vocabulary closed so
// consumers can match on prefixes.

func IssueBalanceMismatch(computed, reported decimal.Decimal) string {
	return fmt.Sprintf("balance mismatch: computed %s, venue reports %s", computed, reported)
}

func IssuePriceDeviation(deviationPct decimal.Decimal, source string) string {
	return fmt.Sprintf("price deviates %s%% from reference (%s), using reference price",
		deviationPct.Round(1), source)
}

func IssueNegativeBalance(reported decimal.Decimal) string {
	return fmt.Sprintf("negative balance reported: %s", reported)
}

func IssueStaleQuote(source string, age time.Duration) string {
	return fmt.Sprintf("stale price data from %s (age %s)", source, age.Truncate(time.Second))
}

func IssueOversell(shortfall decimal.Decimal) string {
	return fmt.Sprintf("oversell: sold %s more than held", shortfall)
}

func IssuePriceUnavailable(symbol string) string {
	return fmt.Sprintf("no price available for %s", symbol)
}

func IssueConversionFailed(from, to string) string {
	return fmt.Sprintf("can't convert %s to %s, keeping quote currency", from, to)
}

func IssueVenueUnavailable(venue, reason string) string {
	return fmt.Sprintf("venue %s unavailable: %s", venue, reason)
}
