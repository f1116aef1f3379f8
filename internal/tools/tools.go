package tools

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses venue-supplied numerics. Venues disagree on
// decimal separators, so a single comma is accepted as one.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty decimal")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: can't parse decimal %q", err, s)
	}
	return d, nil
}

// ParseOptionalDecimal treats an empty string as zero.
func ParseOptionalDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return ParseDecimal(s)
}

// RelativeDeviationPct returns |value-reference|/reference in percent.
// A zero reference yields zero; the caller decides whether a zero
// reference is itself an issue.
func RelativeDeviationPct(value, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return value.Sub(reference).Abs().
		Div(reference.Abs()).
		Mul(decimal.NewFromInt(100))
}

// ProportionalShare splits total by part/whole, e.g. the slice of a
// sell commission attributable to one consumed lot.
func ProportionalShare(total, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() || total.IsZero() {
		return decimal.Zero
	}
	return total.Mul(part).Div(whole)
}
