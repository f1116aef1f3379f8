package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/tools"
)

// Accepted timestamp layouts, tried in order. Venues without a
// timezone in their exports are assumed UTC.
var _timeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	time.DateOnly,
}

// Normalize coerces one raw venue trade into a validated ledger
// record: uppercase symbol, decimal quantities, UTC timestamp.
// Malformed records fail here, at the ingestion boundary.
func Normalize(venueName string, raw model.RawTrade) (model.TradeRecord, error) {
	side, err := model.ParseSide(raw.Side)
	if err != nil {
		return model.TradeRecord{}, err
	}

	quantity, err := tools.ParseDecimal(raw.Quantity)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("%w: quantity", err)
	}
	price, err := tools.ParseDecimal(raw.Price)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("%w: price", err)
	}
	commission, err := tools.ParseOptionalDecimal(raw.Commission)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("%w: commission", err)
	}

	executedAt, err := parseTime(raw.ExecutedAt)
	if err != nil {
		return model.TradeRecord{}, err
	}

	record := model.TradeRecord{
		Venue:              venueName,
		Symbol:             strings.ToUpper(strings.TrimSpace(raw.Symbol)),
		Side:               side,
		Quantity:           quantity,
		Price:              price,
		Currency:           strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Commission:         commission,
		CommissionCurrency: strings.ToUpper(strings.TrimSpace(raw.CommissionCurrency)),
		ExecutedAt:         executedAt,
		AssetName:          strings.TrimSpace(raw.AssetName),
		ISIN:               strings.ToUpper(strings.TrimSpace(raw.ISIN)),
		AssetType:          parseAssetType(raw.AssetType),
		Source:             model.SourceVenue,
	}
	if err := record.Validate(); err != nil {
		return model.TradeRecord{}, err
	}
	return record, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range _timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("can't parse timestamp %q", s)
}

func parseAssetType(s string) model.AssetType {
	switch model.AssetType(strings.ToLower(strings.TrimSpace(s))) {
	case model.Stock:
		return model.Stock
	case model.Etf:
		return model.Etf
	case model.Bond:
		return model.Bond
	case model.Crypto:
		return model.Crypto
	case model.Currency:
		return model.Currency
	default:
		return ""
	}
}
