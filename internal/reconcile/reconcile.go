package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foliosync/portfolio-core/internal/costbasis"
	"github.com/foliosync/portfolio-core/internal/fx"
	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/price"
	"github.com/foliosync/portfolio-core/internal/tools"
	"github.com/shopspring/decimal"
)

const (
	_quantityTolerancePctDefault = "0.1"
	_priceDeviationPctDefault    = "15"
	_workersDefault              = 8
)

type Config struct {
	ReportingCurrency    string
	QuantityTolerancePct decimal.Decimal
	PriceDeviationPct    decimal.Decimal
	Workers              int
}

func (c *Config) setup() {
	if c.QuantityTolerancePct.IsZero() {
		c.QuantityTolerancePct = decimal.RequireFromString(_quantityTolerancePctDefault)
	}
	if c.PriceDeviationPct.IsZero() {
		c.PriceDeviationPct = decimal.RequireFromString(_priceDeviationPctDefault)
	}
	if c.Workers <= 0 {
		c.Workers = _workersDefault
	}
}

// Service values computed holdings and cross-checks them against
// venue-reported balances. One broken asset or provider degrades that
// asset's entry, never the whole pass.
type Service struct {
	engine    *costbasis.Engine
	resolver  *price.Resolver
	converter *fx.Converter
	cfg       Config
	logger    logger.Logger

	now func() time.Time
}

func NewService(engine *costbasis.Engine, resolver *price.Resolver, converter *fx.Converter, cfg Config, logger logger.Logger) *Service {
	cfg.setup()
	return &Service{
		engine:    engine,
		resolver:  resolver,
		converter: converter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

type quoteResult struct {
	quote model.PriceQuote
	err   error
}

// prefetchQuotes resolves every distinct symbol concurrently, bounded
// by the worker count. Assembly stays sequential so output order is
// independent of completion order.
func (s *Service) prefetchQuotes(ctx context.Context, positions []costbasis.Position) map[string]quoteResult {
	type lookup struct {
		symbol    string
		assetType model.AssetType
	}

	seen := make(map[string]struct{})
	lookups := make([]lookup, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		lookups = append(lookups, lookup{symbol: p.Symbol, assetType: p.AssetType})
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		quotes = make(map[string]quoteResult, len(lookups))
		sem    = make(chan struct{}, s.cfg.Workers)
	)
	for _, l := range lookups {
		wg.Add(1)
		sem <- struct{}{}
		go func(l lookup) {
			defer wg.Done()
			defer func() { <-sem }()

			q, err := s.resolver.GetPrice(ctx, l.symbol, l.assetType)
			mu.Lock()
			quotes[l.symbol] = quoteResult{quote: q, err: err}
			mu.Unlock()
		}(l)
	}
	wg.Wait()

	return quotes
}

// Holdings returns the valued positions for the filter, sorted by
// (venue, symbol).
func (s *Service) Holdings(ctx context.Context, f ledger.Filter) ([]model.Holding, error) {
	positions, err := s.engine.Positions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: can't compute positions", err)
	}

	quotes := s.prefetchQuotes(ctx, positions)

	holdings := make([]model.Holding, 0, len(positions))
	for _, p := range positions {
		h := model.Holding{
			Venue:       p.Venue,
			Symbol:      p.Symbol,
			AssetName:   p.AssetName,
			AssetType:   p.AssetType,
			Quantity:    p.Quantity,
			CostBasis:   p.CostBasis,
			AvgCost:     p.AvgCost,
			RealizedPnL: p.RealizedPnL,
			Currency:    p.Currency,
			Issues:      append([]string(nil), p.Issues...),
		}

		qr := quotes[p.Symbol]
		if qr.err != nil {
			h.Issues = append(h.Issues, model.IssuePriceUnavailable(p.Symbol))
			holdings = append(holdings, h)
			continue
		}

		quote := qr.quote
		if quote.Stale {
			h.Issues = append(h.Issues, model.IssueStaleQuote(quote.Source, quote.Age(s.now())))
		}

		value := quote.Value
		currency := quote.Currency
		if s.cfg.ReportingCurrency != "" && currency != s.cfg.ReportingCurrency {
			converted, err := s.converter.Convert(ctx, value, currency, s.cfg.ReportingCurrency, s.now())
			if err != nil {
				h.Issues = append(h.Issues, model.IssueConversionFailed(currency, s.cfg.ReportingCurrency))
			} else {
				value = converted
				currency = s.cfg.ReportingCurrency
			}
		}

		// The cost side follows the same currency so the Currency
		// field labels every amount in the holding.
		if p.Currency != "" && p.Currency != currency {
			costBasis, err1 := s.converter.Convert(ctx, p.CostBasis, p.Currency, currency, s.now())
			avgCost, err2 := s.converter.Convert(ctx, p.AvgCost, p.Currency, currency, s.now())
			realized, err3 := s.converter.Convert(ctx, p.RealizedPnL, p.Currency, currency, s.now())
			if err1 != nil || err2 != nil || err3 != nil {
				h.Issues = append(h.Issues, model.IssueConversionFailed(p.Currency, currency))
			} else {
				h.CostBasis = costBasis
				h.AvgCost = avgCost
				h.RealizedPnL = realized
			}
		}

		h.Currency = currency
		h.MarketValue = p.Quantity.Mul(value)
		h.UnrealizedPnL = value.Sub(h.AvgCost).Mul(p.Quantity)

		holdings = append(holdings, h)
	}

	return holdings, nil
}

// Reconcile cross-checks computed positions against the venue balance
// snapshots collected during sync. Balances for symbols without any
// ledger trades surface as mismatches too.
func (s *Service) Reconcile(ctx context.Context, f ledger.Filter, balances map[string][]model.RawBalance) ([]model.ReconciliationResult, error) {
	positions, err := s.engine.Positions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: can't compute positions", err)
	}

	positions = appendReportedOnly(positions, balances, f)
	quotes := s.prefetchQuotes(ctx, positions)

	results := make([]model.ReconciliationResult, 0, len(positions))
	for _, p := range positions {
		results = append(results, s.reconcileOne(ctx, p, reportedFor(balances, p.Venue, p.Symbol), quotes[p.Symbol]))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Venue != results[j].Venue {
			return results[i].Venue < results[j].Venue
		}
		return results[i].Symbol < results[j].Symbol
	})
	return results, nil
}

func (s *Service) reconcileOne(ctx context.Context, p costbasis.Position, reported *model.RawBalance, qr quoteResult) model.ReconciliationResult {
	r := model.ReconciliationResult{
		Venue:            p.Venue,
		Symbol:           p.Symbol,
		ComputedQuantity: p.Quantity,
		Currency:         p.Currency,
		Issues:           append([]string(nil), p.Issues...),
	}

	var reportedQty *decimal.Decimal
	var reportedPrice *decimal.Decimal
	if reported != nil {
		if qty, err := tools.ParseDecimal(reported.Quantity); err == nil {
			reportedQty = &qty
		} else {
			r.Issues = append(r.Issues, fmt.Sprintf("malformed reported quantity %q", reported.Quantity))
		}
		if reported.Price != "" {
			if v, err := tools.ParseDecimal(reported.Price); err == nil {
				reportedPrice = &v
			}
		}
	}

	if reportedQty != nil {
		qty := *reportedQty
		if qty.IsNegative() {
			r.Issues = append(r.Issues, model.IssueNegativeBalance(qty))
			// Clamped for valuation; the issue keeps the raw value visible.
			qty = decimal.Zero
		}
		r.ReportedQuantity = &qty

		if tools.RelativeDeviationPct(qty, p.Quantity).GreaterThan(s.cfg.QuantityTolerancePct) ||
			(p.Quantity.IsZero() && !qty.IsZero()) {
			r.Issues = append(r.Issues, model.IssueBalanceMismatch(p.Quantity, qty))
		}
	}

	valuationPrice := decimal.Zero
	if qr.err != nil {
		r.Issues = append(r.Issues, model.IssuePriceUnavailable(p.Symbol))
		if reportedPrice != nil {
			// Venue price is all there is.
			valuationPrice = *reportedPrice
		}
	} else {
		quote := qr.quote
		r.Quote = &quote
		r.Currency = quote.Currency
		valuationPrice = quote.Value

		if quote.Stale {
			r.Issues = append(r.Issues, model.IssueStaleQuote(quote.Source, quote.Age(s.now())))
		}

		if reportedPrice != nil {
			deviation := tools.RelativeDeviationPct(*reportedPrice, quote.Value)
			if deviation.GreaterThan(s.cfg.PriceDeviationPct) {
				r.Issues = append(r.Issues, model.IssuePriceDeviation(deviation, quote.Source))
				// Reference price wins; valuationPrice already holds it.
			} else {
				valuationPrice = *reportedPrice
			}
		}
	}

	r.ComputedValue = p.Quantity.Mul(valuationPrice)
	if r.ReportedQuantity != nil {
		v := r.ReportedQuantity.Mul(valuationPrice)
		r.ReportedValue = &v
	}

	if s.cfg.ReportingCurrency != "" && r.Currency != "" && r.Currency != s.cfg.ReportingCurrency {
		if converted, err := s.converter.Convert(ctx, r.ComputedValue, r.Currency, s.cfg.ReportingCurrency, s.now()); err == nil {
			r.ComputedValue = converted
			if r.ReportedValue != nil {
				v, _ := s.converter.Convert(ctx, *r.ReportedValue, r.Currency, s.cfg.ReportingCurrency, s.now())
				r.ReportedValue = &v
			}
			r.Currency = s.cfg.ReportingCurrency
		} else {
			r.Issues = append(r.Issues, model.IssueConversionFailed(r.Currency, s.cfg.ReportingCurrency))
		}
	}

	r.Confidence = confidence(r.Issues)
	return r
}

func appendReportedOnly(positions []costbasis.Position, balances map[string][]model.RawBalance, f ledger.Filter) []costbasis.Position {
	known := make(map[ledger.Partition]struct{}, len(positions))
	for _, p := range positions {
		known[ledger.Partition{Venue: p.Venue, Symbol: p.Symbol}] = struct{}{}
	}

	for venueName, list := range balances {
		if f.Venue != "" && venueName != f.Venue {
			continue
		}
		for _, b := range list {
			// Cash rows report a currency, not a tradeable position.
			if b.Symbol == "" || b.Symbol == b.Currency {
				continue
			}
			if f.Symbol != "" && b.Symbol != f.Symbol {
				continue
			}
			key := ledger.Partition{Venue: venueName, Symbol: b.Symbol}
			if _, ok := known[key]; ok {
				continue
			}
			known[key] = struct{}{}
			positions = append(positions, costbasis.Position{
				Venue:    venueName,
				Symbol:   b.Symbol,
				Quantity: decimal.Zero,
			})
		}
	}
	return positions
}

func reportedFor(balances map[string][]model.RawBalance, venueName, symbol string) *model.RawBalance {
	for _, b := range balances[venueName] {
		if b.Symbol == symbol {
			return &b
		}
	}
	return nil
}

func confidence(issues []string) model.Confidence {
	if len(issues) == 0 {
		return model.ConfidenceHigh
	}

	for _, issue := range issues {
		switch {
		case strings.HasPrefix(issue, "balance mismatch"),
			strings.HasPrefix(issue, "negative balance"),
			strings.HasPrefix(issue, "oversell"),
			strings.HasPrefix(issue, "no price available"),
			strings.HasPrefix(issue, "malformed reported quantity"):
			return model.ConfidenceLow
		}
	}
	return model.ConfidenceDegraded
}
