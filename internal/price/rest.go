package price

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// RESTConfig describes one JSON-over-HTTP quote endpoint. Field paths
// are dot-separated so nested payloads ("data.last") work without
// provider-specific code.
type RESTConfig struct {
	Name          string
	BaseURL       string
	QuotePath     string
	SymbolParam   string
	DateParam     string // empty when the provider has no historical endpoint
	APIKeyParam   string
	APIKey        string
	PriceField    string
	CurrencyField string
	Currency      string // fallback when the payload carries no currency
	RatePerMinute int
	Timeout       time.Duration
}

type RESTProvider struct {
	c   *resty.Client
	cfg RESTConfig

	rateLimiter ratelimit.Limiter

	logger logger.Logger
}

const _ratePerMinuteDefault = 60

func NewRESTProvider(cfg RESTConfig, logger logger.Logger) *RESTProvider {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = _ratePerMinuteDefault
	}

	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &RESTProvider{
		c:           client,
		cfg:         cfg,
		rateLimiter: ratelimit.New(cfg.RatePerMinute, ratelimit.Per(1*time.Minute)),
		logger:      logger,
	}
}

func (p *RESTProvider) Name() string {
	return p.cfg.Name
}

func (p *RESTProvider) Quote(ctx context.Context, symbol string, assetType model.AssetType) (model.PriceQuote, error) {
	return p.quote(ctx, symbol, nil)
}

func (p *RESTProvider) QuoteAt(ctx context.Context, symbol string, assetType model.AssetType, date time.Time) (model.PriceQuote, error) {
	if p.cfg.DateParam == "" {
		return model.PriceQuote{}, fmt.Errorf("provider %s has no historical endpoint", p.cfg.Name)
	}
	return p.quote(ctx, symbol, &date)
}

func (p *RESTProvider) quote(ctx context.Context, symbol string, date *time.Time) (model.PriceQuote, error) {
	p.rateLimiter.Take()

	params := map[string]string{
		p.cfg.SymbolParam: symbol,
	}
	if p.cfg.APIKeyParam != "" {
		params[p.cfg.APIKeyParam] = p.cfg.APIKey
	}
	if date != nil {
		params[p.cfg.DateParam] = date.UTC().Format(time.DateOnly)
	}

	req := p.c.R().
		SetQueryParams(params).
		SetResult(&map[string]interface{}{}).
		SetContext(ctx)

	resp, err := req.Get(p.cfg.QuotePath)
	if err != nil {
		// Transport failures (timeouts included) are worth a retry.
		return model.PriceQuote{}, fmt.Errorf("%w: %w: can't request quote from %s", ErrTransient, err, p.cfg.Name)
	}
	defer resp.Body.Close()

	p.logger.Debugf("quote %s from %s: status %s, %s", symbol, p.cfg.Name, resp.Status(), resp.Duration())

	if !resp.IsSuccess() {
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return model.PriceQuote{}, fmt.Errorf("%w: %s quote request failed: %s", ErrTransient, p.cfg.Name, resp.Status())
		}
		return model.PriceQuote{}, fmt.Errorf("%s quote request failed: %s", p.cfg.Name, resp.Status())
	}

	payload := *resp.Result().(*map[string]interface{})

	value, err := lookupDecimal(payload, p.cfg.PriceField)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: malformed quote from %s", err, p.cfg.Name)
	}
	if !value.IsPositive() {
		return model.PriceQuote{}, fmt.Errorf("non-positive quote %s from %s", value, p.cfg.Name)
	}

	currency := p.cfg.Currency
	if p.cfg.CurrencyField != "" {
		if s, err := lookupString(payload, p.cfg.CurrencyField); err == nil && s != "" {
			currency = s
		}
	}

	ts := time.Now().UTC()
	if date != nil {
		ts = date.UTC()
	}

	return model.PriceQuote{
		Symbol:   symbol,
		Value:    value,
		Currency: currency,
		Source:   p.cfg.Name,
		Ts:       ts,
	}, nil
}

func lookup(payload map[string]interface{}, path string) (interface{}, error) {
	parts := strings.Split(path, ".")
	var current interface{} = payload
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("field %q missing", path)
		}
	}
	return current, nil
}

func lookupDecimal(payload map[string]interface{}, path string) (decimal.Decimal, error) {
	v, err := lookup(payload, path)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch value := v.(type) {
	case float64:
		return decimal.NewFromFloat(value), nil
	case string:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: field %q", err, path)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("field %q has unexpected type %T", path, v)
	}
}

func lookupString(payload map[string]interface{}, path string) (string, error) {
	v, err := lookup(payload, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has unexpected type %T", path, v)
	}
	return s, nil
}
