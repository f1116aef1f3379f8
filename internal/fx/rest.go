package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/tools"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// RESTConfig describes a JSON exchange-rate endpoint queried per
// currency pair and date.
type RESTConfig struct {
	BaseURL       string
	RatePath      string
	FromParam     string
	ToParam       string
	DateParam     string // empty means the endpoint only serves latest rates
	APIKeyParam   string
	APIKey        string
	RateField     string
	RatePerMinute int
	Timeout       time.Duration
}

type RESTSource struct {
	c   *resty.Client
	cfg RESTConfig

	rateLimiter ratelimit.Limiter

	logger logger.Logger
}

const (
	_ratePerMinuteDefault = 60
	_retryCountDefault    = 2
	_retryWaitDefault     = 500 * time.Millisecond
)

func NewRESTSource(cfg RESTConfig, logger logger.Logger) *RESTSource {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = _ratePerMinuteDefault
	}
	if cfg.FromParam == "" {
		cfg.FromParam = "from"
	}
	if cfg.ToParam == "" {
		cfg.ToParam = "to"
	}
	if cfg.RateField == "" {
		cfg.RateField = "rate"
	}

	// Rate blips (timeouts, 429, 5xx) retry in place before the
	// conversion is reported as failed.
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(_retryCountDefault).
		SetRetryWaitTime(_retryWaitDefault)

	return &RESTSource{
		c:           client,
		cfg:         cfg,
		rateLimiter: ratelimit.New(cfg.RatePerMinute, ratelimit.Per(1*time.Minute)),
		logger:      logger,
	}
}

func (s *RESTSource) GetRate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	s.rateLimiter.Take()

	params := map[string]string{
		s.cfg.FromParam: from,
		s.cfg.ToParam:   to,
	}
	if s.cfg.APIKeyParam != "" {
		params[s.cfg.APIKeyParam] = s.cfg.APIKey
	}
	if s.cfg.DateParam != "" {
		params[s.cfg.DateParam] = date.UTC().Format(time.DateOnly)
	}

	resp, err := s.c.R().
		SetResult(&map[string]interface{}{}).
		SetContext(ctx).
		SetQueryParams(params).
		Get(s.cfg.RatePath)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: can't fetch rate %s/%s", err, from, to)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return decimal.Decimal{}, fmt.Errorf("rate endpoint returned %s for %s/%s", resp.Status(), from, to)
	}

	payload, ok := resp.Result().(*map[string]interface{})
	if !ok || payload == nil {
		return decimal.Decimal{}, fmt.Errorf("unexpected rate payload for %s/%s", from, to)
	}

	rate, err := lookupRate(*payload, s.cfg.RateField)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s/%s", err, from, to)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate %s for %s/%s", rate, from, to)
	}

	return rate, nil
}

func lookupRate(payload map[string]interface{}, path string) (decimal.Decimal, error) {
	var current interface{} = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		current, ok = m[part]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("field %q missing", path)
		}
	}

	switch v := current.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return tools.ParseDecimal(v)
	default:
		return decimal.Decimal{}, fmt.Errorf("field %q has unexpected type %T", path, current)
	}
}
