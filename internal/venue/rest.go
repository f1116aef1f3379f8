package venue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// RESTConfig describes a venue that exposes trades and balances as
// JSON endpoints, e.g. a self-hosted export bridge.
type RESTConfig struct {
	Name          string
	BaseURL       string
	TradesPath    string
	BalancesPath  string
	LimitParam    string
	APIKeyHeader  string
	APIKey        string
	RatePerMinute int
	Timeout       time.Duration
}

type RESTConnector struct {
	c   *resty.Client
	cfg RESTConfig

	rateLimiter ratelimit.Limiter

	logger logger.Logger
}

const _ratePerMinuteDefault = 120

func NewRESTConnector(cfg RESTConfig, logger logger.Logger) *RESTConnector {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = _ratePerMinuteDefault
	}
	if cfg.LimitParam == "" {
		cfg.LimitParam = "limit"
	}

	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	if cfg.APIKeyHeader != "" {
		client.SetHeader(cfg.APIKeyHeader, cfg.APIKey)
	}

	return &RESTConnector{
		c:           client,
		cfg:         cfg,
		rateLimiter: ratelimit.New(cfg.RatePerMinute, ratelimit.Per(1*time.Minute)),
		logger:      logger,
	}
}

func (c *RESTConnector) Name() string {
	return c.cfg.Name
}

func (c *RESTConnector) FetchTrades(ctx context.Context, limit int) ([]model.RawTrade, error) {
	c.rateLimiter.Take()

	req := c.c.R().
		SetResult(&[]model.RawTrade{}).
		SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam(c.cfg.LimitParam, strconv.Itoa(limit))
	}

	resp, err := req.Get(c.cfg.TradesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch trades from %s", err, c.cfg.Name)
	}
	defer resp.Body.Close()

	c.logger.Debugf("fetched trades from %s: status %s, %s", c.cfg.Name, resp.Status(), resp.Duration())

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s trades request failed: %s", c.cfg.Name, resp.Status())
	}

	return *resp.Result().(*[]model.RawTrade), nil
}

func (c *RESTConnector) FetchBalances(ctx context.Context) ([]model.RawBalance, error) {
	c.rateLimiter.Take()

	resp, err := c.c.R().
		SetResult(&[]model.RawBalance{}).
		SetContext(ctx).
		Get(c.cfg.BalancesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch balances from %s", err, c.cfg.Name)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s balances request failed: %s", c.cfg.Name, resp.Status())
	}

	return *resp.Result().(*[]model.RawBalance), nil
}
