package tinvest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"go.uber.org/ratelimit"
)

const (
	_historyWindow = 4 * 365 * 24 * time.Hour
)

type instrumentInfo struct {
	Ticker    string
	ISIN      string
	Name      string
	AssetType string
}

// Connector adapts the T-Invest API to the venue interface: executed
// operations become raw trades, account positions become balance
// snapshots.
type Connector struct {
	opsClient   *investgo.OperationsServiceClient
	instrClient *investgo.InstrumentsServiceClient

	rateLimiter ratelimit.Limiter // operations are limited to 200 T/M

	accountID string
	logger    logger.Logger

	figiCache map[string]instrumentInfo
}

func NewConnector(c *investgo.Client, accountID string, logger logger.Logger) *Connector {
	return &Connector{
		opsClient:   c.NewOperationsServiceClient(),
		instrClient: c.NewInstrumentsServiceClient(),
		rateLimiter: ratelimit.New(200, ratelimit.Per(1*time.Minute)),
		accountID:   accountID,
		logger:      logger,
		figiCache:   make(map[string]instrumentInfo),
	}
}

func (c *Connector) Name() string {
	return "tinvest"
}

func (c *Connector) FetchTrades(_ context.Context, limit int) ([]model.RawTrade, error) {
	to := time.Now().UTC()

	c.rateLimiter.Take()
	resp, err := c.opsClient.GetOperations(&investgo.GetOperationsRequest{
		AccountId: c.accountID,
		State:     investapi.OperationState_OPERATION_STATE_EXECUTED,
		From:      to.Add(-_historyWindow),
		To:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't get operations", err)
	}

	operations := resp.GetOperations()
	trades := make([]model.RawTrade, 0, len(operations))
	for _, op := range operations {
		var side string
		switch op.GetOperationType() {
		case investapi.OperationType_OPERATION_TYPE_BUY:
			side = "buy"
		case investapi.OperationType_OPERATION_TYPE_SELL:
			side = "sell"
		default:
			// Fees, dividends, transfers: not trades.
			continue
		}

		info, err := c.instrument(op.GetFigi())
		if err != nil {
			c.logger.Warnf("%s: can't resolve figi %s, skipping operation %s", err, op.GetFigi(), op.GetId())
			continue
		}

		trades = append(trades, model.RawTrade{
			Symbol:     info.Ticker,
			Side:       side,
			Quantity:   strconv.FormatInt(op.GetQuantity(), 10),
			Price:      strconv.FormatFloat(op.GetPrice().ToFloat(), 'f', -1, 64),
			Currency:   strings.ToUpper(op.GetCurrency()),
			ExecutedAt: op.GetDate().AsTime().UTC().Format(time.RFC3339),
			AssetName:  info.Name,
			ISIN:       info.ISIN,
			AssetType:  info.AssetType,
		})

		if limit > 0 && len(trades) >= limit {
			break
		}
	}

	return trades, nil
}

func (c *Connector) FetchBalances(_ context.Context) ([]model.RawBalance, error) {
	c.rateLimiter.Take()
	resp, err := c.opsClient.GetPositions(c.accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't get positions", err)
	}

	balances := make([]model.RawBalance, 0, len(resp.GetSecurities())+len(resp.GetMoney()))
	for _, sec := range resp.GetSecurities() {
		info, err := c.instrument(sec.GetFigi())
		if err != nil {
			c.logger.Warnf("%s: can't resolve figi %s, skipping position", err, sec.GetFigi())
			continue
		}
		balances = append(balances, model.RawBalance{
			Symbol:   info.Ticker,
			Quantity: strconv.FormatInt(sec.GetBalance(), 10),
		})
	}

	for _, m := range resp.GetMoney() {
		balances = append(balances, model.RawBalance{
			Symbol:   strings.ToUpper(m.GetCurrency()),
			Quantity: strconv.FormatFloat(m.ToFloat(), 'f', -1, 64),
			Currency: strings.ToUpper(m.GetCurrency()),
		})
	}

	return balances, nil
}

func (c *Connector) instrument(figi string) (instrumentInfo, error) {
	if v, ok := c.figiCache[figi]; ok {
		return v, nil
	}

	c.rateLimiter.Take()
	resp, err := c.instrClient.FindInstrument(figi)
	if err != nil {
		return instrumentInfo{}, fmt.Errorf("%w: can't find instrument", err)
	}

	instruments := resp.GetInstruments()
	if len(instruments) == 0 {
		return instrumentInfo{}, fmt.Errorf("instrument %s not found", figi)
	}

	i := instruments[0]
	info := instrumentInfo{
		Ticker:    strings.ToUpper(i.GetTicker()),
		ISIN:      i.GetIsin(),
		Name:      i.GetName(),
		AssetType: mapAssetType(i.GetInstrumentKind()),
	}
	c.figiCache[figi] = info
	return info, nil
}

func mapAssetType(kind investapi.InstrumentType) string {
	switch kind {
	case investapi.InstrumentType_INSTRUMENT_TYPE_SHARE:
		return string(model.Stock)
	case investapi.InstrumentType_INSTRUMENT_TYPE_ETF:
		return string(model.Etf)
	case investapi.InstrumentType_INSTRUMENT_TYPE_BOND:
		return string(model.Bond)
	case investapi.InstrumentType_INSTRUMENT_TYPE_CURRENCY:
		return string(model.Currency)
	default:
		return ""
	}
}
