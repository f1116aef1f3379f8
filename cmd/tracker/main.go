package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/foliosync/portfolio-core/internal/config"
	"github.com/foliosync/portfolio-core/internal/costbasis"
	"github.com/foliosync/portfolio-core/internal/fx"
	"github.com/foliosync/portfolio-core/internal/importer"
	"github.com/foliosync/portfolio-core/internal/ledger"
	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/postgres"
	"github.com/foliosync/portfolio-core/internal/price"
	"github.com/foliosync/portfolio-core/internal/reconcile"
	"github.com/foliosync/portfolio-core/internal/tools"
	"github.com/foliosync/portfolio-core/internal/tracker"
	"github.com/foliosync/portfolio-core/internal/venue"
	"github.com/foliosync/portfolio-core/internal/venue/tinvest"
	"github.com/joho/godotenv"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
)

const (
	_trackerCfgFilePath = "./configs/tracker.yaml"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("can't detect .env file")
	}

	cfg, err := config.LoadTrackerConfig(_trackerCfgFilePath)
	if err != nil {
		log.Fatalf("%s: can't load tracker cfg", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.LevelFromString(cfg.LogLevel))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := newStore(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't init storage", err)
	}

	l, err := ledger.Open(ctx, store, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open ledger", err)
	}

	connectors, err := newConnectors(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't init venue connectors", err)
	}

	cache := price.NewCache()
	if cfg.CacheSnapshot != "" {
		if err := cache.LoadFile(cfg.CacheSnapshot); err != nil {
			zapLogger.Warnf("%s: can't load price cache snapshot", err)
		}
		defer func() {
			if err := cache.SaveFile(cfg.CacheSnapshot); err != nil {
				zapLogger.Warnf("%s: can't save price cache snapshot", err)
			}
		}()
	}

	resolver := price.NewResolver(newProviderChains(cfg, zapLogger), cache, price.ResolverConfig{
		TTL:              providerTTLs(cfg),
		BreakerThreshold: cfg.Resolver.BreakerThreshold,
		BreakerCooldown:  cfg.Resolver.BreakerCooldown,
		RetryAttempts:    cfg.Resolver.RetryAttempts,
		RetryBackoff:     cfg.Resolver.RetryBackoff,
	}, zapLogger)

	converter := fx.NewConverter(fx.NewRESTSource(fx.RESTConfig{
		BaseURL:       cfg.Fx.BaseURL,
		RatePath:      cfg.Fx.RatePath,
		FromParam:     cfg.Fx.FromParam,
		ToParam:       cfg.Fx.ToParam,
		DateParam:     cfg.Fx.DateParam,
		APIKeyParam:   cfg.Fx.APIKeyParam,
		APIKey:        cfg.Fx.APIKey(),
		RateField:     cfg.Fx.RateField,
		RatePerMinute: cfg.Fx.RatePerMinute,
		Timeout:       cfg.Fx.Timeout,
	}, zapLogger), zapLogger)

	reconciler := reconcile.NewService(
		costbasis.NewEngine(l),
		resolver,
		converter,
		newReconcileConfig(cfg),
		zapLogger,
	)

	pipeline := importer.NewPipeline(l, connectors, cfg.SyncWorkers, zapLogger)
	t := tracker.New(l, pipeline, costbasis.NewEngine(l), reconciler, cfg.SyncLimit, zapLogger)

	result, err := t.Sync(ctx)
	if err != nil {
		zapLogger.Errorf("%s: sync finished with errors", err)
	}
	zapLogger.Infof("sync: %d imported, %d duplicates, %d errors", result.Imported, result.Skipped, len(result.Errors))
	for _, e := range result.Errors {
		zapLogger.Warnf("sync %s: %s", e.Venue, e.Reason)
	}

	results, err := t.Reconciliation(ctx, ledger.Filter{})
	if err != nil {
		zapLogger.Fatalf("%s: can't reconcile", err)
	}
	for _, r := range results {
		if len(r.Issues) == 0 {
			zapLogger.Infof("%s %s: qty %s, value %s %s, confidence %s",
				r.Venue, r.Symbol, r.ComputedQuantity, r.ComputedValue, r.Currency, r.Confidence)
			continue
		}
		zapLogger.Warnf("%s %s: qty %s, value %s %s, confidence %s, issues %v",
			r.Venue, r.Symbol, r.ComputedQuantity, r.ComputedValue, r.Currency, r.Confidence, r.Issues)
	}
}

func newStore(ctx context.Context, cfg config.TrackerConfig, zapLogger logger.Logger) (ledger.Store, error) {
	if cfg.Storage == config.StorageMemory {
		zapLogger.Warnf("using in-memory storage, trades won't survive restart")
		return ledger.NewMemoryStore(), nil
	}

	db, err := postgres.NewDB(postgres.NewConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, err
	}
	return ledger.NewPostgresStore(db), nil
}

func newConnectors(ctx context.Context, cfg config.TrackerConfig, zapLogger logger.Logger) ([]venue.Connector, error) {
	connectors := make([]venue.Connector, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		switch vc.Type {
		case config.VenueTinvest:
			investCfg, err := config.LoadInvestConfig(vc.ConfigFile)
			if err != nil {
				return nil, err
			}
			client, err := investgo.NewClient(ctx, investCfg, zapLogger)
			if err != nil {
				return nil, err
			}
			connectors = append(connectors, tinvest.NewConnector(client, vc.AccountID, zapLogger))
		default:
			connectors = append(connectors, venue.NewRESTConnector(venue.RESTConfig{
				Name:          vc.Name,
				BaseURL:       vc.BaseURL,
				TradesPath:    vc.TradesPath,
				BalancesPath:  vc.BalancesPath,
				LimitParam:    vc.LimitParam,
				APIKeyHeader:  vc.APIKeyHeader,
				APIKey:        vc.APIKey(),
				RatePerMinute: vc.RatePerMinute,
				Timeout:       vc.Timeout,
			}, zapLogger))
		}
	}
	return connectors, nil
}

// newProviderChains ranks providers per asset type in file order. The
// full chain doubles as the fallback for records that carry no asset
// type at all.
func newProviderChains(cfg config.TrackerConfig, zapLogger logger.Logger) map[model.AssetType][]price.Provider {
	chains := make(map[model.AssetType][]price.Provider)
	for _, pc := range cfg.Providers {
		p := price.NewRESTProvider(price.RESTConfig{
			Name:          pc.Name,
			BaseURL:       pc.BaseURL,
			QuotePath:     pc.QuotePath,
			SymbolParam:   pc.SymbolParam,
			DateParam:     pc.DateParam,
			APIKeyParam:   pc.APIKeyParam,
			APIKey:        pc.APIKey(),
			PriceField:    pc.PriceField,
			CurrencyField: pc.CurrencyField,
			Currency:      pc.Currency,
			RatePerMinute: pc.RatePerMinute,
			Timeout:       pc.Timeout,
		}, zapLogger)

		for _, at := range pc.AssetTypes {
			chains[at] = append(chains[at], p)
		}
		chains[""] = append(chains[""], p)
	}
	return chains
}

func providerTTLs(cfg config.TrackerConfig) map[string]time.Duration {
	ttls := make(map[string]time.Duration, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if pc.TTL > 0 {
			ttls[pc.Name] = pc.TTL
		}
	}
	return ttls
}

func newReconcileConfig(cfg config.TrackerConfig) reconcile.Config {
	rc := reconcile.Config{
		ReportingCurrency: cfg.ReportingCurrency,
		Workers:           cfg.Reconcile.Workers,
	}
	if cfg.Reconcile.QuantityTolerancePct != "" {
		rc.QuantityTolerancePct, _ = tools.ParseDecimal(cfg.Reconcile.QuantityTolerancePct)
	}
	if cfg.Reconcile.PriceDeviationPct != "" {
		rc.PriceDeviationPct, _ = tools.ParseDecimal(cfg.Reconcile.PriceDeviationPct)
	}
	return rc
}
