package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/foliosync/portfolio-core/internal/tools"
	"gopkg.in/yaml.v3"
)

type VenueType string

const (
	VenueREST    VenueType = "rest"
	VenueTinvest VenueType = "tinvest"
)

// VenueConfig describes one trade source. API keys come from the
// environment, never from the file.
type VenueConfig struct {
	Name          string        `yaml:"name"`
	Type          VenueType     `yaml:"type"`
	BaseURL       string        `yaml:"base_url"`
	TradesPath    string        `yaml:"trades_path"`
	BalancesPath  string        `yaml:"balances_path"`
	LimitParam    string        `yaml:"limit_param"`
	APIKeyHeader  string        `yaml:"api_key_header"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`

	// tinvest only
	AccountID  string `yaml:"account_id"`
	ConfigFile string `yaml:"config_file"`
}

func (c *VenueConfig) Setup() error {
	if c.Name == "" {
		return fmt.Errorf("venue name is required")
	}

	switch c.Type {
	case VenueREST:
		if c.BaseURL == "" {
			return fmt.Errorf("base_url is required for venue %s", c.Name)
		}
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("%w: bad base_url for venue %s", err, c.Name)
		}
		if c.TradesPath == "" {
			return fmt.Errorf("trades_path is required for venue %s", c.Name)
		}
	case VenueTinvest:
		if c.AccountID == "" {
			return fmt.Errorf("account_id is required for venue %s", c.Name)
		}
		if c.ConfigFile == "" {
			c.ConfigFile = _investCfgFileDefault
		}
	default:
		return fmt.Errorf("unknown venue type %q for venue %s", c.Type, c.Name)
	}

	return nil
}

func (c *VenueConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ProviderConfig describes one quote endpoint and the asset types it
// serves. Providers are ranked by their order in the file, primary
// first.
type ProviderConfig struct {
	Name          string            `yaml:"name"`
	BaseURL       string            `yaml:"base_url"`
	QuotePath     string            `yaml:"quote_path"`
	SymbolParam   string            `yaml:"symbol_param"`
	DateParam     string            `yaml:"date_param"`
	APIKeyParam   string            `yaml:"api_key_param"`
	APIKeyEnv     string            `yaml:"api_key_env"`
	PriceField    string            `yaml:"price_field"`
	CurrencyField string            `yaml:"currency_field"`
	Currency      string            `yaml:"currency"`
	RatePerMinute int               `yaml:"rate_per_minute"`
	Timeout       time.Duration     `yaml:"timeout"`
	TTL           time.Duration     `yaml:"ttl"`
	AssetTypes    []model.AssetType `yaml:"asset_types"`
}

func (c *ProviderConfig) Setup() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required for provider %s", c.Name)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("%w: bad base_url for provider %s", err, c.Name)
	}
	if c.SymbolParam == "" {
		c.SymbolParam = _symbolParamDefault
	}
	if c.PriceField == "" {
		c.PriceField = _priceFieldDefault
	}
	if len(c.AssetTypes) == 0 {
		return fmt.Errorf("provider %s serves no asset types", c.Name)
	}
	return nil
}

func (c *ProviderConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type ResolverConfig struct {
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type FxConfig struct {
	BaseURL       string        `yaml:"base_url"`
	RatePath      string        `yaml:"rate_path"`
	FromParam     string        `yaml:"from_param"`
	ToParam       string        `yaml:"to_param"`
	DateParam     string        `yaml:"date_param"`
	APIKeyParam   string        `yaml:"api_key_param"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	RateField     string        `yaml:"rate_field"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`
}

func (c *FxConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type ReconcileConfig struct {
	QuantityTolerancePct string `yaml:"quantity_tolerance_pct"`
	PriceDeviationPct    string `yaml:"price_deviation_pct"`
	Workers              int    `yaml:"workers"`
}

func (c *ReconcileConfig) Setup() error {
	if c.QuantityTolerancePct != "" {
		if _, err := tools.ParseDecimal(c.QuantityTolerancePct); err != nil {
			return fmt.Errorf("%w: bad quantity_tolerance_pct", err)
		}
	}
	if c.PriceDeviationPct != "" {
		if _, err := tools.ParseDecimal(c.PriceDeviationPct); err != nil {
			return fmt.Errorf("%w: bad price_deviation_pct", err)
		}
	}
	return nil
}

type StorageDriver string

const (
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

type TrackerConfig struct {
	LogLevel          string           `yaml:"log_level"`
	ReportingCurrency string           `yaml:"reporting_currency"`
	SyncLimit         int              `yaml:"sync_limit"`
	SyncWorkers       int              `yaml:"sync_workers"`
	Storage           StorageDriver    `yaml:"storage"`
	CacheSnapshot     string           `yaml:"cache_snapshot"`
	Venues            []VenueConfig    `yaml:"venues"`
	Providers         []ProviderConfig `yaml:"providers"`
	Resolver          ResolverConfig   `yaml:"resolver"`
	Fx                FxConfig         `yaml:"fx"`
	Reconcile         ReconcileConfig  `yaml:"reconcile"`
}

const (
	_investCfgFileDefault     = "./configs/invest.yaml"
	_symbolParamDefault       = "symbol"
	_priceFieldDefault        = "price"
	_logLevelDefault          = "info"
	_reportingCurrencyDefault = "USD"
	_syncLimitDefault         = 1000
	_storageDriverDefault     = StoragePostgres
)

func (c *TrackerConfig) ValidateAndSetup() error {
	if c.LogLevel == "" {
		c.LogLevel = _logLevelDefault
	}
	if c.ReportingCurrency == "" {
		c.ReportingCurrency = _reportingCurrencyDefault
	}
	if c.SyncLimit <= 0 {
		c.SyncLimit = _syncLimitDefault
	}
	if c.Storage == "" {
		c.Storage = _storageDriverDefault
	}
	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		return fmt.Errorf("unknown storage driver %q", c.Storage)
	}

	if len(c.Venues) == 0 {
		return fmt.Errorf("empty venues")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for i := range c.Venues {
		if err := c.Venues[i].Setup(); err != nil {
			return fmt.Errorf("%w: can't setup venue", err)
		}
		if _, ok := seen[c.Venues[i].Name]; ok {
			return fmt.Errorf("duplicate venue name %s", c.Venues[i].Name)
		}
		seen[c.Venues[i].Name] = struct{}{}
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("empty providers")
	}
	for i := range c.Providers {
		if err := c.Providers[i].Setup(); err != nil {
			return fmt.Errorf("%w: can't setup provider", err)
		}
	}

	if err := c.Reconcile.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup reconcile", err)
	}

	return nil
}

func LoadTrackerConfig(filename string) (TrackerConfig, error) {
	var cfg TrackerConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
