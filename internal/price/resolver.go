package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foliosync/portfolio-core/internal/logger"
	"github.com/foliosync/portfolio-core/internal/model"
)

const (
	_ttlDefault              = 5 * time.Minute
	_breakerThresholdDefault = 3
	_breakerCooldownDefault  = 1 * time.Minute
	_retryAttemptsDefault    = 3
	_retryBackoffDefault     = 200 * time.Millisecond
)

// ResolverConfig tunes fallback behavior. Zero values get defaults.
type ResolverConfig struct {
	TTL              map[string]time.Duration // per provider name
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RetryAttempts    int // per provider, transient errors only
	RetryBackoff     time.Duration
}

func (c *ResolverConfig) setup() {
	if c.TTL == nil {
		c.TTL = make(map[string]time.Duration)
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = _breakerThresholdDefault
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = _breakerCooldownDefault
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = _retryAttemptsDefault
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = _retryBackoffDefault
	}
}

// Resolver answers price lookups through a ranked provider chain with
// a TTL cache in front and a circuit breaker per provider. Ranking
// and cooldown are data, not branching: adding a provider is a
// config change.
type Resolver struct {
	providers map[model.AssetType][]Provider
	cache     *Cache
	breakers  map[string]*breaker
	cfg       ResolverConfig
	logger    logger.Logger

	now func() time.Time
}

// NewResolver takes providers ranked per asset type, primary first.
func NewResolver(providers map[model.AssetType][]Provider, cache *Cache, cfg ResolverConfig, logger logger.Logger) *Resolver {
	cfg.setup()

	breakers := make(map[string]*breaker)
	for _, chain := range providers {
		for _, p := range chain {
			if _, ok := breakers[p.Name()]; !ok {
				breakers[p.Name()] = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
			}
		}
	}

	return &Resolver{
		providers: providers,
		cache:     cache,
		breakers:  breakers,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Resolver) ttl(provider string) time.Duration {
	if ttl, ok := r.cfg.TTL[provider]; ok && ttl > 0 {
		return ttl
	}
	return _ttlDefault
}

// TTLFor reports the freshness window applied to quotes from the
// given source. The reconciler uses it to flag stale valuations.
func (r *Resolver) TTLFor(source string) time.Duration {
	return r.ttl(source)
}

// GetPrice returns a current quote. A fresh cache entry short-circuits
// the chain; when the whole chain fails, the last cached value comes
// back marked stale; with no cache at all the lookup fails explicitly.
func (r *Resolver) GetPrice(ctx context.Context, symbol string, assetType model.AssetType) (model.PriceQuote, error) {
	now := r.now()

	if q, fresh, ok := r.cache.Get(symbol, now); ok && fresh {
		return q, nil
	}

	chain, ok := r.providers[assetType]
	if !ok || len(chain) == 0 {
		return r.fromCacheOrFail(symbol, fmt.Errorf("%w: %s", ErrNoProvider, assetType))
	}

	for _, p := range chain {
		b := r.breakers[p.Name()]
		if !b.allow(now) {
			r.logger.Debugf("provider %s cooling down, skipped for %s", p.Name(), symbol)
			continue
		}

		q, err := r.withRetry(ctx, p.Name(), symbol, func() (model.PriceQuote, error) {
			return p.Quote(ctx, symbol, assetType)
		})
		if err != nil {
			b.failure(r.now())
			r.logger.Warnf("%s: provider %s failed for %s, falling through", err, p.Name(), symbol)
			continue
		}

		b.success()
		r.cache.Put(symbol, q, r.ttl(p.Name()))
		return q, nil
	}

	return r.fromCacheOrFail(symbol, fmt.Errorf("%w: all providers failed for %s", ErrNoPriceAvailable, symbol))
}

// GetPriceAt resolves a historical quote from providers that support
// dates. Historical values never expire, but share the stale-fallback
// path with current lookups.
func (r *Resolver) GetPriceAt(ctx context.Context, symbol string, assetType model.AssetType, date time.Time) (model.PriceQuote, error) {
	key := symbol + "|" + date.UTC().Format(time.DateOnly)
	now := r.now()

	if q, fresh, ok := r.cache.Get(key, now); ok && fresh {
		return q, nil
	}

	for _, p := range r.providers[assetType] {
		hp, ok := p.(HistoricalProvider)
		if !ok {
			continue
		}
		b := r.breakers[p.Name()]
		if !b.allow(now) {
			continue
		}

		q, err := r.withRetry(ctx, p.Name(), symbol, func() (model.PriceQuote, error) {
			return hp.QuoteAt(ctx, symbol, assetType, date)
		})
		if err != nil {
			b.failure(r.now())
			r.logger.Warnf("%s: provider %s failed for %s@%s", err, p.Name(), symbol, date.Format(time.DateOnly))
			continue
		}

		b.success()
		r.cache.Put(key, q, 365*24*time.Hour)
		return q, nil
	}

	return r.fromCacheOrFail(key, fmt.Errorf("%w: no historical quote for %s", ErrNoPriceAvailable, symbol))
}

// withRetry gives one provider up to RetryAttempts tries with doubling
// backoff, but only for transient failures. A permanent error falls
// through the chain immediately; a transient blip never demotes the
// lookup to a lower-ranked source by itself.
func (r *Resolver) withRetry(ctx context.Context, provider, symbol string, quote func() (model.PriceQuote, error)) (model.PriceQuote, error) {
	backoff := r.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		q, err := quote()
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= r.cfg.RetryAttempts {
			return q, err
		}

		r.logger.Debugf("%s: provider %s attempt %d for %s, retrying in %s", err, provider, attempt, symbol, backoff)
		select {
		case <-ctx.Done():
			return model.PriceQuote{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Resolver) fromCacheOrFail(key string, failure error) (model.PriceQuote, error) {
	if q, _, ok := r.cache.Get(key, r.now()); ok {
		q.Stale = true
		return q, nil
	}
	return model.PriceQuote{}, failure
}
