package price

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/foliosync/portfolio-core/internal/model"
)

type cacheEntry struct {
	Quote     model.PriceQuote `json:"quote"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Cache holds quotes with a per-entry TTL. Expired entries are kept
// around deliberately: when every provider is down, a stale quote is
// still more useful than none.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func (c *Cache) Put(key string, q model.PriceQuote, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		Quote:     q,
		ExpiresAt: q.Ts.Add(ttl),
	}
}

// Get returns the cached quote and whether it is still within TTL.
func (c *Cache) Get(key string, now time.Time) (model.PriceQuote, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return model.PriceQuote{}, false, false
	}
	return e.Quote, now.Before(e.ExpiresAt), true
}

// SaveFile snapshots the cache so a restart does not hammer the
// providers. The snapshot is derived state and safe to lose.
func (c *Cache) SaveFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := sonic.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("%w: can't marshal price cache", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: can't write price cache", err)
	}
	return nil
}

func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: can't read price cache", err)
	}

	entries := make(map[string]cacheEntry)
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: can't unmarshal price cache", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range entries {
		c.entries[k] = e
	}
	return nil
}
