package cache

import (
	"context"
	"sync"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

// Cache stores the last known outside temperature per key. Implementations keep
// entries past their freshness window so a stale value can still be served when
// a refresh fails; freshness is judged by the caller from FetchedAt.
type Cache interface {
	Get(ctx context.Context, key string) (models.OutsideTemperature, bool, error)
	Set(ctx context.Context, key string, value models.OutsideTemperature) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Entries never expire;
// concurrent Set calls resolve as last writer wins.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]models.OutsideTemperature
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]models.OutsideTemperature),
	}
}

// Get returns (value, true, nil) when key has ever been set, (zero, false, nil) otherwise.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.OutsideTemperature, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok, nil
}

// Set replaces any existing entry for key.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.OutsideTemperature) error {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
	return nil
}
