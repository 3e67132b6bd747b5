package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

const (
	keyPrefix = "outside:"

	// DefaultRetention bounds how long a stale value survives in memcached.
	DefaultRetention = 24 * time.Hour

	maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as unix timestamps
)

// MemcachedCache implements Cache using memcached, so several gateway replicas
// share one outside reading.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. retention is the
// memcached expiration applied on Set (DefaultRetention if zero).
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemcachedCache{client: client, retention: retention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.OutsideTemperature, bool, error) {
	if ctx.Err() != nil {
		return models.OutsideTemperature{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.OutsideTemperature{}, false, nil
		}
		return models.OutsideTemperature{}, false, err
	}
	var v models.OutsideTemperature
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return models.OutsideTemperature{}, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.OutsideTemperature) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(c.retention),
	})
}

func expirationSeconds(d time.Duration) int32 {
	sec := int64(d / time.Second)
	if sec <= 0 {
		sec = int64(DefaultRetention / time.Second)
	}
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used by the readiness probe.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
