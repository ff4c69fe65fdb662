package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process Store backed by go-cache. It serves
// single-binary runs and tests where no Redis is available.
type MemoryCache struct {
	cache *gocache.Cache
	opts  Options
	counters
}

// NewMemoryCache creates a cache whose expired entries are purged every
// 2*DefaultTTL.
func NewMemoryCache(opts Options) *MemoryCache {
	opts = opts.withDefaults()
	return &MemoryCache{
		cache: gocache.New(opts.DefaultTTL, opts.DefaultTTL*2),
		opts:  opts,
	}
}

func (m *MemoryCache) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(joinKey(m.opts.Prefix, ns, key))
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	m.hits.Add(1)
	return append([]byte(nil), v.([]byte)...), true, nil
}

func (m *MemoryCache) Set(_ context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.cache.Set(joinKey(m.opts.Prefix, ns, key), append([]byte(nil), value...), ttl)
	m.sets.Add(1)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, ns Namespace, key string) error {
	m.cache.Delete(joinKey(m.opts.Prefix, ns, key))
	m.deletes.Add(1)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context, ns Namespace) (int, error) {
	prefix := nsPrefix(m.opts.Prefix, ns)
	removed := 0
	for k := range m.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Delete(k)
			removed++
		}
	}
	m.deletes.Add(int64(removed))
	return removed, nil
}

func (m *MemoryCache) Stats(context.Context) (Stats, error) {
	s := m.snapshot("memory")
	s.Keys = int64(m.cache.ItemCount())
	return s, nil
}

func (m *MemoryCache) HealthCheck(context.Context) Health {
	return Health{Status: StatusHealthy, Backend: "memory"}
}

func (m *MemoryCache) Close() error {
	m.cache.Flush()
	return nil
}
