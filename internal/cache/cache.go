package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Namespace groups keys of one entity kind.
type Namespace string

const (
	// NamespaceSpecies holds single species records keyed by id.
	NamespaceSpecies Namespace = "species"
	// NamespaceSpeciesList holds generation listings keyed "gen:<index>".
	NamespaceSpeciesList Namespace = "species_list"
)

// Namespaces lists every namespace the service writes.
func Namespaces() []Namespace {
	return []Namespace{NamespaceSpecies, NamespaceSpeciesList}
}

// ParseNamespace validates a namespace received from an operator.
func ParseNamespace(s string) (Namespace, error) {
	for _, ns := range Namespaces() {
		if string(ns) == s {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown cache namespace %q", s)
}

// ErrDegraded marks failures of the cache backend. Callers treat such errors
// as a miss and carry on without the cache.
var ErrDegraded = errors.New("cache degraded")

func degraded(op string, err error) error {
	return fmt.Errorf("cache %s: %w: %w", op, ErrDegraded, err)
}

// Store is a namespaced key-value cache with per-entry TTL.
// Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)
	// Set stores value under ns/key. ttl <= 0 selects the store default.
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, ns Namespace, key string) error
	// Clear removes every key in ns and reports how many were removed.
	Clear(ctx context.Context, ns Namespace) (int, error)
	Stats(ctx context.Context) (Stats, error)
	// HealthCheck never fails; backend trouble is reported as degraded.
	HealthCheck(ctx context.Context) Health
	Close() error
}

// HealthStatus is the outcome of a health probe.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
)

// Health describes the result of Store.HealthCheck.
type Health struct {
	Status    HealthStatus `json:"status"`
	Backend   string       `json:"backend"`
	LatencyMS float64      `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
}

// Healthy reports whether the cache can be used.
func (h Health) Healthy() bool { return h.Status == StatusHealthy }

// Stats summarizes cache activity.
type Stats struct {
	Backend string            `json:"backend"`
	Hits    int64             `json:"hits"`
	Misses  int64             `json:"misses"`
	Sets    int64             `json:"sets"`
	Deletes int64             `json:"deletes"`
	Errors  int64             `json:"errors"`
	HitRate float64           `json:"hit_rate"`
	Keys    int64             `json:"keys"`
	Server  map[string]string `json:"server,omitempty"`
}

type counters struct {
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

func (c *counters) snapshot(backend string) Stats {
	s := Stats{
		Backend: backend,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

func joinKey(prefix string, ns Namespace, key string) string {
	if prefix == "" {
		return string(ns) + ":" + key
	}
	return prefix + ":" + string(ns) + ":" + key
}

// nsPrefix returns "<prefix>:<ns>:".
func nsPrefix(prefix string, ns Namespace) string {
	return joinKey(prefix, ns, "")
}

// GetJSON reads and decodes a cached value. A value that no longer decodes is
// reported as a miss together with the decode error.
func GetJSON[T any](ctx context.Context, s Store, ns Namespace, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, ns, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached %s:%s: %w", ns, key, err)
	}
	return out, true, nil
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, s Store, ns Namespace, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s:%s: %w", ns, key, err)
	}
	return s.Set(ctx, ns, key, raw, ttl)
}

// NoopCache is used when caching is disabled. Every read misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, Namespace, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopCache) Set(context.Context, Namespace, string, []byte, time.Duration) error {
	return nil
}

func (NoopCache) Delete(context.Context, Namespace, string) error {
	return nil
}

func (NoopCache) Clear(context.Context, Namespace) (int, error) {
	return 0, nil
}

func (NoopCache) Stats(context.Context) (Stats, error) {
	return Stats{Backend: "none"}, nil
}

func (NoopCache) Close() error {
	return nil
}

func (NoopCache) HealthCheck(context.Context) Health {
	return Health{Status: StatusDegraded, Backend: "none", Error: "cache disabled"}
}
