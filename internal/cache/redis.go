package cache

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clearBatchSize = 500
	healthTimeout  = 2 * time.Second
)

// Options tunes a cache backend.
type Options struct {
	Prefix     string
	DefaultTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = time.Hour
	}
	return o
}

// RedisCache is the Redis backed Store.
type RedisCache struct {
	client *redis.Client
	opts   Options
	counters
}

// NewRedisCache parses redisURL and builds a cache around a new client.
// It does not dial; use HealthCheck to probe connectivity.
func NewRedisCache(redisURL string, opts Options) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisCacheFromClient(redis.NewClient(opt), opts), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, opts Options) *RedisCache {
	return &RedisCache{client: client, opts: opts.withDefaults()}
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client returns the underlying Redis client
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// HealthCheck pings Redis and reports degraded on any failure.
func (rc *RedisCache) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	err := rc.client.Ping(ctx).Err()
	h := Health{
		Status:    StatusHealthy,
		Backend:   "redis",
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		h.Status = StatusDegraded
		h.Error = err.Error()
	}
	return h
}

// Get retrieves the value for ns/key. A missing key is (nil, false, nil).
func (rc *RedisCache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	val, err := rc.client.Get(ctx, joinKey(rc.opts.Prefix, ns, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		rc.misses.Add(1)
		return nil, false, nil
	case err != nil:
		rc.errors.Add(1)
		return nil, false, degraded("get", err)
	}
	rc.hits.Add(1)
	return val, true, nil
}

// Set stores a value with TTL
func (rc *RedisCache) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rc.opts.DefaultTTL
	}
	if err := rc.client.Set(ctx, joinKey(rc.opts.Prefix, ns, key), value, ttl).Err(); err != nil {
		rc.errors.Add(1)
		return degraded("set", err)
	}
	rc.sets.Add(1)
	return nil
}

// Delete removes a key
func (rc *RedisCache) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := rc.client.Del(ctx, joinKey(rc.opts.Prefix, ns, key)).Err(); err != nil {
		rc.errors.Add(1)
		return degraded("delete", err)
	}
	rc.deletes.Add(1)
	return nil
}

// Clear deletes every key of ns using SCAN so the server is never blocked by
// a KEYS call.
func (rc *RedisCache) Clear(ctx context.Context, ns Namespace) (int, error) {
	iter := rc.client.Scan(ctx, 0, nsPrefix(rc.opts.Prefix, ns)+"*", clearBatchSize).Iterator()

	removed := 0
	batch := make([]string, 0, clearBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := rc.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatchSize {
			if err := flush(); err != nil {
				rc.errors.Add(1)
				return removed, degraded("clear", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		rc.errors.Add(1)
		return removed, degraded("clear", err)
	}
	if err := flush(); err != nil {
		rc.errors.Add(1)
		return removed, degraded("clear", err)
	}

	rc.deletes.Add(int64(removed))
	return removed, nil
}

// Stats returns local counters merged with server INFO fields. On a server
// error the local counters are still returned.
func (rc *RedisCache) Stats(ctx context.Context) (Stats, error) {
	s := rc.snapshot("redis")

	info, err := rc.client.Info(ctx).Result()
	if err != nil {
		return s, degraded("stats", err)
	}
	s.Server = parseInfo(info,
		"redis_version",
		"connected_clients",
		"used_memory_human",
		"keyspace_hits",
		"keyspace_misses",
		"uptime_in_seconds",
	)

	match := "*"
	if rc.opts.Prefix != "" {
		match = rc.opts.Prefix + ":*"
	}

	var keys int64
	iter := rc.client.Scan(ctx, 0, match, clearBatchSize).Iterator()
	for iter.Next(ctx) {
		keys++
	}
	if err := iter.Err(); err != nil {
		return s, degraded("stats", err)
	}
	s.Keys = keys
	return s, nil
}

func parseInfo(info string, fields ...string) map[string]string {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	out := make(map[string]string, len(fields))
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if ok && want[k] {
			out[k] = v
		}
	}
	return out
}
