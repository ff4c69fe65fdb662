package cache

import "fmt"

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Open builds the Store selected by backend.
func Open(backend, redisURL string, opts Options) (Store, error) {
	switch backend {
	case BackendRedis, "":
		rc, err := NewRedisCache(redisURL, opts)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	case BackendMemory:
		return NewMemoryCache(opts), nil
	case BackendNone:
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
