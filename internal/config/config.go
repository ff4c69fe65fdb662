// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/retry"
	"github.com/grimm00/pokedex-sub002/internal/scheduler"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrInvalidValue       = errors.New("invalid configuration value")
)

// Config holds every setting of the service and the seed CLI.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://pokedex.db"`

	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"redis"`
	CachePrefix  string        `env:"CACHE_PREFIX" envDefault:"pokedex"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheListTTL time.Duration `env:"CACHE_LIST_TTL" envDefault:"10m"`

	RESTPort string `env:"REST_PORT" envDefault:"8080"`
	WSPort   string `env:"WS_PORT" envDefault:"8081"`

	PokeAPIBaseURL        string        `env:"POKEAPI_BASE_URL" envDefault:"https://pokeapi.co/api/v2"`
	PokeAPITimeout        time.Duration `env:"POKEAPI_TIMEOUT" envDefault:"30s"`
	PokeAPIMaxAttempts    int           `env:"POKEAPI_MAX_ATTEMPTS" envDefault:"3"`
	PokeAPIBackoffInitial time.Duration `env:"POKEAPI_BACKOFF_INITIAL" envDefault:"500ms"`
	PokeAPIBackoffMax     time.Duration `env:"POKEAPI_BACKOFF_MAX" envDefault:"5s"`
	PokeAPIRateLimit      float64       `env:"POKEAPI_RATE_LIMIT" envDefault:"10"`

	SeedBatchSize      int           `env:"SEED_BATCH_SIZE" envDefault:"10"`
	SeedBatchDelay     time.Duration `env:"SEED_BATCH_DELAY" envDefault:"250ms"`
	SeedMaxConcurrency int           `env:"SEED_MAX_CONCURRENCY" envDefault:"0"`
	SeedGracePeriod    time.Duration `env:"SEED_GRACE_PERIOD" envDefault:"5s"`
	SeedOnStartup      bool          `env:"SEED_ON_STARTUP" envDefault:"true"`
	SeedStartupTimeout time.Duration `env:"SEED_STARTUP_TIMEOUT" envDefault:"5m"`

	GenerationsFile string `env:"GENERATIONS_FILE"`

	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	RefreshInterval   time.Duration `env:"REFRESH_INTERVAL" envDefault:"6h"`
	RefreshHour       int           `env:"REFRESH_HOUR" envDefault:"3"`
	RefreshStaleAfter time.Duration `env:"REFRESH_STALE_AFTER" envDefault:"168h"`
	RefreshBatchLimit int           `env:"REFRESH_BATCH_LIMIT" envDefault:"200"`

	EventsStream string `env:"EVENTS_STREAM" envDefault:"pokedex.seed.events"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}

	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...)))
		}
	}

	switch c.CacheBackend {
	case cache.BackendRedis, cache.BackendMemory, cache.BackendNone:
	default:
		check(false, "CACHE_BACKEND %q", c.CacheBackend)
	}
	check(c.CacheTTL > 0, "CACHE_TTL %s", c.CacheTTL)
	check(c.CacheListTTL > 0, "CACHE_LIST_TTL %s", c.CacheListTTL)
	check(c.PokeAPITimeout > 0, "POKEAPI_TIMEOUT %s", c.PokeAPITimeout)
	check(c.PokeAPIMaxAttempts >= 1, "POKEAPI_MAX_ATTEMPTS %d", c.PokeAPIMaxAttempts)
	check(c.PokeAPIBackoffInitial > 0 && c.PokeAPIBackoffMax >= c.PokeAPIBackoffInitial,
		"POKEAPI_BACKOFF_INITIAL %s / POKEAPI_BACKOFF_MAX %s", c.PokeAPIBackoffInitial, c.PokeAPIBackoffMax)
	check(c.PokeAPIRateLimit >= 0, "POKEAPI_RATE_LIMIT %g", c.PokeAPIRateLimit)
	check(c.SeedBatchSize >= 1, "SEED_BATCH_SIZE %d", c.SeedBatchSize)
	check(c.SeedBatchDelay >= 0, "SEED_BATCH_DELAY %s", c.SeedBatchDelay)
	check(c.SeedMaxConcurrency >= 0, "SEED_MAX_CONCURRENCY %d", c.SeedMaxConcurrency)
	check(c.SeedGracePeriod >= 0, "SEED_GRACE_PERIOD %s", c.SeedGracePeriod)
	check(c.SeedStartupTimeout > 0, "SEED_STARTUP_TIMEOUT %s", c.SeedStartupTimeout)
	check(c.RefreshInterval >= 0, "REFRESH_INTERVAL %s", c.RefreshInterval)
	check(c.RefreshHour >= 0 && c.RefreshHour < 24, "REFRESH_HOUR %d", c.RefreshHour)
	check(c.RefreshStaleAfter >= 0, "REFRESH_STALE_AFTER %s", c.RefreshStaleAfter)
	check(c.RefreshBatchLimit >= 1, "REFRESH_BATCH_LIMIT %d", c.RefreshBatchLimit)

	return errors.Join(errs...)
}

// CacheOptions returns the cache store settings.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{Prefix: c.CachePrefix, DefaultTTL: c.CacheTTL}
}

// PokeAPI returns the upstream client settings.
func (c *Config) PokeAPI() pokeapi.Config {
	cfg := pokeapi.DefaultConfig()
	cfg.BaseURL = c.PokeAPIBaseURL
	cfg.Timeout = c.PokeAPITimeout
	cfg.RateLimit = c.PokeAPIRateLimit
	cfg.Retry = retry.DefaultPolicy()
	cfg.Retry.MaxAttempts = c.PokeAPIMaxAttempts
	cfg.Retry.InitialInterval = c.PokeAPIBackoffInitial
	cfg.Retry.MaxInterval = c.PokeAPIBackoffMax
	return cfg
}

// Seeder returns the orchestrator settings. Logger and Reporter are left for
// the caller.
func (c *Config) Seeder() seeder.Config {
	cfg := seeder.DefaultConfig()
	cfg.BatchSize = c.SeedBatchSize
	cfg.BatchDelay = c.SeedBatchDelay
	cfg.MaxConcurrency = c.SeedMaxConcurrency
	cfg.GracePeriod = c.SeedGracePeriod
	cfg.CacheTTL = c.CacheTTL
	return cfg
}

// Scheduler returns the refresh scheduler settings.
func (c *Config) Scheduler() *scheduler.Config {
	return &scheduler.Config{
		CompletenessInterval: c.RefreshInterval,
		StaleRefreshHour:     c.RefreshHour,
		StaleAfter:           c.RefreshStaleAfter,
		StaleBatchLimit:      c.RefreshBatchLimit,
		EnableCompleteness:   c.SchedulerEnabled && c.RefreshInterval > 0,
		EnableStaleRefresh:   c.SchedulerEnabled && c.RefreshStaleAfter > 0,
	}
}
