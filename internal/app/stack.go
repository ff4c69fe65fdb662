// Package app wires the components shared by the service and the seed CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/config"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/metrics"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/retry"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
	"github.com/grimm00/pokedex-sub002/internal/service"
	"github.com/grimm00/pokedex-sub002/internal/store"
	"github.com/grimm00/pokedex-sub002/internal/store/repository"
)

// Stack is the set of long-lived components both binaries need.
type Stack struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *store.Database
	Cache    cache.Store
	Redis    *redis.Client // nil unless CACHE_BACKEND=redis
	Registry *generation.Registry
	Client   *pokeapi.Client
	Species  *repository.SpeciesRepository
	Catalog  *service.SpeciesService
	Metrics  *metrics.Metrics
}

// Options tweak Open.
type Options struct {
	// CacheWait bounds how long Open waits for the cache to answer. Zero skips
	// the wait; the stack then starts degraded if the cache is down.
	CacheWait time.Duration
}

// Open connects the database, applies migrations and builds the rest of the
// stack. The cache is never fatal: a dead Redis leaves it degraded.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("✓ Connected to database", "dialect", db.Dialect())

	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("✓ Database migrations applied")

	registry, err := generation.Load(cfg.GenerationsFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load generations: %w", err)
	}

	cacheStore, err := cache.Open(cfg.CacheBackend, cfg.RedisURL, cfg.CacheOptions())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	m, err := metrics.New(nil)
	if err != nil {
		db.Close()
		cacheStore.Close()
		return nil, err
	}

	clientCfg := cfg.PokeAPI()
	clientCfg.Logger = logger
	clientCfg.Observer = m

	species := repository.NewSpeciesRepository(db)
	s := &Stack{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Cache:    cacheStore,
		Registry: registry,
		Client:   pokeapi.NewClient(clientCfg),
		Species:  species,
		Metrics:  m,
		Catalog: service.NewSpeciesService(species, cacheStore, registry, service.SpeciesServiceConfig{
			RecordTTL: cfg.CacheTTL,
			ListTTL:   cfg.CacheListTTL,
			Logger:    logger,
		}),
	}
	if rc, ok := cacheStore.(*cache.RedisCache); ok {
		s.Redis = rc.Client()
	}

	if opts.CacheWait > 0 {
		s.waitForCache(ctx, opts.CacheWait)
	}
	return s, nil
}

// waitForCache polls the cache health until it answers or wait elapses.
func (s *Stack) waitForCache(ctx context.Context, wait time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:     30,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      1.5,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.Logger.Info("cache not ready", "attempt", attempt, "error", err, "retry_in", delay)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		if h := s.Cache.HealthCheck(ctx); !h.Healthy() {
			return errors.New(h.Error)
		}
		return nil
	})
	if err != nil {
		s.Logger.Warn("⚠️  cache unavailable, continuing without it", "backend", s.Config.CacheBackend, "error", err)
		return
	}
	s.Logger.Info("✓ Connected to cache", "backend", s.Config.CacheBackend)
}

// Seeder builds an orchestrator reporting to the metrics collector and any
// extra reporters.
func (s *Stack) Seeder(reporters ...seeder.Reporter) *seeder.Orchestrator {
	cfg := s.Config.Seeder()
	cfg.Logger = s.Logger
	cfg.Reporter = seeder.Reporters(append([]seeder.Reporter{s.Metrics}, reporters...)...)
	return seeder.New(s.Client, s.Species, s.Cache, s.Registry, cfg)
}

// Close releases the cache and the database.
func (s *Stack) Close() error {
	return errors.Join(s.Cache.Close(), s.DB.Close())
}
