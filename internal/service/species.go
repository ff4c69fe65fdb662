package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/store"
	"github.com/grimm00/pokedex-sub002/internal/store/repository"
)

// SpeciesReader is the read side of the species repository.
type SpeciesReader interface {
	GetByID(ctx context.Context, speciesID int) (*store.Species, error)
	List(ctx context.Context, limit, offset int) ([]*store.Species, error)
	ListRange(ctx context.Context, startID, endID int) ([]*store.Species, error)
	Count(ctx context.Context) (int, error)
	CountInRange(ctx context.Context, startID, endID int) (int, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// SpeciesService serves species reads through the cache. The cache is only an
// accelerator: any cache error falls through to the database.
type SpeciesService struct {
	repo     SpeciesReader
	cache    cache.Store
	registry *generation.Registry
	ttl      time.Duration
	listTTL  time.Duration
	log      *slog.Logger
}

// SpeciesServiceConfig holds cache TTLs. Zero values use the cache default.
type SpeciesServiceConfig struct {
	RecordTTL time.Duration
	ListTTL   time.Duration
	Logger    *slog.Logger
}

// NewSpeciesService creates a new species service
func NewSpeciesService(repo SpeciesReader, c cache.Store, registry *generation.Registry, cfg SpeciesServiceConfig) *SpeciesService {
	if c == nil {
		c = cache.NoopCache{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeciesService{
		repo:     repo,
		cache:    c,
		registry: registry,
		ttl:      cfg.RecordTTL,
		listTTL:  cfg.ListTTL,
		log:      logger.With("component", "species_service"),
	}
}

// SpeciesPage is one page of the full species listing.
type SpeciesPage struct {
	Items  []*store.Species `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// GenerationListing is a generation with its stored species.
type GenerationListing struct {
	Generation generation.Range `json:"generation"`
	Species    []*store.Species `json:"species"`
}

// GetSpecies returns one species, from cache when possible.
func (s *SpeciesService) GetSpecies(ctx context.Context, id int) (*store.Species, error) {
	key := strconv.Itoa(id)

	cached, hit, err := cache.GetJSON[store.Species](ctx, s.cache, cache.NamespaceSpecies, key)
	if err != nil {
		s.log.Debug("cache read failed", "id", id, "error", err)
	}
	if hit {
		return &cached, nil
	}

	species, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching species: %w", err)
	}

	if err := cache.SetJSON(ctx, s.cache, cache.NamespaceSpecies, key, species, s.ttl); err != nil {
		s.log.Debug("cache write failed", "id", id, "error", err)
	}
	return species, nil
}

// ListSpecies pages through every stored species by id.
func (s *SpeciesService) ListSpecies(ctx context.Context, limit, offset int) (*SpeciesPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset = max(offset, 0)

	items, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing species: %w", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting species: %w", err)
	}
	if items == nil {
		items = []*store.Species{}
	}
	return &SpeciesPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// ListGeneration returns the stored species of one generation. The listing is
// cached under species_list and dropped whenever a seed run writes.
func (s *SpeciesService) ListGeneration(ctx context.Context, index int) (*GenerationListing, error) {
	g, err := s.registry.RangeFor(index)
	if err != nil {
		return nil, err
	}
	key := listKey(index)

	cached, hit, err := cache.GetJSON[[]*store.Species](ctx, s.cache, cache.NamespaceSpeciesList, key)
	if err != nil {
		s.log.Debug("cache read failed", "key", key, "error", err)
	}
	if hit {
		return &GenerationListing{Generation: g, Species: cached}, nil
	}

	species, err := s.repo.ListRange(ctx, g.StartID, g.EndID)
	if err != nil {
		return nil, fmt.Errorf("listing generation %d: %w", index, err)
	}
	if species == nil {
		species = []*store.Species{}
	}

	if err := cache.SetJSON(ctx, s.cache, cache.NamespaceSpeciesList, key, species, s.listTTL); err != nil {
		s.log.Debug("cache write failed", "key", key, "error", err)
	}
	return &GenerationListing{Generation: g, Species: species}, nil
}

// Generations reports completeness for every configured generation.
func (s *SpeciesService) Generations(ctx context.Context) ([]generation.Status, error) {
	return s.registry.Summary(ctx, s.repo.CountInRange)
}

// Generation reports completeness for one generation.
func (s *SpeciesService) Generation(ctx context.Context, index int) (generation.Status, error) {
	return s.registry.Completeness(ctx, index, s.repo.CountInRange)
}

// Invalidate drops the cached copy of one species and the listing of its
// generation.
func (s *SpeciesService) Invalidate(ctx context.Context, id int) error {
	err := s.cache.Delete(ctx, cache.NamespaceSpecies, strconv.Itoa(id))
	if g, ok := s.registry.ForID(id); ok {
		err = errors.Join(err, s.cache.Delete(ctx, cache.NamespaceSpeciesList, listKey(g.Index)))
	}
	return err
}

// ClearResult summarizes ClearData.
type ClearResult struct {
	SpeciesDeleted int64 `json:"species_deleted"`
	CacheCleared   int   `json:"cache_cleared"`
}

// ClearData deletes every stored species and empties both species cache
// namespaces. Cache failures are logged, not returned.
func (s *SpeciesService) ClearData(ctx context.Context) (*ClearResult, error) {
	deleted, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("clearing species: %w", err)
	}

	res := &ClearResult{SpeciesDeleted: deleted}
	for _, ns := range cache.Namespaces() {
		n, err := s.cache.Clear(ctx, ns)
		if err != nil {
			s.log.Warn("failed to clear cache namespace", "namespace", ns, "error", err)
			continue
		}
		res.CacheCleared += n
	}

	s.log.Info("species data cleared", "deleted", deleted, "cache_keys", res.CacheCleared)
	return res, nil
}

// IsNotFound reports whether err means the species is not stored.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrSpeciesNotFound) || errors.Is(err, generation.ErrNotFound)
}

func listKey(index int) string {
	return "gen:" + strconv.Itoa(index)
}
