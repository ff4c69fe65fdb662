// Package seeder populates the species store from PokéAPI.
//
// A run walks an id range in batches of consecutive ids. Each id is looked up
// in the cache, fetched on a miss, transformed and upserted, then written back
// to the cache. Individual failures are recorded in the Result and never stop
// the run. When the caller's context ends, no new fetches start; the run
// waits for in-flight ids up to a grace period and returns what it has.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/store"
	"github.com/grimm00/pokedex-sub002/internal/transform"
)

var (
	ErrInvalidRange     = errors.New("invalid id range")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

const (
	DefaultBatchSize   = 10
	DefaultBatchDelay  = 250 * time.Millisecond
	DefaultGracePeriod = 5 * time.Second
	DefaultCacheTTL    = time.Hour

	// MaxRangeSize bounds a single SeedRange call.
	MaxRangeSize = 100_000

	// store and cache writes for an id that was already fetched
	writeTimeout = 10 * time.Second
	lockStripes  = 64
)

// Fetcher retrieves the raw upstream document for one species.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (pokeapi.Payload, error)
}

// SpeciesStore is the slice of the primary store the seeder needs.
type SpeciesStore interface {
	Upsert(ctx context.Context, s *store.Species) (created bool, err error)
	CountInRange(ctx context.Context, startID, endID int) (int, error)
}

// Config holds orchestrator defaults. Zero BatchDelay disables pacing.
type Config struct {
	BatchSize      int
	MaxConcurrency int
	BatchDelay     time.Duration
	GracePeriod    time.Duration
	CacheTTL       time.Duration
	Logger         *slog.Logger
	Reporter       Reporter
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		BatchDelay:  DefaultBatchDelay,
		GracePeriod: DefaultGracePeriod,
		CacheTTL:    DefaultCacheTTL,
	}
}

// Options tune a single run.
type Options struct {
	// BatchSize of 0 uses the configured default.
	BatchSize int
	// ForceRefresh skips the cache read and always fetches.
	ForceRefresh bool
	// Reporter receives progress for this run only, after the configured one.
	Reporter Reporter
}

// Orchestrator drives seeding runs. It is safe for concurrent use.
type Orchestrator struct {
	fetcher  Fetcher
	species  SpeciesStore
	cache    cache.Store
	registry *generation.Registry
	cfg      Config
	log      *slog.Logger

	locks [lockStripes]sync.Mutex
}

// New wires an orchestrator. A nil cache runs every seed with the cache
// bypassed.
func New(fetcher Fetcher, species SpeciesStore, c cache.Store, registry *generation.Registry, cfg Config) *Orchestrator {
	if c == nil {
		c = cache.NoopCache{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NopReporter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		fetcher:  fetcher,
		species:  species,
		cache:    c,
		registry: registry,
		cfg:      cfg,
		log:      logger.With("component", "seeder"),
	}
}

// Registry exposes the generation table the orchestrator seeds from.
func (o *Orchestrator) Registry() *generation.Registry {
	return o.registry
}

// SeedRange seeds every id in [startID, endID].
func (o *Orchestrator) SeedRange(ctx context.Context, startID, endID int, opts Options) (*Result, error) {
	if startID < 1 || endID < startID {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, startID, endID)
	}
	if endID-startID+1 > MaxRangeSize {
		return nil, fmt.Errorf("%w: %d-%d spans more than %d ids", ErrInvalidRange, startID, endID, MaxRangeSize)
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, opts.BatchSize)
	}

	return o.run(ctx, fmt.Sprintf("range %d-%d", startID, endID), idRange(startID, endID), opts), nil
}

// SeedGeneration seeds the id range of one generation.
func (o *Orchestrator) SeedGeneration(ctx context.Context, index int, opts Options) (*Result, error) {
	g, err := o.registry.RangeFor(index)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, opts.BatchSize)
	}

	return o.run(ctx, fmt.Sprintf("generation %d (%s)", g.Index, g.Region), idRange(g.StartID, g.EndID), opts), nil
}

// SeedAllGenerations seeds every configured generation in index order as a
// single run. Wrap ctx in a deadline to bound it; the Result is partial when
// the deadline hits first.
func (o *Orchestrator) SeedAllGenerations(ctx context.Context, opts Options) (*Result, error) {
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, opts.BatchSize)
	}

	var ids []int
	for _, g := range o.registry.All() {
		ids = append(ids, idRange(g.StartID, g.EndID)...)
	}
	return o.run(ctx, "all generations", ids, opts), nil
}

// SeedIDs seeds an arbitrary set of ids, typically Result.FailedIDs of an
// earlier run. Duplicates are ignored and ids run in ascending order.
func (o *Orchestrator) SeedIDs(ctx context.Context, ids []int, opts Options) (*Result, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no ids", ErrInvalidRange)
	}
	if len(ids) > MaxRangeSize {
		return nil, fmt.Errorf("%w: more than %d ids", ErrInvalidRange, MaxRangeSize)
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, opts.BatchSize)
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if sorted[0] < 1 {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidRange, sorted[0])
	}

	return o.run(ctx, fmt.Sprintf("%d ids", len(sorted)), sorted, opts), nil
}

// Refresh re-fetches one species regardless of the cache.
func (o *Orchestrator) Refresh(ctx context.Context, id int) (*Result, error) {
	return o.SeedIDs(ctx, []int{id}, Options{BatchSize: 1, ForceRefresh: true})
}

// Incomplete returns the generations whose stored count is below the
// expected count.
func (o *Orchestrator) Incomplete(ctx context.Context) ([]generation.Status, error) {
	summary, err := o.registry.Summary(ctx, o.species.CountInRange)
	if err != nil {
		return nil, err
	}
	var out []generation.Status
	for _, s := range summary {
		if !s.IsComplete {
			out = append(out, s)
		}
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, scope string, ids []int, opts Options) *Result {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = o.cfg.BatchSize
	}
	concurrency := batchSize
	if o.cfg.MaxConcurrency > 0 && o.cfg.MaxConcurrency < concurrency {
		concurrency = o.cfg.MaxConcurrency
	}

	reporter := o.cfg.Reporter
	if opts.Reporter != nil {
		reporter = Reporters(reporter, opts.Reporter)
	}

	runID := uuid.NewString()
	acc := newTally(runID, scope, len(ids), time.Now().UTC())
	log := o.log.With("run_id", runID)

	health := o.cache.HealthCheck(ctx)
	useCache := health.Healthy()
	if !useCache {
		acc.bypassCache()
		log.Warn("cache unavailable, seeding without it", "backend", health.Backend, "error", health.Error)
	}

	batches := partition(ids, batchSize)
	reporter.OnRunStart(RunInfo{
		RunID:         runID,
		Scope:         scope,
		Total:         len(ids),
		Batches:       len(batches),
		BatchSize:     batchSize,
		ForceRefresh:  opts.ForceRefresh,
		CacheBypassed: !useCache,
	})

	w := &worker{o: o, acc: acc, reporter: reporter, runID: runID, force: opts.ForceRefresh, useCache: useCache}

	stopReason := ""
	for i, batch := range batches {
		if i > 0 && !o.pace(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		reporter.OnBatchStart(BatchInfo{
			RunID:   runID,
			Index:   i + 1,
			Of:      len(batches),
			FirstID: batch[0],
			LastID:  batch[len(batch)-1],
			Size:    len(batch),
		})

		if drained := o.runBatch(ctx, w, batch, concurrency); !drained {
			log.Warn("grace period elapsed with fetches in flight", "batch", i+1, "grace", o.cfg.GracePeriod)
			break
		}
	}
	if err := ctx.Err(); err != nil {
		stopReason = context.Cause(ctx).Error()
	}

	res := acc.close(stopReason, time.Now().UTC())

	if useCache && res.Succeeded() > 0 {
		o.invalidateListings(ctx, log)
	}

	reporter.OnRunComplete(res)
	return res
}

// runBatch processes one batch and reports whether every started id finished.
// After ctx ends it waits at most the grace period for in-flight ids.
func (o *Orchestrator) runBatch(ctx context.Context, w *worker, batch []int, concurrency int) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var g errgroup.Group
		g.SetLimit(concurrency)
		for _, id := range batch {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				w.seedOne(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
	}

	grace := time.NewTimer(o.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
		return true
	case <-grace.C:
		return false
	}
}

// pace sleeps for the inter-batch delay. It reports false if ctx ended first.
func (o *Orchestrator) pace(ctx context.Context) bool {
	if o.cfg.BatchDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(o.cfg.BatchDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// invalidateListings drops cached generation listings after writes. Once ctx
// has ended it only gets whatever is left of the grace period, counted from
// the deadline.
func (o *Orchestrator) invalidateListings(ctx context.Context, log *slog.Logger) {
	budget := writeTimeout
	if ctx.Err() != nil {
		graceEnd := time.Now().Add(o.cfg.GracePeriod)
		if dl, ok := ctx.Deadline(); ok {
			graceEnd = dl.Add(o.cfg.GracePeriod)
		}
		budget = min(budget, time.Until(graceEnd))
		if budget <= 0 {
			log.Warn("grace period spent, cached listings left to expire")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	if _, err := o.cache.Clear(ctx, cache.NamespaceSpeciesList); err != nil {
		log.Warn("failed to invalidate cached listings", "error", err)
	}
}

func (o *Orchestrator) lockFor(id int) *sync.Mutex {
	return &o.locks[id%lockStripes]
}

// worker carries the per-run state shared by the goroutines of a run.
type worker struct {
	o        *Orchestrator
	acc      *tally
	reporter Reporter
	runID    string
	force    bool
	useCache bool
}

func (w *worker) seedOne(ctx context.Context, id int) {
	start := time.Now()
	out := w.process(ctx, id)
	out.RunID = w.runID
	out.ID = id
	out.Elapsed = time.Since(start)

	if w.acc.record(out) {
		w.reporter.OnOutcome(out)
	}
}

// process walks one id through
// Pending -> (CacheHit | Fetching) -> (Fetched | NotFound | TransientFailure)
// -> (Transformed | TransformFailure) -> Upserted.
func (w *worker) process(ctx context.Context, id int) Outcome {
	mu := w.o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	key := strconv.Itoa(id)

	if w.useCache && !w.force {
		_, hit, err := w.o.cache.Get(ctx, cache.NamespaceSpecies, key)
		if err != nil {
			w.o.log.Debug("cache read failed, treating as miss", "id", id, "error", err)
		}
		if hit {
			return Outcome{State: StateSkippedCached}
		}
	}

	if ctx.Err() != nil {
		return Outcome{State: StateNotStarted}
	}

	raw, err := w.o.fetcher.Fetch(ctx, id)
	if err != nil {
		var (
			nf *pokeapi.NotFoundError
			ns *pokeapi.NotSentError
		)
		switch {
		case errors.As(err, &ns):
			return Outcome{State: StateNotStarted}
		case errors.As(err, &nf):
			return Outcome{State: StateSkippedNotFound, Reason: err.Error()}
		}
		return Outcome{State: StateFailed, Kind: fetchKind(err), Reason: err.Error()}
	}

	species, warnings, err := transform.Species(raw)
	if err != nil {
		return Outcome{State: StateFailed, Kind: KindValidation, Reason: err.Error()}
	}
	if species.SpeciesID != id {
		return Outcome{State: StateFailed, Kind: KindValidation, Reason: fmt.Sprintf("upstream returned id %d", species.SpeciesID)}
	}
	for _, warn := range warnings {
		w.o.log.Debug("species payload warning", "id", id, "field", warn.Field, "message", warn.Message)
	}

	// The fetch already happened; finish the write even if the run is
	// being cancelled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	created, err := w.o.species.Upsert(wctx, species)
	if err != nil {
		return Outcome{State: StateFailed, Kind: KindStore, Reason: err.Error()}
	}

	if w.useCache {
		if err := cache.SetJSON(wctx, w.o.cache, cache.NamespaceSpecies, key, species, w.o.cfg.CacheTTL); err != nil {
			w.o.log.Debug("cache write failed", "id", id, "error", err)
		}
	}

	return Outcome{State: StateUpserted, Created: created}
}

func fetchKind(err error) string {
	var (
		te *pokeapi.TransientError
		me *pokeapi.MalformedResponseError
		se *pokeapi.StatusError
	)
	switch {
	case errors.As(err, &te):
		return KindTransient
	case errors.As(err, &me):
		return KindMalformed
	case errors.As(err, &se):
		return KindStatus
	default:
		return KindUpstream
	}
}

func idRange(startID, endID int) []int {
	ids := make([]int, 0, endID-startID+1)
	for id := startID; id <= endID; id++ {
		ids = append(ids, id)
	}
	return ids
}

func partition(ids []int, size int) [][]int {
	batches := make([][]int, 0, (len(ids)+size-1)/size)
	for len(ids) > 0 {
		n := min(size, len(ids))
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}
