package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/jobs"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/scheduler"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
	"github.com/grimm00/pokedex-sub002/internal/service"
	"github.com/grimm00/pokedex-sub002/internal/store"
	"github.com/grimm00/pokedex-sub002/internal/store/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

type fakeCatalog struct {
	species     map[int]*store.Species
	invalidated []int
	cleared     bool
}

func (f *fakeCatalog) GetSpecies(_ context.Context, id int) (*store.Species, error) {
	if s, ok := f.species[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("species %d: %w", id, repository.ErrSpeciesNotFound)
}

func (f *fakeCatalog) ListSpecies(_ context.Context, limit, offset int) (*service.SpeciesPage, error) {
	return &service.SpeciesPage{Items: []*store.Species{f.species[25]}, Total: len(f.species), Limit: limit, Offset: offset}, nil
}

func (f *fakeCatalog) ListGeneration(_ context.Context, index int) (*service.GenerationListing, error) {
	if index != 1 {
		return nil, generation.ErrNotFound
	}
	return &service.GenerationListing{Generation: generation.Range{Index: 1, Region: "Kanto"}, Species: []*store.Species{f.species[25]}}, nil
}

func (f *fakeCatalog) Generations(context.Context) ([]generation.Status, error) {
	return []generation.Status{
		{Range: generation.Range{Index: 1}, ExpectedCount: 151, ObservedCount: 151, IsComplete: true},
		{Range: generation.Range{Index: 2}, ExpectedCount: 100, ObservedCount: 3},
	}, nil
}

func (f *fakeCatalog) Generation(_ context.Context, index int) (generation.Status, error) {
	if index != 1 {
		return generation.Status{}, fmt.Errorf("generation %d: %w", index, generation.ErrNotFound)
	}
	return generation.Status{Range: generation.Range{Index: 1, Region: "Kanto"}, ExpectedCount: 151}, nil
}

func (f *fakeCatalog) Invalidate(_ context.Context, id int) error {
	f.invalidated = append(f.invalidated, id)
	return nil
}

func (f *fakeCatalog) ClearData(context.Context) (*service.ClearResult, error) {
	f.cleared = true
	return &service.ClearResult{SpeciesDeleted: int64(len(f.species)), CacheCleared: 2}, nil
}

type fakeJobs struct {
	mu       sync.Mutex
	requests []jobs.Request
	err      error
	jobs     map[string]*jobs.Job
}

func (f *fakeJobs) Enqueue(_ context.Context, req jobs.Request) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &jobs.Job{JobID: "job-1", Status: jobs.JobStatusQueued}, nil
}

func (f *fakeJobs) Get(id string) (*jobs.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, jobs.ErrJobNotFound
}

func (f *fakeJobs) Cancel(id string) (*jobs.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if j.Status.Finished() {
		return nil, jobs.ErrJobFinished
	}
	return j, nil
}

func (f *fakeJobs) GetStatus(context.Context) (*jobs.StatusSummary, error) {
	return &jobs.StatusSummary{
		ActiveJob: f.jobs["running"],
		Queued:    []*jobs.Job{},
		History:   []*jobs.Job{f.jobs["done"]},
	}, nil
}

type fakeScheduler struct{}

func (fakeScheduler) GetStatus() scheduler.Status {
	return scheduler.Status{Running: true, CompletenessEnabled: true, CompletenessInterval: "6h0m0s", StaleAfter: "168h0m0s", StaleRefreshHour: 3}
}

type fakeUpstream struct{}

func (fakeUpstream) Stats() pokeapi.Stats {
	return pokeapi.Stats{Requests: 10, Successes: 9, NotFound: 1, AverageLatency: 120 * time.Millisecond, SuccessRate: 90, QuotaRemaining: -1}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingObserver) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

type fixture struct {
	handler  http.Handler
	catalog  *fakeCatalog
	jobs     *fakeJobs
	cache    cache.Store
	observer *recordingObserver
}

func newFixture(t *testing.T, db fakeDB, c cache.Store) *fixture {
	t.Helper()
	if c == nil {
		c = cache.NewMemoryCache(cache.Options{Prefix: "test"})
	}
	f := &fixture{
		catalog: &fakeCatalog{species: map[int]*store.Species{
			25: {SpeciesID: 25, Name: "pikachu"},
		}},
		jobs: &fakeJobs{jobs: map[string]*jobs.Job{
			"running": {JobID: "running", Status: jobs.JobStatusRunning, StatusMessage: "Seeding batch 2/5"},
			"done":    {JobID: "done", Status: jobs.JobStatusCompleted},
		}},
		cache:    c,
		observer: &recordingObserver{},
	}
	srv := NewServer("0", Deps{
		DB:             db,
		Species:        f.catalog,
		Jobs:           f.jobs,
		Scheduler:      fakeScheduler{},
		Cache:          c,
		Upstream:       fakeUpstream{},
		Metrics:        f.observer,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "pokedex_up 1") }),
		Version:        "test",
		Logger:         discardLogger(),
	})
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)
	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	f = newFixture(t, fakeDB{}, cache.NoopCache{})
	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	f = newFixture(t, fakeDB{err: errors.New("connection refused")}, nil)
	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)
	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pokedex_up 1", rec.Body.String())
}

func TestSpeciesRoutes(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)

	rec, body := f.do(t, http.MethodGet, "/api/v1/species/25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pikachu", body["name"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/species/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Species not found", body["error"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/species/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/v1/species?limit=20&offset=40", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 20, body["limit"])
	assert.EqualValues(t, 40, body["offset"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/species?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/species/25/cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{25}, f.catalog.invalidated)

	rec, body = f.do(t, http.MethodDelete, "/api/v1/species", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.catalog.cleared)
	assert.EqualValues(t, 1, body["species_deleted"])
}

func TestGenerationRoutes(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)

	rec, body := f.do(t, http.MethodGet, "/api/v1/generations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["complete"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/generations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kanto", body["region"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/generations/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/v1/generations/1/species", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["species"], 1)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/generations/9/species", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpstreamStats(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)
	rec, body := f.do(t, http.MethodGet, "/api/v1/upstream/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, body["requests"])
	assert.EqualValues(t, 120, body["average_latency_ms"])
}

func TestSeedRequest(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)

	rec, body := f.do(t, http.MethodPost, "/api/v1/seed", `{"generation":4,"batch_size":20,"force":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-1", body["job"].(map[string]any)["job_id"])
	assert.Equal(t, jobs.Request{Generation: 4, BatchSize: 20, Force: true, Source: "api"}, f.jobs.requests[0])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/seed", `{"ids":[1,2],"id":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int{1, 2, 3}, f.jobs.requests[1].IDs)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/seed", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.jobs.err = fmt.Errorf("%w: 10-1", seeder.ErrInvalidRange)
	rec, _ = f.do(t, http.MethodPost, "/api/v1/seed", `{"start_id":10,"end_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.jobs.err = jobs.ErrQueueFull
	rec, _ = f.do(t, http.MethodPost, "/api/v1/seed", `{"all":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSeedStatusAndJobs(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)

	rec, body := f.do(t, http.MethodGet, "/api/v1/seed/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Seeding batch 2/5", body["message"])
	assert.Len(t, body["recent_jobs"], 1)
	sched, ok := body["scheduler"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, sched["running"])
	assert.Equal(t, "6h0m0s", sched["completeness_interval"])
	assert.NotContains(t, sched, "last_stale_refresh")

	rec, body = f.do(t, http.MethodGet, "/api/v1/seed/jobs/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/seed/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/seed/jobs/running", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/seed/jobs/done", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/seed/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)
	ctx := t.Context()
	require.NoError(t, f.cache.Set(ctx, cache.NamespaceSpecies, "25", []byte(`{}`), 0))
	require.NoError(t, f.cache.Set(ctx, cache.NamespaceSpecies, "26", []byte(`{}`), 0))
	require.NoError(t, f.cache.Set(ctx, cache.NamespaceSpeciesList, "gen:1", []byte(`[]`), 0))

	rec, body := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["sets"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/cache/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/cache/species/25", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, hit, _ := f.cache.Get(ctx, cache.NamespaceSpecies, "25")
	assert.False(t, hit)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/cache/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodDelete, "/api/v1/cache/species_list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["cleared"])

	rec, body = f.do(t, http.MethodDelete, "/api/v1/cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["cleared"])
}

func TestCacheHealthDegraded(t *testing.T) {
	f := newFixture(t, fakeDB{}, cache.NoopCache{})
	rec, body := f.do(t, http.MethodGet, "/api/v1/cache/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, fakeDB{}, nil)

	rec, _ := f.do(t, http.MethodOptions, "/api/v1/seed", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/species/25", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	assert.Contains(t, f.observer.routes, "GET /api/v1/species/{id} 200")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
