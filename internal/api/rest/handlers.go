package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/service"
	"github.com/grimm00/pokedex-sub002/internal/store"
)

// HealthChecker probes the primary store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SpeciesCatalog is the read side served under /api/v1/species and
// /api/v1/generations. *service.SpeciesService implements it.
type SpeciesCatalog interface {
	GetSpecies(ctx context.Context, id int) (*store.Species, error)
	ListSpecies(ctx context.Context, limit, offset int) (*service.SpeciesPage, error)
	ListGeneration(ctx context.Context, index int) (*service.GenerationListing, error)
	Generations(ctx context.Context) ([]generation.Status, error)
	Generation(ctx context.Context, index int) (generation.Status, error)
	Invalidate(ctx context.Context, id int) error
	ClearData(ctx context.Context) (*service.ClearResult, error)
}

// UpstreamStats exposes the species API client counters.
type UpstreamStats interface {
	Stats() pokeapi.Stats
}

const healthTimeout = 2 * time.Second

// Handler contains dependencies for HTTP handlers
type Handler struct {
	db       HealthChecker
	species  SpeciesCatalog
	cache    cache.Store
	upstream UpstreamStats
	version  string
}

// NewHandler creates a new handler
func NewHandler(deps Deps) *Handler {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		db:       deps.DB,
		species:  deps.Species,
		cache:    deps.Cache,
		upstream: deps.Upstream,
		version:  version,
	}
}

// HealthCheck reports database and cache health. A degraded cache leaves the
// service healthy enough to serve; a failed database does not.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	database := map[string]any{"status": "healthy"}
	if err := h.db.HealthCheck(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		database = map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	cacheHealth := h.cache.HealthCheck(ctx)
	if !cacheHealth.Healthy() && code == http.StatusOK {
		status = "degraded"
	}

	respondJSON(w, code, map[string]any{
		"status":   status,
		"service":  "pokedex",
		"version":  h.version,
		"database": database,
		"cache":    cacheHealth,
	})
}

// GetSpecies returns a specific species by ID
func (h *Handler) GetSpecies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "Invalid species ID")
	if !ok {
		return
	}

	species, err := h.species.GetSpecies(r.Context(), id)
	if err != nil {
		if service.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Species not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to fetch species", err)
		return
	}

	respondJSON(w, http.StatusOK, species)
}

// ListSpecies returns one page of stored species ordered by id.
func (h *Handler) ListSpecies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	page, err := h.species.ListSpecies(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list species", err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// ClearSpecies deletes every stored species and empties the species caches.
func (h *Handler) ClearSpecies(w http.ResponseWriter, r *http.Request) {
	res, err := h.species.ClearData(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to clear species data", err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// InvalidateSpecies drops the cached copy of one species.
func (h *Handler) InvalidateSpecies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "Invalid species ID")
	if !ok {
		return
	}

	if err := h.species.Invalidate(r.Context(), id); err != nil {
		respondError(w, http.StatusServiceUnavailable, "Cache unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Species cache invalidated",
		"id":      id,
	})
}

// ListGenerations returns every generation with its completeness.
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.species.Generations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch generations", err)
		return
	}

	complete := 0
	for _, s := range statuses {
		if s.IsComplete {
			complete++
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"generations": statuses,
		"count":       len(statuses),
		"complete":    complete,
	})
}

// GetGeneration returns one generation with its completeness.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index", "Invalid generation index")
	if !ok {
		return
	}

	status, err := h.species.Generation(r.Context(), index)
	if err != nil {
		if service.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Generation not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to fetch generation", err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// GetGenerationSpecies returns the stored species of one generation.
func (h *Handler) GetGenerationSpecies(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index", "Invalid generation index")
	if !ok {
		return
	}

	listing, err := h.species.ListGeneration(r.Context(), index)
	if err != nil {
		if service.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Generation not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to fetch generation species", err)
		return
	}

	respondJSON(w, http.StatusOK, listing)
}

// GetUpstreamStats returns the species API client counters.
func (h *Handler) GetUpstreamStats(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		respondError(w, http.StatusNotFound, "Upstream client not configured", nil)
		return
	}

	stats := h.upstream.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"requests":           stats.Requests,
		"successes":          stats.Successes,
		"failures":           stats.Failures,
		"not_found":          stats.NotFound,
		"retries":            stats.Retries,
		"success_rate":       stats.SuccessRate,
		"average_latency_ms": stats.AverageLatency.Milliseconds(),
		"quota_remaining":    stats.QuotaRemaining,
	})
}

func pathInt(w http.ResponseWriter, r *http.Request, name, message string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, message, err)
		return 0, false
	}
	return n, true
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
