package rest

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grimm00/pokedex-sub002/internal/cache"
)

// CacheHandler serves the cache admin routes.
type CacheHandler struct {
	cache cache.Store
	log   *slog.Logger
}

// NewCacheHandler creates a cache admin handler.
func NewCacheHandler(c cache.Store, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{cache: c, log: logger}
}

// GetStats handles GET /api/v1/cache/stats
func (h *CacheHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "Cache unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// GetHealth handles GET /api/v1/cache/health. A degraded cache answers 503.
func (h *CacheHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.cache.HealthCheck(r.Context())

	code := http.StatusOK
	if !health.Healthy() {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, health)
}

// ClearAll handles DELETE /api/v1/cache
func (h *CacheHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	cleared := map[string]int{}
	total := 0
	for _, ns := range cache.Namespaces() {
		n, err := h.cache.Clear(r.Context(), ns)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "Cache unavailable", err)
			return
		}
		cleared[string(ns)] = n
		total += n
	}

	h.log.Info("cache cleared", "keys", total)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    "Cache cleared",
		"namespaces": cleared,
		"cleared":    total,
	})
}

// ClearNamespace handles DELETE /api/v1/cache/{namespace}
func (h *CacheHandler) ClearNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := cache.ParseNamespace(mux.Vars(r)["namespace"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unknown cache namespace", err)
		return
	}

	n, err := h.cache.Clear(r.Context(), ns)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "Cache unavailable", err)
		return
	}

	h.log.Info("cache namespace cleared", "namespace", ns, "keys", n)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Cache namespace cleared",
		"namespace": ns,
		"cleared":   n,
	})
}

// DeleteKey handles DELETE /api/v1/cache/{namespace}/{key}
func (h *CacheHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, err := cache.ParseNamespace(vars["namespace"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unknown cache namespace", err)
		return
	}

	if err := h.cache.Delete(r.Context(), ns, vars["key"]); err != nil {
		respondError(w, http.StatusServiceUnavailable, "Cache unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Cache key invalidated",
		"namespace": ns,
		"key":       vars["key"],
	})
}
