package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/grimm00/pokedex-sub002/internal/cache"
)

// Deps are the collaborators the API serves. Scheduler, Upstream, Metrics and
// MetricsHandler are optional.
type Deps struct {
	DB             HealthChecker
	Species        SpeciesCatalog
	Jobs           SeedJobs
	Scheduler      SchedulerStatus
	Cache          cache.Store
	Upstream       UpstreamStats
	Metrics        HTTPObserver
	MetricsHandler http.Handler
	Version        string
	Logger         *slog.Logger
}

// Server represents the REST API server
type Server struct {
	port    string
	server  *http.Server
	handler http.Handler
}

// NewServer creates a new REST API server
func NewServer(port string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rest")
	if deps.Cache == nil {
		deps.Cache = cache.NoopCache{}
	}

	handler := NewHandler(deps)
	seedHandler := NewSeedHandler(deps.Jobs, deps.Scheduler)
	cacheHandler := NewCacheHandler(deps.Cache, logger)

	router := mux.NewRouter()

	// Apply middleware
	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware)
	router.Use(LoggingMiddleware(logger, deps.Metrics))

	// Health check
	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if deps.MetricsHandler != nil {
		router.Handle("/metrics", deps.MetricsHandler).Methods("GET")
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Species
	api.HandleFunc("/species", handler.ListSpecies).Methods("GET")
	api.HandleFunc("/species", handler.ClearSpecies).Methods("DELETE")
	api.HandleFunc("/species/{id}", handler.GetSpecies).Methods("GET")
	api.HandleFunc("/species/{id}/cache", handler.InvalidateSpecies).Methods("DELETE")

	// Generations
	api.HandleFunc("/generations", handler.ListGenerations).Methods("GET")
	api.HandleFunc("/generations/{index}", handler.GetGeneration).Methods("GET")
	api.HandleFunc("/generations/{index}/species", handler.GetGenerationSpecies).Methods("GET")

	// Upstream
	api.HandleFunc("/upstream/stats", handler.GetUpstreamStats).Methods("GET")

	// Seeding
	api.HandleFunc("/seed", seedHandler.HandleSeedRequest).Methods("POST")
	api.HandleFunc("/seed/status", seedHandler.HandleSeedStatus).Methods("GET")
	api.HandleFunc("/seed/jobs/{jobID}", seedHandler.HandleGetJob).Methods("GET")
	api.HandleFunc("/seed/jobs/{jobID}", seedHandler.HandleCancelJob).Methods("DELETE")

	// Cache
	api.HandleFunc("/cache/stats", cacheHandler.GetStats).Methods("GET")
	api.HandleFunc("/cache/health", cacheHandler.GetHealth).Methods("GET")
	api.HandleFunc("/cache", cacheHandler.ClearAll).Methods("DELETE")
	api.HandleFunc("/cache/{namespace}", cacheHandler.ClearNamespace).Methods("DELETE")
	api.HandleFunc("/cache/{namespace}/{key}", cacheHandler.DeleteKey).Methods("DELETE")

	// CORS wraps the router so preflight requests never reach method matching.
	root := CORSMiddleware(router)

	return &Server{
		port:    port,
		handler: root,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start starts the REST API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
