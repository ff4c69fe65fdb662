package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/api/rest"
	"github.com/grimm00/pokedex-sub002/internal/api/websocket"
	"github.com/grimm00/pokedex-sub002/internal/app"
	"github.com/grimm00/pokedex-sub002/internal/config"
	"github.com/grimm00/pokedex-sub002/internal/jobs"
	"github.com/grimm00/pokedex-sub002/internal/logging"
	"github.com/grimm00/pokedex-sub002/internal/publisher"
	"github.com/grimm00/pokedex-sub002/internal/scheduler"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

const (
	serviceName    = "pokedex"
	serviceVersion = "1.0.0"

	cacheWait       = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat, serviceName)
	slog.SetDefault(logger)
	logger.Info("Starting Pokedex species service", "version", serviceVersion)

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Open(ctx, cfg, logger, app.Options{CacheWait: cacheWait})
	if err != nil {
		return err
	}
	defer stack.Close()

	// WebSocket hub runs from the start so startup seeding is observable.
	wsServer := websocket.NewServer(logger)
	reporters := []seeder.Reporter{
		seeder.NewLogReporter(logger),
		websocket.NewProgressReporter(wsServer.Hub()),
	}

	var events *publisher.RedisStreamPublisher
	if stack.Redis != nil {
		events = publisher.NewRedisStreamPublisher(stack.Redis, cfg.EventsStream, logger)
		defer events.Close()
		reporters = append(reporters, events)
		logger.Info("✓ Redis stream publisher initialized", "stream", cfg.EventsStream)
	}

	orch := stack.Seeder(reporters...)

	go func() {
		logger.Info("Starting WebSocket server", "port", cfg.WSPort)
		if err := wsServer.Start(cfg.WSPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket server error", "error", err)
		}
	}()

	if cfg.SeedOnStartup {
		app.SeedOnStartup(ctx, orch, cfg.SeedStartupTimeout, logger)
	}

	// Initialize seed job service
	jobService := jobs.NewService(orch, stack.Registry, logger)
	jobService.Start()
	logger.Info("✓ Seed job service started")

	// Initialize scheduler
	sched := scheduler.NewOrchestrator(jobService, orch, stack.Species, cfg.Scheduler(), logger)
	sched.Start(ctx)
	logger.Info("✓ Scheduler started")

	// Initialize REST API server
	restServer := rest.NewServer(cfg.RESTPort, rest.Deps{
		DB:             stack.DB,
		Species:        stack.Catalog,
		Jobs:           jobService,
		Scheduler:      sched,
		Cache:          stack.Cache,
		Upstream:       stack.Client,
		Metrics:        stack.Metrics,
		MetricsHandler: stack.Metrics.Handler(),
		Version:        serviceVersion,
		Logger:         logger,
	})
	go func() {
		logger.Info("Starting REST API server", "port", cfg.RESTPort)
		if err := restServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("REST server error", "error", err)
		}
	}()

	logger.Info("✓ Pokedex started successfully",
		"rest", "http://0.0.0.0:"+cfg.RESTPort,
		"websocket", "ws://0.0.0.0:"+cfg.WSPort)

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutting down Pokedex gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST API server shutdown error", "error", err)
	}
	if err := jobService.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job service shutdown error", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket server shutdown error", "error", err)
	}

	logger.Info("Pokedex stopped")
	return nil
}
