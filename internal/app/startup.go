package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

// StartupSeeder is the orchestrator surface used at boot.
type StartupSeeder interface {
	Incomplete(ctx context.Context) ([]generation.Status, error)
	SeedAllGenerations(ctx context.Context, opts seeder.Options) (*seeder.Result, error)
}

// SeedOnStartup tops up incomplete generations before the service starts
// serving. The run is bounded by timeout; a partial or failed run is logged
// and never stops startup. It returns nil when nothing needed seeding.
func SeedOnStartup(ctx context.Context, s StartupSeeder, timeout time.Duration, logger *slog.Logger) *seeder.Result {
	incomplete, err := s.Incomplete(ctx)
	if err != nil {
		logger.Warn("⚠️  startup completeness check failed", "error", err)
		return nil
	}
	if len(incomplete) == 0 {
		logger.Info("✓ All generations complete, skipping startup seed")
		return nil
	}

	for _, g := range incomplete {
		logger.Info("generation incomplete",
			"generation", g.Index,
			"region", g.Region,
			"observed", g.ObservedCount,
			"expected", g.ExpectedCount)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.SeedAllGenerations(ctx, seeder.Options{})
	if err != nil {
		logger.Warn("⚠️  startup seed failed", "error", err)
		return nil
	}

	if res.Partial {
		logger.Warn("⚠️  startup seed stopped early, continuing",
			"remaining", res.Remaining,
			"stop_reason", res.StopReason)
	} else {
		logger.Info("✓ Startup seed complete",
			"created", res.Created,
			"updated", res.Updated,
			"failed", res.Failed,
			"duration_ms", res.DurationMS)
	}
	return res
}
