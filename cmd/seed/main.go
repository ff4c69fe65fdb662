package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grimm00/pokedex-sub002/internal/app"
	"github.com/grimm00/pokedex-sub002/internal/config"
	"github.com/grimm00/pokedex-sub002/internal/logging"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

const (
	appName    = "pokedex-seed"
	appVersion = "1.0.0"
)

// settings holds the persistent flags shared by every subcommand.
type settings struct {
	batchSize int
	force     bool
	timeout   time.Duration
	json      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	s := &settings{}

	root := &cobra.Command{
		Use:          "seed",
		Short:        "Seed Pokédex species data from PokeAPI",
		Version:      appVersion,
		SilenceUsage: true,
	}

	root.PersistentFlags().IntVar(&s.batchSize, "batch-size", 0, "Ids per batch (0 uses SEED_BATCH_SIZE)")
	root.PersistentFlags().BoolVar(&s.force, "force", false, "Bypass the cache and always fetch upstream")
	root.PersistentFlags().DurationVar(&s.timeout, "timeout", 0, "Abort the run after this long (0 means no limit)")
	root.PersistentFlags().BoolVar(&s.json, "json", false, "Print results as JSON")

	root.AddCommand(
		rangeCommand(s),
		generationCommand(s),
		allCommand(s),
		updateCommand(s),
		retryCommand(s),
		testCommand(s),
		statsCommand(s),
		generationsCommand(s),
		clearCommand(s),
		cacheCommand(s),
	)
	return root
}

// options converts the persistent flags into seeder options.
func (s *settings) options() seeder.Options {
	return seeder.Options{BatchSize: s.batchSize, ForceRefresh: s.force}
}

// withStack loads configuration, opens the shared stack and runs fn under the
// command context, bounded by --timeout when set.
func (s *settings) withStack(cmd *cobra.Command, fn func(ctx context.Context, stack *app.Stack) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, appName)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stack, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(ctx, stack)
}

// seedRun opens the stack, runs one seeding operation and prints its result.
func (s *settings) seedRun(cmd *cobra.Command, run func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error)) error {
	return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
		orch := stack.Seeder(seeder.NewLogReporter(stack.Logger))
		res, err := run(ctx, orch)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), res, s.json); err != nil {
			return err
		}
		return resultError(res)
	})
}

var errIncomplete = errors.New("seed run incomplete")

// resultError makes the process exit non-zero when the run stopped early or
// left failures behind.
func resultError(res *seeder.Result) error {
	switch {
	case res.Partial:
		return fmt.Errorf("%w: %d ids remaining (%s)", errIncomplete, res.Remaining, res.StopReason)
	case res.Failed > 0:
		return fmt.Errorf("%w: %d ids failed", errIncomplete, res.Failed)
	}
	return nil
}
