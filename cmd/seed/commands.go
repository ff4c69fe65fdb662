package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/grimm00/pokedex-sub002/internal/app"
	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

// testRangeEnd bounds the smoke-test run started by "seed test".
const testRangeEnd = 10

func rangeCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "range START END",
		Short: "Seed an inclusive range of species ids",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				return orch.SeedRange(ctx, ids[0], ids[1], s.options())
			})
		},
	}
}

func generationCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "generation INDEX|REGION",
		Short: "Seed every species of one generation, by index or region name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				index, err := resolveGeneration(orch.Registry(), args[0])
				if err != nil {
					return nil, err
				}
				return orch.SeedGeneration(ctx, index, s.options())
			})
		},
	}
}

func allCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Seed every configured generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				return orch.SeedAllGenerations(ctx, s.options())
			})
		},
	}
}

func updateCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "update ID",
		Short: "Re-fetch one species, ignoring the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				return orch.Refresh(ctx, ids[0])
			})
		},
	}
}

func retryCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID...",
		Short: "Re-seed the given ids, typically the failures of an earlier run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				opts := s.options()
				opts.ForceRefresh = true
				return orch.SeedIDs(ctx, ids, opts)
			})
		},
	}
}

func testCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: fmt.Sprintf("Seed ids 1-%d to check connectivity", testRangeEnd),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.seedRun(cmd, func(ctx context.Context, orch *seeder.Orchestrator) (*seeder.Result, error) {
				return orch.SeedRange(ctx, 1, testRangeEnd, s.options())
			})
		},
	}
}

func statsCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show stored species counts, cache stats and upstream stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				total, err := stack.Species.Count(ctx)
				if err != nil {
					return err
				}
				gens, err := stack.Catalog.Generations(ctx)
				if err != nil {
					return err
				}
				cacheStats, err := stack.Cache.Stats(ctx)
				if err != nil {
					stack.Logger.Warn("cache stats unavailable", "error", err)
				}
				return printStats(cmd.OutOrStdout(), statsReport{
					Species:     total,
					Expected:    stack.Registry.TotalExpected(),
					Generations: gens,
					Cache:       cacheStats,
					Upstream:    stack.Client.Stats(),
				}, s.json)
			})
		},
	}
}

func generationsCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "generations",
		Short: "List configured generations and their completeness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				gens, err := stack.Catalog.Generations(ctx)
				if err != nil {
					return err
				}
				return printGenerations(cmd.OutOrStdout(), gens, s.json)
			})
		},
	}
}

func clearCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored species and empty the species caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				res, err := stack.Catalog.ClearData(ctx)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), res, s.json,
					fmt.Sprintf("Deleted %d species, cleared %d cache keys\n", res.SpeciesDeleted, res.CacheCleared))
			})
		},
	}
}

func cacheCommand(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the species cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				st, err := stack.Cache.Stats(ctx)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), st, s.json,
					fmt.Sprintf("%s: hits=%d misses=%d hit_rate=%.1f%% keys=%d errors=%d\n",
						st.Backend, st.Hits, st.Misses, st.HitRate, st.Keys, st.Errors))
			})
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Probe the cache backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				h := stack.Cache.HealthCheck(ctx)
				line := fmt.Sprintf("%s: %s (%.2fms)\n", h.Backend, h.Status, h.LatencyMS)
				if h.Error != "" {
					line = fmt.Sprintf("%s: %s: %s\n", h.Backend, h.Status, h.Error)
				}
				if err := printValue(cmd.OutOrStdout(), h, s.json, line); err != nil {
					return err
				}
				if !h.Healthy() {
					return fmt.Errorf("cache %s", h.Status)
				}
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [NAMESPACE]",
		Short: "Clear one cache namespace, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces, err := namespacesFor(args)
			if err != nil {
				return err
			}
			return s.withStack(cmd, func(ctx context.Context, stack *app.Stack) error {
				cleared := make(map[string]int, len(namespaces))
				for _, ns := range namespaces {
					n, err := stack.Cache.Clear(ctx, ns)
					if err != nil {
						return fmt.Errorf("clear %s: %w", ns, err)
					}
					cleared[string(ns)] = n
				}
				return printCleared(cmd.OutOrStdout(), cleared, s.json)
			})
		},
	}

	cmd.AddCommand(stats, health, clearCmd)
	return cmd
}

// parseIDs converts positional arguments into species ids.
func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: must be an integer", arg)
		}
		if id < 1 {
			return nil, fmt.Errorf("invalid id %d: must be positive", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolveGeneration accepts a generation index ("2") or a region name
// ("johto").
func resolveGeneration(reg *generation.Registry, arg string) (int, error) {
	if index, err := strconv.Atoi(arg); err == nil {
		return index, nil
	}
	g, ok := reg.ByRegion(arg)
	if !ok {
		return 0, fmt.Errorf("%w: no region %q", generation.ErrNotFound, arg)
	}
	return g.Index, nil
}

// namespacesFor resolves the optional namespace argument of "cache clear".
func namespacesFor(args []string) ([]cache.Namespace, error) {
	if len(args) == 0 {
		return cache.Namespaces(), nil
	}
	ns, err := cache.ParseNamespace(args[0])
	if err != nil {
		return nil, err
	}
	return []cache.Namespace{ns}, nil
}
