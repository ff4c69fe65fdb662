package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/pokeapi"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

type statsReport struct {
	Species     int                 `json:"species"`
	Expected    int                 `json:"expected"`
	Generations []generation.Status `json:"generations"`
	Cache       cache.Stats         `json:"cache"`
	Upstream    pokeapi.Stats       `json:"upstream"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printValue writes v as JSON, or text otherwise.
func printValue(w io.Writer, v any, asJSON bool, text string) error {
	if asJSON {
		return writeJSON(w, v)
	}
	_, err := io.WriteString(w, text)
	return err
}

func printResult(w io.Writer, res *seeder.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Seed %s: %s\n", res.Scope, resultStatus(res))
	fmt.Fprintf(&b, "  total=%d attempted=%d created=%d updated=%d\n",
		res.Total, res.Attempted, res.Created, res.Updated)
	fmt.Fprintf(&b, "  skipped=%d (cached=%d, not_found=%d) failed=%d remaining=%d\n",
		res.Skipped, res.SkippedCached, res.SkippedNotFound, res.Failed, res.Remaining)
	fmt.Fprintf(&b, "  duration=%dms\n", res.DurationMS)
	if res.StopReason != "" {
		fmt.Fprintf(&b, "  stopped: %s\n", res.StopReason)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(&b, "  ✗ #%d %s: %s\n", f.ID, f.Kind, f.Reason)
	}
	if ids := res.FailedIDs(); len(ids) > 0 {
		fmt.Fprintf(&b, "  retry with: seed retry %s\n", joinInts(ids))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func resultStatus(res *seeder.Result) string {
	switch {
	case res.Partial:
		return "partial"
	case res.Failed > 0:
		return "completed with failures"
	default:
		return "complete"
	}
}

func printGenerations(w io.Writer, gens []generation.Status, asJSON bool) error {
	if asJSON {
		return writeJSON(w, gens)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GEN\tREGION\tIDS\tSTORED\tCOMPLETE")
	for _, g := range gens {
		fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%d/%d\t%t\n",
			g.Index, g.Region, g.StartID, g.EndID, g.ObservedCount, g.ExpectedCount, g.IsComplete)
	}
	return tw.Flush()
}

func printStats(w io.Writer, r statsReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}

	fmt.Fprintf(w, "Species stored: %d/%d\n\n", r.Species, r.Expected)
	if err := printGenerations(w, r.Generations, false); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nCache (%s): hits=%d misses=%d hit_rate=%.1f%% keys=%d\n",
		r.Cache.Backend, r.Cache.Hits, r.Cache.Misses, r.Cache.HitRate, r.Cache.Keys)
	_, err := fmt.Fprintf(w, "Upstream: requests=%d successes=%d not_found=%d failures=%d retries=%d avg_latency=%s\n",
		r.Upstream.Requests, r.Upstream.Successes, r.Upstream.NotFound, r.Upstream.Failures,
		r.Upstream.Retries, r.Upstream.AverageLatency)
	return err
}

func printCleared(w io.Writer, cleared map[string]int, asJSON bool) error {
	if asJSON {
		return writeJSON(w, cleared)
	}

	names := make([]string, 0, len(cleared))
	for ns := range cleared {
		names = append(names, ns)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, ns := range names {
		fmt.Fprintf(&b, "Cleared %d keys from %s\n", cleared[ns], ns)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " ")
}
