package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimm00/pokedex-sub002/internal/cache"
	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

const baseURL = "https://pokeapi.test/api/v2"

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "25", "151"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 25, 151}, ids)

	_, err = parseIDs([]string{"pikachu"})
	assert.ErrorContains(t, err, "must be an integer")

	_, err = parseIDs([]string{"0"})
	assert.ErrorContains(t, err, "must be positive")
}

func TestResolveGeneration(t *testing.T) {
	reg, err := generation.Default()
	require.NoError(t, err)

	index, err := resolveGeneration(reg, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, index)

	index, err = resolveGeneration(reg, "Hoenn")
	require.NoError(t, err)
	assert.Equal(t, 3, index)

	_, err = resolveGeneration(reg, "galar")
	assert.ErrorIs(t, err, generation.ErrNotFound)
}

func TestNamespacesFor(t *testing.T) {
	all, err := namespacesFor(nil)
	require.NoError(t, err)
	assert.Equal(t, cache.Namespaces(), all)

	one, err := namespacesFor([]string{"species_list"})
	require.NoError(t, err)
	assert.Equal(t, []cache.Namespace{cache.NamespaceSpeciesList}, one)

	_, err = namespacesFor([]string{"moves"})
	assert.Error(t, err)
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(&seeder.Result{Created: 3}))
	assert.ErrorIs(t, resultError(&seeder.Result{Failed: 1}), errIncomplete)
	assert.ErrorIs(t, resultError(&seeder.Result{Partial: true, Remaining: 5}), errIncomplete)
}

func TestPrintResultText(t *testing.T) {
	res := &seeder.Result{
		Scope:    "range 1-3",
		Total:    3,
		Created:  2,
		Failed:   1,
		Failures: []seeder.Failure{{ID: 3, Kind: "transient", Reason: "status 503"}},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, false))

	out := buf.String()
	assert.Contains(t, out, "Seed range 1-3: completed with failures")
	assert.Contains(t, out, "✗ #3 transient: status 503")
	assert.Contains(t, out, "seed retry 3")
}

func TestPrintCleared(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCleared(&buf, map[string]int{"species_list": 2, "species": 5}, false))
	assert.Equal(t, "Cleared 5 keys from species\nCleared 2 keys from species_list\n", buf.String())
}

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	gens := filepath.Join(dir, "generations.yaml")
	require.NoError(t, os.WriteFile(gens, []byte(`
generations:
  - index: 1
    name: Tiny
    region: Tiny
    start_id: 1
    end_id: 2
`), 0o600))

	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "pokedex.db"))
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("GENERATIONS_FILE", gens)
	t.Setenv("POKEAPI_BASE_URL", baseURL)
	t.Setenv("POKEAPI_RATE_LIMIT", "0")
	t.Setenv("SEED_BATCH_DELAY", "0s")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRangeCommandSeedsAndReports(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	for id, name := range map[int]string{1: "bulbasaur", 2: "ivysaur"} {
		httpmock.RegisterResponder(http.MethodGet, fmt.Sprintf("%s/pokemon/%d", baseURL, id),
			httpmock.NewStringResponder(http.StatusOK, fmt.Sprintf(`{"id": %d, "name": %q, "height": 7, "weight": 69}`, id, name)))
	}
	setupEnv(t)

	out, err := execute(t, "range", "1", "2", "--json")
	require.NoError(t, err)

	var res seeder.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Created)
	assert.False(t, res.Partial)

	// the database file persists between invocations
	out, err = execute(t, "generations")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2")

	out, err = execute(t, "generation", "tiny", "--json")
	require.NoError(t, err)
	var byRegion seeder.Result
	require.NoError(t, json.Unmarshal([]byte(out), &byRegion))
	assert.Equal(t, 2, byRegion.Total, "region names resolve to the generation")
	assert.Equal(t, 2, byRegion.SkippedCached+byRegion.Updated)
}

func TestRangeCommandRejectsBadArgs(t *testing.T) {
	_, err := execute(t, "range", "1")
	assert.Error(t, err)

	_, err = execute(t, "range", "one", "2")
	assert.ErrorContains(t, err, "must be an integer")
}
