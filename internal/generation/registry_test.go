package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 5)
	for i, g := range all {
		assert.Equal(t, i+1, g.Index)
	}

	kanto, err := reg.RangeFor(1)
	require.NoError(t, err)
	assert.Equal(t, "Kanto", kanto.Region)
	assert.Equal(t, 1, kanto.StartID)
	assert.Equal(t, 151, kanto.EndID)
	assert.Equal(t, 151, kanto.ExpectedCount())
	assert.Equal(t, []string{"Red", "Blue", "Yellow"}, kanto.Games)
	assert.Equal(t, "#ff6b6b", kanto.Color)

	sinnoh, err := reg.RangeFor(4)
	require.NoError(t, err)
	assert.Equal(t, 107, sinnoh.ExpectedCount())

	assert.Equal(t, 649, reg.TotalExpected())
}

func TestRangeForUnknown(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	_, err = reg.RangeFor(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllReturnsCopy(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	all := reg.All()
	all[0].StartID = 999

	again, _ := reg.RangeFor(1)
	assert.Equal(t, 1, again.StartID)
	assert.Equal(t, 1, reg.All()[0].StartID)
}

func TestForIDAndByRegion(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	g, ok := reg.ForID(152)
	require.True(t, ok)
	assert.Equal(t, 2, g.Index)

	g, ok = reg.ForID(386)
	require.True(t, ok)
	assert.Equal(t, 3, g.Index)

	_, ok = reg.ForID(10001)
	assert.False(t, ok)

	g, ok = reg.ByRegion("hoenn")
	require.True(t, ok)
	assert.Equal(t, 252, g.StartID)

	_, ok = reg.ByRegion("Galar")
	assert.False(t, ok)
}

func TestObservedCountPartialGeneration(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	var gotStart, gotEnd int
	count := func(_ context.Context, start, end int) (int, error) {
		gotStart, gotEnd = start, end
		return 80, nil
	}

	n, err := reg.ObservedCount(t.Context(), 4, count)
	require.NoError(t, err)
	assert.Equal(t, 80, n)
	assert.Equal(t, 387, gotStart)
	assert.Equal(t, 493, gotEnd)

	status, err := reg.Completeness(t.Context(), 4, count)
	require.NoError(t, err)
	assert.Equal(t, 107, status.ExpectedCount)
	assert.Equal(t, 80, status.ObservedCount)
	assert.False(t, status.IsComplete)
}

func TestCompletenessWhenFull(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	count := func(_ context.Context, start, end int) (int, error) { return end - start + 1, nil }

	summary, err := reg.Summary(t.Context(), count)
	require.NoError(t, err)
	require.Len(t, summary, 5)
	for _, s := range summary {
		assert.True(t, s.IsComplete, "generation %d", s.Index)
	}
}

func TestObservedCountPropagatesStoreError(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	boom := errors.New("db down")
	count := func(context.Context, int, int) (int, error) { return 0, boom }

	_, err = reg.ObservedCount(t.Context(), 1, count)
	assert.ErrorIs(t, err, boom)

	_, err = reg.Summary(t.Context(), count)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "count generation 1")

	_, err = reg.Completeness(t.Context(), 3, count)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "count generation 3")

	_, err = reg.ObservedCount(t.Context(), 9, count)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
	}{
		{name: "empty", ranges: nil},
		{name: "zero index", ranges: []Range{{Index: 0, StartID: 1, EndID: 10}}},
		{name: "duplicate index", ranges: []Range{{Index: 1, StartID: 1, EndID: 10}, {Index: 1, StartID: 11, EndID: 20}}},
		{name: "start below one", ranges: []Range{{Index: 1, StartID: 0, EndID: 10}}},
		{name: "inverted", ranges: []Range{{Index: 1, StartID: 10, EndID: 5}}},
		{name: "overlap", ranges: []Range{{Index: 2, StartID: 10, EndID: 20}, {Index: 1, StartID: 1, EndID: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ranges)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generations:
  - index: 1
    name: Test
    region: Testia
    start_id: 1
    end_id: 10
`), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, reg.TotalExpected())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("generations: [oops"))
	assert.Error(t, err)

	reg, err = Load("")
	require.NoError(t, err)
	assert.Len(t, reg.All(), 5)
}
