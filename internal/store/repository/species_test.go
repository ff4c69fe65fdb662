package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimm00/pokedex-sub002/internal/store"
)

func setupTestRepo(t *testing.T) *SpeciesRepository {
	t.Helper()
	db, err := store.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "pokedex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(t.Context()))
	return NewSpeciesRepository(db)
}

func sampleSpecies(id int, name string) *store.Species {
	exp := 112
	return &store.Species{
		SpeciesID:      id,
		Name:           name,
		Height:         4,
		Weight:         60,
		BaseExperience: &exp,
		Types:          []string{"electric"},
		Abilities:      []string{"static", "lightning-rod"},
		Stats:          store.Stats{HP: 35, Attack: 55, Defense: 40, SpecialAttack: 50, SpecialDefense: 50, Speed: 90},
		Images:         map[string]string{"front_default": "https://img/25.png"},
		DefaultImage:   "https://img/25.png",
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	created, err := repo.Upsert(ctx, sampleSpecies(25, "pikachu"))
	require.NoError(t, err)
	assert.True(t, created)

	first, err := repo.GetByID(ctx, 25)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	changed := sampleSpecies(25, "pikachu")
	changed.Weight = 61
	changed.Types = []string{"electric", "fairy"}

	created, err = repo.Upsert(ctx, changed)
	require.NoError(t, err)
	assert.False(t, created, "second upsert of the same id must update")

	got, err := repo.GetByID(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 61, got.Weight)
	assert.Equal(t, []string{"electric", "fairy"}, got.Types)
	assert.Equal(t, first.CreatedAt, got.CreatedAt, "created_at is immutable")
	assert.True(t, got.UpdatedAt.After(first.UpdatedAt))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-seeding never duplicates")
}

func TestGetByIDRoundTripsAllFields(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	want := sampleSpecies(25, "pikachu")
	_, err := repo.Upsert(ctx, want)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Height, got.Height)
	require.NotNil(t, got.BaseExperience)
	assert.Equal(t, 112, *got.BaseExperience)
	assert.Equal(t, want.Abilities, got.Abilities)
	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, want.Images, got.Images)
	assert.Equal(t, want.DefaultImage, got.DefaultImage)
}

func TestUpsertHandlesEmptyListsAndNullExperience(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	_, err := repo.Upsert(ctx, &store.Species{SpeciesID: 7, Name: "squirtle"})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got.BaseExperience)
	assert.Empty(t, got.Types)
	assert.NotNil(t, got.Types)
	assert.Empty(t, got.Images)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetByID(t.Context(), 9999)
	assert.ErrorIs(t, err, ErrSpeciesNotFound)
}

func TestUpsertRejectsInvalidID(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Upsert(t.Context(), &store.Species{Name: "missingno"})
	assert.Error(t, err)
}

func TestCountInRangeForPartialGeneration(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	// 80 of Sinnoh's 107 ids
	for id := 387; id < 387+80; id++ {
		_, err := repo.Upsert(ctx, &store.Species{SpeciesID: id, Name: "sinnoh"})
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, &store.Species{SpeciesID: 25, Name: "pikachu"})
	require.NoError(t, err)

	n, err := repo.CountInRange(ctx, 387, 493)
	require.NoError(t, err)
	assert.Equal(t, 80, n)

	list, err := repo.ListRange(ctx, 387, 390)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, 387, list[0].SpeciesID)
	assert.Equal(t, 390, list[3].SpeciesID)
}

func TestListPaging(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	for id := 1; id <= 5; id++ {
		_, err := repo.Upsert(ctx, &store.Species{SpeciesID: id, Name: "s"})
		require.NoError(t, err)
	}

	page, err := repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 3, page[0].SpeciesID)
	assert.Equal(t, 4, page[1].SpeciesID)
}

func TestListStaleAndDeleteAll(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := t.Context()

	for id := 1; id <= 3; id++ {
		_, err := repo.Upsert(ctx, &store.Species{SpeciesID: id, Name: "s"})
		require.NoError(t, err)
	}

	stale, err := repo.ListStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3}, stale)

	fresh, err := repo.ListStale(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}
