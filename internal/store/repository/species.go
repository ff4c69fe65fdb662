package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/store"
)

// ErrSpeciesNotFound is returned by GetByID for unknown ids.
var ErrSpeciesNotFound = errors.New("species not found")

const speciesColumns = `species_id, name, height, weight, base_experience,
	types, abilities, stats, images, default_image, created_at, updated_at`

// SpeciesRepository handles species data access
type SpeciesRepository struct {
	db *store.Database
}

// NewSpeciesRepository creates a new species repository
func NewSpeciesRepository(db *store.Database) *SpeciesRepository {
	return &SpeciesRepository{db: db}
}

// GetByID finds a species by ID
func (r *SpeciesRepository) GetByID(ctx context.Context, speciesID int) (*store.Species, error) {
	query := r.db.Rebind(`SELECT ` + speciesColumns + ` FROM species WHERE species_id = ?`)

	species, err := scanSpecies(r.db.DB().QueryRowContext(ctx, query, speciesID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrSpeciesNotFound, speciesID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying species: %w", err)
	}
	return species, nil
}

// Upsert inserts the species or updates every mutable field of an existing
// row. created reports whether a new row was written. created_at is never
// overwritten.
func (r *SpeciesRepository) Upsert(ctx context.Context, s *store.Species) (created bool, err error) {
	if s == nil || s.SpeciesID <= 0 {
		return false, fmt.Errorf("upsert species: invalid id")
	}

	types, err := marshalList(s.Types)
	if err != nil {
		return false, err
	}
	abilities, err := marshalList(s.Abilities)
	if err != nil {
		return false, err
	}
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return false, fmt.Errorf("encode stats: %w", err)
	}
	images := s.Images
	if images == nil {
		images = map[string]string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return false, fmt.Errorf("encode images: %w", err)
	}

	var baseExp sql.NullInt64
	if s.BaseExperience != nil {
		baseExp = sql.NullInt64{Int64: int64(*s.BaseExperience), Valid: true}
	}

	now := time.Now().UTC()

	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM species WHERE species_id = ?)`), s.SpeciesID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check species %d: %w", s.SpeciesID, err)
	}

	query := r.db.Rebind(`
		INSERT INTO species (species_id, name, height, weight, base_experience,
			types, abilities, stats, images, default_image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (species_id) DO UPDATE SET
			name = EXCLUDED.name,
			height = EXCLUDED.height,
			weight = EXCLUDED.weight,
			base_experience = EXCLUDED.base_experience,
			types = EXCLUDED.types,
			abilities = EXCLUDED.abilities,
			stats = EXCLUDED.stats,
			images = EXCLUDED.images,
			default_image = EXCLUDED.default_image,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`)

	var createdAt int64
	err = tx.QueryRowContext(ctx, query,
		s.SpeciesID, s.Name, s.Height, s.Weight, baseExp,
		string(types), string(abilities), string(stats), string(imagesJSON), s.DefaultImage,
		now.UnixMilli(), now.UnixMilli(),
	).Scan(&createdAt)
	if err != nil {
		return false, fmt.Errorf("upserting species %d: %w", s.SpeciesID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit species %d: %w", s.SpeciesID, err)
	}

	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(now.UnixMilli())
	return !exists, nil
}

// CountInRange counts stored species with ids in [startID, endID].
func (r *SpeciesRepository) CountInRange(ctx context.Context, startID, endID int) (int, error) {
	var n int
	err := r.db.DB().QueryRowContext(ctx,
		r.db.Rebind(`SELECT COUNT(*) FROM species WHERE species_id BETWEEN ? AND ?`), startID, endID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting species %d-%d: %w", startID, endID, err)
	}
	return n, nil
}

// Count returns the number of stored species.
func (r *SpeciesRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM species`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting species: %w", err)
	}
	return n, nil
}

// ListRange returns stored species with ids in [startID, endID] ordered by id.
func (r *SpeciesRepository) ListRange(ctx context.Context, startID, endID int) ([]*store.Species, error) {
	query := r.db.Rebind(`SELECT ` + speciesColumns + `
		FROM species
		WHERE species_id BETWEEN ? AND ?
		ORDER BY species_id`)

	rows, err := r.db.DB().QueryContext(ctx, query, startID, endID)
	if err != nil {
		return nil, fmt.Errorf("querying species: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// List pages through all species ordered by id.
func (r *SpeciesRepository) List(ctx context.Context, limit, offset int) ([]*store.Species, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`SELECT ` + speciesColumns + `
		FROM species
		ORDER BY species_id
		LIMIT ? OFFSET ?`)

	rows, err := r.db.DB().QueryContext(ctx, query, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("querying species: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// ListStale returns ids of species not updated since before, oldest first.
func (r *SpeciesRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.DB().QueryContext(ctx,
		r.db.Rebind(`SELECT species_id FROM species WHERE updated_at < ? ORDER BY updated_at, species_id LIMIT ?`),
		before.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale species: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAll removes every species row and reports how many were deleted.
func (r *SpeciesRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `DELETE FROM species`)
	if err != nil {
		return 0, fmt.Errorf("deleting species: %w", err)
	}
	return res.RowsAffected()
}

func (r *SpeciesRepository) scanAll(rows *sql.Rows) ([]*store.Species, error) {
	var out []*store.Species
	for rows.Next() {
		s, err := scanSpecies(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSpecies(scanner interface{ Scan(dest ...any) error }) (*store.Species, error) {
	var (
		s                               store.Species
		baseExp                         sql.NullInt64
		types, abilities, stats, images []byte
		createdAt, updatedAt            int64
	)

	if err := scanner.Scan(
		&s.SpeciesID, &s.Name, &s.Height, &s.Weight, &baseExp,
		&types, &abilities, &stats, &images, &s.DefaultImage,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if baseExp.Valid {
		v := int(baseExp.Int64)
		s.BaseExperience = &v
	}
	if err := json.Unmarshal(types, &s.Types); err != nil {
		return nil, fmt.Errorf("decode types of %d: %w", s.SpeciesID, err)
	}
	if err := json.Unmarshal(abilities, &s.Abilities); err != nil {
		return nil, fmt.Errorf("decode abilities of %d: %w", s.SpeciesID, err)
	}
	if err := json.Unmarshal(stats, &s.Stats); err != nil {
		return nil, fmt.Errorf("decode stats of %d: %w", s.SpeciesID, err)
	}
	if err := json.Unmarshal(images, &s.Images); err != nil {
		return nil, fmt.Errorf("decode images of %d: %w", s.SpeciesID, err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)

	return &s, nil
}

func marshalList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return b, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
