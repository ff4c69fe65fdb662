package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect Dialect
		wantErr bool
	}{
		{dsn: "postgres://u:p@localhost:5432/pokedex?sslmode=disable", dialect: DialectPostgres},
		{dsn: "postgresql://localhost/pokedex", dialect: DialectPostgres},
		{dsn: "sqlite://pokedex.db", dialect: DialectSQLite},
		{dsn: "file:pokedex.db", dialect: DialectSQLite},
		{dsn: "data/pokedex.db", dialect: DialectSQLite},
		{dsn: "mysql://localhost/pokedex", wantErr: true},
		{dsn: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			dialect, _, err := parseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, dialect)
		})
	}
}

func TestSQLiteDSNAddsPragmas(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("file:a.db?mode=rwc"))
}

func TestRebind(t *testing.T) {
	pg := &Database{dialect: DialectPostgres}
	lite := &Database{dialect: DialectSQLite}

	q := "SELECT 1 FROM species WHERE species_id BETWEEN ? AND ?"
	assert.Equal(t, "SELECT 1 FROM species WHERE species_id BETWEEN $1 AND $2", pg.Rebind(q))
	assert.Equal(t, q, lite.Rebind(q))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db, err := NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.RunMigrations(t.Context()))
	require.NoError(t, db.RunMigrations(t.Context()))

	var applied int
	require.NoError(t, db.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
	assert.Equal(t, DialectSQLite, db.Dialect())
	assert.NoError(t, db.HealthCheck(t.Context()))
}
