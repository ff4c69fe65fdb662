package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations
var migrationFS embed.FS

// Dialect identifies the SQL flavour behind a Database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Database wraps the primary species store connection.
type Database struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
}

// NewDatabase opens the database named by dsn.
//
// postgres:// and postgresql:// URLs use lib/pq. sqlite://<path>, file:<path>
// and bare *.db paths use the pure-Go SQLite driver.
func NewDatabase(dsn string) (*Database, error) {
	dialect, driverDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case DialectPostgres:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(10 * time.Minute)
	case DialectSQLite:
		// one writer; concurrent upserts queue on the pool
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		conn:    db,
		dsn:     dsn,
		dialect: dialect,
	}, nil
}

func parseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("database dsn is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, sqliteDSN(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"):
		return DialectSQLite, sqliteDSN(dsn), nil
	default:
		return "", "", fmt.Errorf("unsupported database dsn %q", dsn)
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection
func (db *Database) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// DB returns the underlying *sql.DB for queries
func (db *Database) DB() *sql.DB {
	return db.conn
}

// Dialect reports which SQL flavour the connection speaks.
func (db *Database) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites ? placeholders into $n for PostgreSQL.
func (db *Database) Rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RunMigrations applies the embedded migrations for the active dialect, each
// at most once.
func (db *Database) RunMigrations(ctx context.Context) error {
	slog.Info("running database migrations", "dialect", db.dialect)

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	root := "migrations/" + string(db.dialect)
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		if err := db.runMigration(ctx, root, name); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", name, err)
		}
	}

	slog.Info("✓ migrations complete", "files", len(files))
	return nil
}

// createMigrationsTable creates a table to track which migrations have been run
func (db *Database) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`
	_, err := db.conn.ExecContext(ctx, query)
	return err
}

// runMigration runs a single migration file if it hasn't been applied yet
func (db *Database) runMigration(ctx context.Context, root, filename string) error {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		db.Rebind("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)"), filename).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("skipping migration (already applied)", "file", filename)
		return nil
	}

	content, err := fs.ReadFile(migrationFS, root+"/"+filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		db.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
		filename, time.Now().UTC().UnixMilli()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("✓ applied migration", "file", filename)
	return nil
}

// HealthCheck performs a health check on the database
func (db *Database) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.conn.PingContext(ctx)
}
