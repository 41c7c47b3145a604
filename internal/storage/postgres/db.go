// Package postgres is the PostgreSQL storage.Store, using sqlx over the pgx
// database/sql driver with embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int
}

// DB wraps the sqlx handle.
type DB struct {
	*sqlx.DB
}

// Open connects and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(maxConns/4, 2))
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func useMigrations() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("postgres")
}

// Migrate applies every pending migration.
func (db *DB) Migrate(ctx context.Context) error {
	if err := useMigrations(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB.DB)
	if err == nil {
		slog.Default().With("component", "storage").Info("database migrated", "version", version)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(ctx context.Context) error {
	if err := useMigrations(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db.DB.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	if err := useMigrations(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db.DB.DB)
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
