package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"kortrade/internal/middleware"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "migrations"

var gooseOnce sync.Once

// gooseLogger adapts goose's printf logger to slog.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	middleware.Component("migrate").Error(fmt.Sprintf(format, v...))
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	middleware.Component("migrate").Info(fmt.Sprintf(format, v...))
}

func setupGoose() {
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrationFS)
		goose.SetLogger(gooseLogger{})
		// goose only errors on unknown dialect names
		_ = goose.SetDialect("postgres")
	})
}

// MigrateUp applies every pending embedded migration.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	setupGoose()
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the latest migration.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	setupGoose()
	if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// MigrateStatus logs applied/pending state for every migration.
func MigrateStatus(ctx context.Context, db *sql.DB) error {
	setupGoose()
	return goose.StatusContext(ctx, db, migrationsDir)
}

// MigrationVersion returns the current schema version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	setupGoose()
	return goose.GetDBVersionContext(ctx, db)
}

// Migrations lists the embedded migrations in version order.
func Migrations() (goose.Migrations, error) {
	setupGoose()
	return goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
}
