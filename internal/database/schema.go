package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/models"

	"gorm.io/gorm"
)

// DB_SCHEMA_MODE values.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaPlan is the decision ApplySchema acts on.
type SchemaPlan struct {
	Mode string
	Env  string
	// SQL runs the embedded goose migrations.
	SQL bool
	// Auto runs GORM AutoMigrate after SQL. Never in production.
	Auto bool
}

func (p SchemaPlan) String() string {
	return fmt.Sprintf("mode=%s env=%s sql=%t auto=%t", p.Mode, p.Env, p.SQL, p.Auto)
}

// PlanSchema maps DB_SCHEMA_MODE and APP_ENV to a plan. Hybrid is the
// default; auto is refused wherever real balances live.
func PlanSchema(cfg *config.Config) (SchemaPlan, error) {
	plan := SchemaPlan{
		Mode: strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode)),
		Env:  cfg.Env,
	}
	if plan.Mode == "" {
		plan.Mode = SchemaModeHybrid
	}

	switch env := strings.ToLower(strings.TrimSpace(cfg.Env)); plan.Mode {
	case SchemaModeSQL:
		plan.SQL = true
	case SchemaModeHybrid:
		plan.SQL = true
		plan.Auto = !liveEnv(env)
	case SchemaModeAuto:
		if liveEnv(env) {
			return plan, fmt.Errorf("DB_SCHEMA_MODE=auto is not allowed in %q", cfg.Env)
		}
		plan.Auto = true
	default:
		return plan, fmt.Errorf("unknown DB_SCHEMA_MODE %q", cfg.DBSchemaMode)
	}
	return plan, nil
}

func liveEnv(env string) bool {
	switch env {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

// AutoMigrate creates or alters tables for every persistent model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}

// ledgerTables must exist before the API takes traffic; a missing one means
// migrations and models drifted.
var ledgerTables = []any{&models.User{}, &models.CoinTransaction{}, &models.Position{}}

// ApplySchema executes the plan for cfg and checks the wallet tables.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := PlanSchema(cfg)
	if err != nil {
		return err
	}
	logger := middleware.Component("schema")

	if plan.SQL {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("sql handle: %w", err)
		}
		if err := MigrateUp(ctx, sqlDB); err != nil {
			return err
		}
	}
	if plan.Auto {
		logger.Info("running automigrate", slog.String("plan", plan.String()))
		if err := AutoMigrate(db.WithContext(ctx)); err != nil {
			return fmt.Errorf("automigrate: %w", err)
		}
	}

	for _, m := range ledgerTables {
		if !db.Migrator().HasTable(m) {
			return fmt.Errorf("schema incomplete: table for %T missing", m)
		}
	}
	return nil
}

// SchemaVersion reports the applied and newest embedded goose versions.
func SchemaVersion(ctx context.Context, db *gorm.DB) (current, latest int64, err error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, 0, err
	}
	if current, err = MigrationVersion(ctx, sqlDB); err != nil {
		return 0, 0, err
	}
	migrations, err := Migrations()
	if err != nil {
		return current, 0, err
	}
	if last, lastErr := migrations.Last(); lastErr == nil {
		latest = last.Version
	}
	return current, latest, nil
}
