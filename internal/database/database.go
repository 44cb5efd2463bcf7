// Package database opens the PostgreSQL primary and optional read replica
// and owns the schema: embedded goose migrations plus GORM AutoMigrate.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"kortrade/internal/config"
	"kortrade/internal/middleware"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = 5 * time.Minute
	schemaTimeout       = 2 * time.Minute
)

// replica holds the read replica once Connect attached one.
var replica atomic.Pointer[gorm.DB]

// ReadReplica returns the replica, or nil when reads should use the primary.
func ReadReplica() *gorm.DB {
	return replica.Load()
}

// DSN is the primary connection string for cfg.
func DSN(cfg *config.Config) string {
	return buildDSN(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}

func buildDSN(host, port, user, password, name, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		host, port, user, password, name, sslMode)
}

// Open dials dsn with the slog GORM logger and cfg's pool limits. It does
// not touch the schema; cmd/migrate and Connect decide that.
func Open(cfg *config.Config) (*gorm.DB, error) {
	return open(DSN(cfg), cfg)
}

func open(dsn string, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	maxOpen, maxIdle, lifetime := poolLimits(cfg)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return db, nil
}

func poolLimits(cfg *config.Config) (maxOpen, maxIdle int, lifetime time.Duration) {
	maxOpen, maxIdle, lifetime = defaultMaxOpenConns, defaultMaxIdleConns, defaultConnLifetime
	if cfg.DBMaxOpenConns > 0 {
		maxOpen = cfg.DBMaxOpenConns
	}
	if cfg.DBMaxIdleConns > 0 {
		maxIdle = cfg.DBMaxIdleConns
	}
	if cfg.DBConnMaxLifetimeMinutes > 0 {
		lifetime = time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute
	}
	return maxOpen, maxIdle, lifetime
}

// Connect opens the primary, applies the schema plan and attaches the
// replica when DB_READ_HOST is set. A replica that fails to open is
// logged and skipped.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	logger := middleware.Component("database")
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("primary connected", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := ApplySchema(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if cfg.DBReadHost != "" {
		dsn := buildDSN(cfg.DBReadHost, cfg.DBReadPort, cfg.DBReadUser, cfg.DBReadPassword, cfg.DBName, cfg.DBSSLMode)
		if r, err := open(dsn, cfg); err != nil {
			logger.Warn("read replica unavailable, reads use the primary", slog.Any("error", err))
		} else {
			replica.Store(r)
			logger.Info("read replica connected", slog.String("host", cfg.DBReadHost))
		}
	}
	return db, nil
}
