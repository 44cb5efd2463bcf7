// Package bootstrap connects the runtime dependencies and prepares a
// development database.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"kortrade/internal/cache"
	"kortrade/internal/config"
	"kortrade/internal/database"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// InitRuntime opens PostgreSQL and Redis and runs Prepare. The database is
// required; without Redis the server still runs, with caching, presence
// fan-out and rate limits degraded.
func InitRuntime(ctx context.Context, cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	logger := middleware.Component("bootstrap")

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, running without it", slog.Any("error", err))
		rdb = nil
	}

	if err := Prepare(ctx, cfg, db); err != nil {
		return nil, nil, err
	}
	return db, rdb, nil
}

// Prepare runs the development-only steps: the root admin when
// DEV_BOOTSTRAP_ROOT is set and demo content on an empty board when
// DEV_SEED_DEMO is set. Other environments are left untouched.
func Prepare(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil || !isDevelopment(cfg.Env) {
		return nil
	}
	if cfg.DevBootstrapRoot {
		acct, err := rootFromConfig(cfg)
		if err != nil {
			return err
		}
		if err := ensureRoot(ctx, db, acct, cfg.SignupBonusCoins); err != nil {
			return fmt.Errorf("root admin: %w", err)
		}
	}
	if cfg.DevSeedDemo {
		if err := seedDemo(ctx, db, cfg.SignupBonusCoins); err != nil {
			return fmt.Errorf("demo seed: %w", err)
		}
	}
	return nil
}

func seedDemo(ctx context.Context, db *gorm.DB, bonus float64) error {
	var posts int64
	if err := db.WithContext(ctx).Model(&models.Post{}).Count(&posts).Error; err != nil {
		return err
	}
	if posts > 0 {
		return nil
	}
	middleware.Component("bootstrap").Info("seeding demo content")
	return seed.NewSeeder(db, seed.Options{SignupBonus: bonus, MaxDays: 30}).ApplyPreset(ctx, "demo")
}
