// Command migrate applies or inspects the database schema outside the
// server process.
//
//	migrate up       apply pending SQL migrations
//	migrate auto     run GORM AutoMigrate (refused in live environments)
//	migrate status   print the schema plan and migration state
//	migrate down     roll back the latest migration
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"

	"kortrade/internal/config"
	"kortrade/internal/database"

	"gorm.io/gorm"
)

type target struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cfg   *config.Config
}

var commands = map[string]func(context.Context, target) error{
	"up": func(ctx context.Context, t target) error {
		if err := database.MigrateUp(ctx, t.sqlDB); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Println("migrations applied")
		return nil
	},
	"auto": func(ctx context.Context, t target) error {
		t.cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, t.db, t.cfg); err != nil {
			return fmt.Errorf("automigrate: %w", err)
		}
		log.Println("automigrate finished")
		return nil
	},
	"status": func(ctx context.Context, t target) error {
		plan, err := database.PlanSchema(t.cfg)
		if err != nil {
			return err
		}
		current, latest, err := database.SchemaVersion(ctx, t.db)
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		log.Printf("%s version=%d latest=%d pending=%d", plan, current, latest, max(latest-current, 0))
		return database.MigrateStatus(ctx, t.sqlDB)
	},
	"down": func(ctx context.Context, t target) error {
		if err := database.MigrateDown(ctx, t.sqlDB); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		v, err := database.MigrationVersion(ctx, t.sqlDB)
		if err != nil {
			return err
		}
		log.Printf("now at version %d", v)
		return nil
	},
}

func main() {
	flag.Usage = func() {
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate <%s>\n", strings.Join(names, "|"))
	}
	flag.Parse()

	cmd, ok := commands[strings.ToLower(flag.Arg(0))]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(cmd); err != nil {
		log.Fatal(err)
	}
}

func run(cmd func(context.Context, target) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return cmd(ctx, target{db: db, sqlDB: sqlDB, cfg: cfg})
}
