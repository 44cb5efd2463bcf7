// Command seed fills a non-production database with demo members, posts
// and engagement.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"

	"kortrade/internal/config"
	"kortrade/internal/database"
	"kortrade/internal/seed"
)

type flags struct {
	users, posts int
	clean        bool
	preset       string
	fast         bool
	dryRun       bool
}

func main() {
	var f flags
	flag.IntVar(&f.users, "users", 50, "members to create")
	flag.IntVar(&f.posts, "posts", 200, "posts to create")
	flag.BoolVar(&f.clean, "clean", true, "wipe existing rows first")
	flag.StringVar(&f.preset, "preset", "", "named preset: minimal, demo or busy (overrides -users and -posts)")
	flag.BoolVar(&f.fast, "fast", false, "hash passwords at minimum bcrypt cost")
	flag.BoolVar(&f.dryRun, "dry-run", false, "build rows without writing them")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, f); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seed finished; every member's password is %q", seed.DefaultPassword)
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return errors.New("refusing to seed a production database")
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}

	s := seed.NewSeeder(db, seed.Options{
		NumUsers:    f.users,
		NumPosts:    f.posts,
		ShouldClean: f.clean,
		SignupBonus: cfg.SignupBonusCoins,
		SkipBcrypt:  f.fast,
		DryRun:      f.dryRun,
		MaxDays:     90,
	})

	if f.preset == "" {
		log.Printf("seeding %d members and %d posts (clean=%v)", f.users, f.posts, f.clean)
		return s.Run(ctx)
	}
	log.Printf("applying preset %q", f.preset)
	if f.clean && !f.dryRun {
		if err := s.ClearAll(); err != nil {
			return err
		}
	}
	return s.ApplyPreset(ctx, f.preset)
}
