// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"kortrade/internal/database"
	"kortrade/internal/models"
	"kortrade/internal/points"

	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	NumUsers    int
	NumPosts    int
	ShouldClean bool

	// SignupBonus is granted through the ledger to every seeded member.
	SignupBonus float64

	// SkipBcrypt hashes with the minimum bcrypt cost.
	SkipBcrypt bool
	DryRun     bool
	MaxDays    int
	BatchSize  int
}

// Preset is a named seeding size.
type Preset struct {
	Users           int
	Posts           int
	CommentsPerPost int
	LikesPerPost    int
}

// Presets are selectable with `seed -preset <name>`.
var Presets = map[string]Preset{
	"minimal": {Users: 5, Posts: 10, CommentsPerPost: 1, LikesPerPost: 2},
	"demo":    {Users: 50, Posts: 200, CommentsPerPost: 3, LikesPerPost: 8},
	"busy":    {Users: 500, Posts: 3000, CommentsPerPost: 6, LikesPerPost: 25},
}

// Seeder fills the database with members, board posts and engagement.
type Seeder struct {
	db      *gorm.DB
	ledger  *points.Service
	factory *Factory
	opts    Options
}

func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{
		db:      db,
		ledger:  points.NewService(db, nil),
		factory: NewFactory(db, opts),
		opts:    opts,
	}
}

// Run seeds opts.NumUsers members and opts.NumPosts posts with default engagement.
func (s *Seeder) Run(ctx context.Context) error {
	log.Printf("🌱 Starting database seeding with %d users and %d posts...", s.opts.NumUsers, s.opts.NumPosts)

	if s.opts.ShouldClean && !s.opts.DryRun {
		if err := s.ClearAll(); err != nil {
			log.Printf("⚠️  Warning: could not clear existing data: %v", err)
		}
	}
	return s.seed(ctx, Preset{Users: s.opts.NumUsers, Posts: s.opts.NumPosts, CommentsPerPost: 3, LikesPerPost: 5})
}

// ApplyPreset seeds one of Presets by name.
func (s *Seeder) ApplyPreset(ctx context.Context, name string) error {
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(Presets))
		for n := range Presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(names, ", "))
	}
	return s.seed(ctx, p)
}

func (s *Seeder) seed(ctx context.Context, p Preset) error {
	users, err := s.SeedUsers(ctx, p.Users)
	if err != nil {
		return fmt.Errorf("failed to create users: %w", err)
	}
	log.Printf("✓ %d members created", len(users))

	posts, err := s.SeedPosts(users, p.Posts)
	if err != nil {
		return fmt.Errorf("failed to create posts: %w", err)
	}
	log.Printf("✓ %d posts created", len(posts))

	if s.opts.DryRun {
		return nil
	}
	comments, likes, err := s.SeedEngagement(users, posts, p.CommentsPerPost, p.LikesPerPost)
	if err != nil {
		return fmt.Errorf("failed to create engagement: %w", err)
	}
	log.Printf("✓ %d comments and %d likes created", comments, likes)

	log.Println("🎉 Database seeding completed successfully!")
	return nil
}

// ClearAll removes every row from the persistent tables, children first.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing existing data...")
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(tables[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedUsers creates count members. The signup bonus goes through the
// ledger so balances always match coin_transactions.
func (s *Seeder) SeedUsers(ctx context.Context, count int) ([]models.User, error) {
	users := make([]models.User, 0, count)
	for i := 0; i < count; i++ {
		u, err := s.factory.CreateUser()
		if err != nil {
			log.Printf("Failed to create user: %v", err)
			continue
		}
		if s.opts.SignupBonus > 0 && !s.opts.DryRun {
			if _, err := s.ledger.Apply(ctx, points.Entry{
				UserID: u.ID, Type: models.CoinSignupBonus, Amount: s.opts.SignupBonus, Memo: "seed",
			}); err != nil {
				return nil, err
			}
			u.KorCoinBalance = s.opts.SignupBonus
		}
		users = append(users, *u)

		if (i+1)%100 == 0 {
			log.Printf("Created %d users...", i+1)
		}
	}
	return users, nil
}

// SeedPosts spreads count posts over users, roughly one in four on the
// profit board.
func (s *Seeder) SeedPosts(users []models.User, count int) ([]models.Post, error) {
	if len(users) == 0 || count <= 0 {
		return nil, nil
	}
	batch := make([]*models.Post, 0, count)
	for i := 0; i < count; i++ {
		author := &users[s.factory.r.Intn(len(users))]
		board := models.BoardFree
		if s.factory.r.Intn(4) == 0 {
			board = models.BoardProfit
		}
		batch = append(batch, s.factory.BuildPost(author, board))
	}
	if err := s.factory.CreatePostsBatch(batch); err != nil {
		return nil, err
	}

	posts := make([]models.Post, len(batch))
	for i, p := range batch {
		posts[i] = *p
	}
	return posts, nil
}

// SeedEngagement adds up to commentsPer comments (some as replies) and
// likesPer likes from distinct members to every post.
func (s *Seeder) SeedEngagement(users []models.User, posts []models.Post, commentsPer, likesPer int) (int, int, error) {
	if len(users) == 0 {
		return 0, 0, nil
	}
	var comments, likes int
	for i := range posts {
		post := &posts[i]

		var top []*models.Comment
		for n := s.factory.r.Intn(commentsPer + 1); n > 0; n-- {
			author := &users[s.factory.r.Intn(len(users))]
			var parent *models.Comment
			if len(top) > 0 && s.factory.r.Intn(3) == 0 {
				parent = top[s.factory.r.Intn(len(top))]
			}
			c, err := s.factory.CreateComment(author, post, parent)
			if err != nil {
				return comments, likes, err
			}
			if parent == nil {
				top = append(top, c)
			}
			comments++
		}

		n := s.factory.r.Intn(likesPer + 1)
		if n > len(users) {
			n = len(users)
		}
		for _, idx := range s.factory.r.Perm(len(users))[:n] {
			if err := s.factory.CreateLike(&users[idx], post); err != nil {
				return comments, likes, err
			}
			likes++
		}
	}
	return comments, likes, nil
}
