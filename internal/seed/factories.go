package seed

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"kortrade/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password every seeded member logs in with.
const DefaultPassword = "password123"

var (
	nicknamePrefixes = []string{"존버", "불개미", "단타", "스윙", "코린이", "고래", "차트", "익절", "손절", "풀롱", "숏충", "현물"}
	seedSymbols      = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT"}

	freeTitles = []string{
		"오늘 장 분위기 어떤가요?",
		"비트 다시 오를까요",
		"레버리지 몇 배 쓰세요?",
		"펀딩비 너무 높네요",
		"처음 선물 해봤습니다",
		"차트 공부 자료 공유합니다",
		"물렸습니다 조언 부탁드려요",
		"주말 횡보 지겹네요",
	}
	profitTitles = []string{
		"%s %s 익절 인증합니다",
		"%s %s 수익 인증",
		"오늘 %s %s로 한 건 했네요",
		"%s %s 존버 끝에 익절",
	}
)

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by seed presets and tests.
type Factory struct {
	db   *gorm.DB
	opts Options
	r    *rand.Rand
	// seq keeps usernames and phone numbers unique across one run
	seq uint
	// synthetic ID counter when running in DryRun mode
	nextID uint
	hash   string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	f := &Factory{
		db:     db,
		opts:   opts,
		r:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404: acceptable for seeding
		nextID: 1000,
	}
	gofakeit.Seed(time.Now().UnixNano())

	if db != nil && !opts.DryRun {
		var existing int64
		if err := db.Unscoped().Model(&models.User{}).Count(&existing).Error; err == nil {
			f.seq = uint(existing)
		}
	}
	return f
}

// CreateUser constructs and persists a sample member.
// Optional override functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	f.seq++
	n := f.seq
	now := time.Now()
	user := &models.User{
		Username:        fmt.Sprintf("trader%05d", n),
		Nickname:        fmt.Sprintf("%s%d", nicknamePrefixes[f.r.Intn(len(nicknamePrefixes))], n),
		Email:           fmt.Sprintf("trader%05d@example.com", n),
		Name:            gofakeit.Name(),
		Phone:           fmt.Sprintf("010%08d", n),
		BirthDate:       gofakeit.Date().Format("20060102"),
		PhoneVerifiedAt: &now,
		Bio:             gofakeit.Sentence(8),
		Avatar:          fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}

	hash, err := f.passwordHash()
	if err != nil {
		return nil, err
	}
	user.Password = hash

	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		log.Printf("[dry-run] CreateUser: %s (%s)", user.Username, user.Nickname)
		return user, nil
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildPost constructs a post on board without persisting it. Profit
// posts carry a symbol, side, leverage and a plausible return.
func (f *Factory) BuildPost(user *models.User, board models.Board, overrides ...func(*models.Post)) *models.Post {
	post := &models.Post{
		Board:   board,
		Title:   freeTitles[f.r.Intn(len(freeTitles))],
		Content: gofakeit.Paragraph(1, 3, 8, "\n"),
		UserID:  user.ID,
		Status:  models.PostStatusPublished,
	}

	// realistic created_at spread
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	daysBack := f.r.Intn(maxDays)
	hoursBack := f.r.Intn(24)
	minsBack := f.r.Intn(60)
	post.CreatedAt = time.Now().Add(-time.Duration(daysBack)*24*time.Hour - time.Duration(hoursBack)*time.Hour - time.Duration(minsBack)*time.Minute)

	if board == models.BoardProfit {
		side := models.SideLong
		if f.r.Intn(3) == 0 {
			side = models.SideShort
		}
		margin := float64(100 + f.r.Intn(1900))
		post.Symbol = seedSymbols[f.r.Intn(len(seedSymbols))]
		post.Side = string(side)
		post.Leverage = 1 + f.r.Intn(50)
		post.ProfitRate = math.Round((f.r.Float64()*300-20)*100) / 100
		post.ProfitAmount = math.Round(margin*post.ProfitRate) / 100
		post.Title = fmt.Sprintf(profitTitles[f.r.Intn(len(profitTitles))], post.Symbol, side)
		post.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/600", gofakeit.UUID())
	} else if f.r.Float32() < 0.3 {
		post.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", gofakeit.UUID())
	}

	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePostsBatch persists multiple posts in a single DB call when possible.
func (f *Factory) CreatePostsBatch(posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if f.opts.DryRun {
		for _, p := range posts {
			f.nextID++
			p.ID = f.nextID
		}
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	return f.db.CreateInBatches(posts, f.batchSize()).Error
}

// CreateComment persists a comment by user on post. A non-nil parent makes
// it a reply.
func (f *Factory) CreateComment(user *models.User, post *models.Post, parent *models.Comment) (*models.Comment, error) {
	comment := &models.Comment{
		Content: gofakeit.Sentence(8),
		UserID:  user.ID,
		PostID:  post.ID,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}
	comment.CreatedAt = post.CreatedAt.Add(time.Duration(1+f.r.Intn(600)) * time.Minute)

	if err := f.db.Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateLike persists a like from user on post.
func (f *Factory) CreateLike(user *models.User, post *models.Post) error {
	return f.db.Create(&models.Like{UserID: user.ID, PostID: post.ID}).Error
}

// passwordHash hashes DefaultPassword once per factory. SkipBcrypt drops
// to the minimum cost for fast local runs.
func (f *Factory) passwordHash() (string, error) {
	if f.hash != "" {
		return f.hash, nil
	}
	cost := bcrypt.DefaultCost
	if f.opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), cost)
	if err != nil {
		return "", err
	}
	f.hash = string(hashed)
	return f.hash, nil
}

func (f *Factory) batchSize() int {
	if f.opts.BatchSize > 0 {
		return f.opts.BatchSize
	}
	return 100
}
