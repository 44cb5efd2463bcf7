// Package points owns the KOR-Coin wallet. Every balance change is a
// conditional update on users plus a coin_transactions row written in the
// same transaction.
package points

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"kortrade/internal/cache"
	"kortrade/internal/models"
	"kortrade/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance is returned when a debit would take the wallet
// below zero.
var ErrInsufficientBalance = errors.New("insufficient KOR-Coin balance")

// KST is the day boundary for reward caps and economy charts.
var KST = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// DayStart returns midnight Asia/Seoul of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.In(KST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, KST)
}

// Entry describes one balance change.
type Entry struct {
	UserID  uint
	Type    models.CoinTxType
	Amount  float64
	RefType string
	RefID   uint
	Memo    string
}

// Service applies ledger entries and pays community rewards.
type Service struct {
	db       *gorm.DB
	rdb      *redis.Client
	now      func() time.Time
	onReward func(ctx context.Context, userID uint, r Reward)
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb, now: time.Now}
}

// OnReward registers a callback invoked after a reward is committed.
func (s *Service) OnReward(fn func(ctx context.Context, userID uint, r Reward)) {
	s.onReward = fn
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Apply runs ApplyTx in its own transaction and drops the cached user.
func (s *Service) Apply(ctx context.Context, e Entry) (row *models.CoinTransaction, err error) {
	span, ctx := observability.StartSpan(ctx, "points.apply",
		attribute.String("coin.type", string(e.Type)),
		attribute.Int64("user.id", int64(e.UserID)),
	)
	defer func() { span.Finish(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.ApplyTx(ctx, tx, e)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, e.UserID)
	return row, nil
}

// ApplyTx changes the balance inside the caller's transaction. The caller
// must call Invalidate after commit.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, e Entry) (*models.CoinTransaction, error) {
	if e.UserID == 0 {
		return nil, models.NewValidationError("user is required")
	}
	if math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return nil, models.NewValidationError("invalid amount")
	}
	tx = tx.WithContext(ctx)

	updates := map[string]interface{}{
		"kor_coin_balance": gorm.Expr("kor_coin_balance + ?", e.Amount),
	}
	if e.Type.IsReward() && e.Amount > 0 {
		updates["activity_points"] = gorm.Expr("activity_points + ?", int64(math.Round(e.Amount)))
	}

	res := tx.Model(&models.User{}).
		Where("id = ? AND kor_coin_balance + ? >= 0", e.UserID, e.Amount).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", e.UserID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, models.NewNotFoundError("User", e.UserID)
		}
		return nil, ErrInsufficientBalance
	}

	var after float64
	if err := tx.Model(&models.User{}).Select("kor_coin_balance").
		Where("id = ?", e.UserID).Row().Scan(&after); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	row := &models.CoinTransaction{
		UserID:        e.UserID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: after - e.Amount,
		BalanceAfter:  after,
		RefType:       e.RefType,
		RefID:         e.RefID,
		Memo:          e.Memo,
		CreatedAt:     s.now().UTC(),
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("insert ledger row: %w", err)
	}

	direction := "credit"
	if e.Amount < 0 {
		direction = "debit"
	}
	observability.CoinFlow.WithLabelValues(string(e.Type), direction).Add(math.Abs(e.Amount))
	return row, nil
}

// Invalidate drops cached user rows after a committed balance change.
func (s *Service) Invalidate(ctx context.Context, userIDs ...uint) {
	for _, id := range userIDs {
		cache.InvalidateUser(ctx, s.rdb, id)
	}
}

// lockUser takes a row lock so concurrent reward checks for the same user
// serialize. SQLite ignores the locking clause.
func lockUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var u models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("User", userID)
	}
	return &u, err
}
