package points

import (
	"context"
	"time"

	"kortrade/internal/cache"
	"kortrade/internal/models"
)

// HistoryFilter pages a user's ledger, optionally by type.
type HistoryFilter struct {
	UserID uint
	Type   models.CoinTxType
	Limit  int
	Offset int
}

// History returns ledger rows newest first and the total count.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]models.CoinTransaction, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	q := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).Where("user_id = ?", f.UserID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CoinTransaction
	err := q.Order("created_at DESC, id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error
	return rows, total, err
}

// RankEntry is one row of the activity leaderboard.
type RankEntry struct {
	Rank           int               `json:"rank"`
	User           models.PublicUser `json:"user"`
	ActivityPoints int64             `json:"activity_points"`
}

const rankingSize = 50

// Ranking returns the top users by activity points, cached for a minute.
func (s *Service) Ranking(ctx context.Context) ([]RankEntry, error) {
	var out []RankEntry
	err := cache.Aside(ctx, s.rdb, cache.RankingKey, &out, cache.RankingTTL, func() error {
		var users []models.User
		if err := s.db.WithContext(ctx).
			Where("is_banned = ?", false).
			Order("activity_points DESC, id ASC").
			Limit(rankingSize).
			Find(&users).Error; err != nil {
			return err
		}
		out = make([]RankEntry, 0, len(users))
		for i, u := range users {
			out = append(out, RankEntry{Rank: i + 1, User: u.Public(), ActivityPoints: u.ActivityPoints})
		}
		return nil
	})
	return out, err
}

// Supply sums every wallet.
func (s *Service) Supply(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("COALESCE(SUM(kor_coin_balance), 0)").Scan(&total).Error
	return total, err
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }
