package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kortrade/internal/models"

	"gorm.io/gorm"
)

// Action is a community action that may earn KOR-Coin.
type Action string

const (
	ActionFreePost     Action = "free_post"
	ActionProfitPost   Action = "profit_post"
	ActionComment      Action = "comment"
	ActionLikeReceived Action = "like_received"
	ActionShare        Action = "share"
	ActionAttendance   Action = "attendance"
)

// Rule is the payout and daily cap for an action.
type Rule struct {
	Type     models.CoinTxType `json:"type"`
	Coins    float64           `json:"coins"`
	DailyCap int64             `json:"daily_cap"`
}

// Rules is the reward table. Caps are per Asia/Seoul day.
var Rules = map[Action]Rule{
	ActionFreePost:     {Type: models.CoinRewardPost, Coins: 10, DailyCap: 5},
	ActionProfitPost:   {Type: models.CoinRewardProfit, Coins: 20, DailyCap: 3},
	ActionComment:      {Type: models.CoinRewardComment, Coins: 2, DailyCap: 20},
	ActionLikeReceived: {Type: models.CoinRewardLike, Coins: 1, DailyCap: 50},
	ActionShare:        {Type: models.CoinRewardShare, Coins: 1, DailyCap: 5},
	ActionAttendance:   {Type: models.CoinAttendance, Coins: 5, DailyCap: 1},
}

// rewardOrder fixes the order of today's counters in responses.
var rewardOrder = []Action{ActionFreePost, ActionProfitPost, ActionComment, ActionLikeReceived, ActionShare, ActionAttendance}

// ErrAlreadyAttended is returned for a second check-in on the same KST day.
var ErrAlreadyAttended = errors.New("already checked in today")

// Reward is the outcome of a reward attempt. Rewarded is false when the
// daily cap was reached or the same reference was already paid.
type Reward struct {
	Action     Action  `json:"action"`
	Rewarded   bool    `json:"rewarded"`
	Amount     float64 `json:"amount"`
	Balance    float64 `json:"balance"`
	TodayCount int64   `json:"today_count"`
	DailyCap   int64   `json:"daily_cap"`
}

// RewardRef identifies what the reward is for. Memo participates in
// deduplication, so "liker:<id>" keeps one payout per liker and post.
type RewardRef struct {
	Type string
	ID   uint
	Memo string
}

// Reward pays the action's coins to userID unless the daily cap is reached
// or ref was already rewarded.
func (s *Service) Reward(ctx context.Context, userID uint, action Action, ref RewardRef) (*Reward, error) {
	rule, ok := Rules[action]
	if !ok {
		return nil, fmt.Errorf("unknown reward action %q", action)
	}
	out := &Reward{Action: action, DailyCap: rule.DailyCap}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			out.Balance = u.KorCoinBalance
			return nil
		}

		if ref.Type != "" {
			var paid int64
			if err := tx.Model(&models.CoinTransaction{}).
				Where("user_id = ? AND type = ? AND ref_type = ? AND ref_id = ? AND memo = ?",
					userID, rule.Type, ref.Type, ref.ID, ref.Memo).
				Count(&paid).Error; err != nil {
				return err
			}
			if paid > 0 {
				out.Balance = u.KorCoinBalance
				out.TodayCount, err = s.countToday(tx, userID, rule.Type)
				return err
			}
		}

		count, err := s.countToday(tx, userID, rule.Type)
		if err != nil {
			return err
		}
		out.TodayCount = count
		if count >= rule.DailyCap {
			out.Balance = u.KorCoinBalance
			return nil
		}

		row, err := s.ApplyTx(ctx, tx, Entry{
			UserID:  userID,
			Type:    rule.Type,
			Amount:  rule.Coins,
			RefType: ref.Type,
			RefID:   ref.ID,
			Memo:    ref.Memo,
		})
		if err != nil {
			return err
		}
		out.Rewarded = true
		out.Amount = rule.Coins
		out.Balance = row.BalanceAfter
		out.TodayCount = count + 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Rewarded {
		s.Invalidate(ctx, userID)
		if s.onReward != nil {
			s.onReward(ctx, userID, *out)
		}
	}
	return out, nil
}

func (s *Service) countToday(tx *gorm.DB, userID uint, t models.CoinTxType) (int64, error) {
	var n int64
	err := tx.Model(&models.CoinTransaction{}).
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, t, DayStart(s.now()).UTC()).
		Count(&n).Error
	return n, err
}

// Attend records today's check-in and pays the attendance reward.
func (s *Service) Attend(ctx context.Context, userID uint) (*Reward, error) {
	rule := Rules[ActionAttendance]
	out := &Reward{Action: ActionAttendance, DailyCap: rule.DailyCap}
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if u.LastAttendanceAt != nil && !u.LastAttendanceAt.Before(DayStart(now)) {
			return ErrAlreadyAttended
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("last_attendance_at", now.UTC()).Error; err != nil {
			return err
		}
		row, err := s.ApplyTx(ctx, tx, Entry{
			UserID:  userID,
			Type:    rule.Type,
			Amount:  rule.Coins,
			RefType: "attendance",
			Memo:    DayStart(now).Format("2006-01-02"),
		})
		if err != nil {
			return err
		}
		out.Rewarded = true
		out.Amount = rule.Coins
		out.Balance = row.BalanceAfter
		out.TodayCount = 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, userID)
	if s.onReward != nil {
		s.onReward(ctx, userID, *out)
	}
	return out, nil
}

// TodayCounter is one action's progress toward its daily cap.
type TodayCounter struct {
	Action   Action  `json:"action"`
	Count    int64   `json:"count"`
	DailyCap int64   `json:"daily_cap"`
	Coins    float64 `json:"coins"`
}

// Summary is the caller's wallet view.
type Summary struct {
	Balance        float64        `json:"kor_coin_balance"`
	ActivityPoints int64          `json:"activity_points"`
	Level          int            `json:"level"`
	AttendedToday  bool           `json:"attended_today"`
	Today          []TodayCounter `json:"today"`
	DayStartsAt    time.Time      `json:"day_starts_at"`
}

// Me returns balance, level and today's reward counters.
func (s *Service) Me(ctx context.Context, userID uint) (*Summary, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", userID)
		}
		return nil, err
	}
	start := DayStart(s.now())

	type typeCount struct {
		Type  models.CoinTxType
		Count int64
	}
	var rows []typeCount
	if err := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).
		Select("type, COUNT(*) AS count").
		Where("user_id = ? AND created_at >= ?", userID, start.UTC()).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	byType := make(map[models.CoinTxType]int64, len(rows))
	for _, r := range rows {
		byType[r.Type] = r.Count
	}

	sum := &Summary{
		Balance:        u.KorCoinBalance,
		ActivityPoints: u.ActivityPoints,
		Level:          u.Level(),
		AttendedToday:  u.LastAttendanceAt != nil && !u.LastAttendanceAt.Before(start),
		DayStartsAt:    start,
	}
	for _, a := range rewardOrder {
		rule := Rules[a]
		sum.Today = append(sum.Today, TodayCounter{Action: a, Count: byType[rule.Type], DailyCap: rule.DailyCap, Coins: rule.Coins})
	}
	return sum, nil
}
