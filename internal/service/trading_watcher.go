package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"kortrade/internal/models"
	"kortrade/internal/observability"
	"kortrade/internal/points"
	"kortrade/internal/scheduler"
	"kortrade/internal/trading"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errPositionMoved aborts a forced close when the position changed between
// the sweep read and the locked re-read.
var errPositionMoved = errors.New("position no longer matches trigger")

// RunWatcher sweeps open positions every interval until ctx is done.
func (s *TradingService) RunWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("position sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep liquidates or closes every open position whose mark crossed its
// liquidation, take-profit or stop-loss price. It returns the number of
// positions it closed.
func (s *TradingService) Sweep(ctx context.Context) (int, error) {
	var open []models.Position
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.PositionOpen).
		Order("id").
		Find(&open).Error; err != nil {
		return 0, err
	}

	marks := make(map[string]float64)
	closed := 0
	for i := range open {
		p := &open[i]
		mark, ok := marks[p.Symbol]
		if !ok {
			mp, err := s.prices.MarkPrice(ctx, p.Symbol)
			if err == nil {
				mark = mp.MarkPrice
			}
			marks[p.Symbol] = mark
		}
		if mark <= 0 {
			continue
		}

		var action models.TradeAction
		var price float64
		switch {
		case trading.ShouldLiquidate(p.Side, mark, p.LiquidationPrice):
			action, price = models.TradeLiquidation, p.LiquidationPrice
		case trading.HitStopLoss(p.Side, mark, p.StopLoss):
			action, price = models.TradeStopLoss, *p.StopLoss
		case trading.HitTakeProfit(p.Side, mark, p.TakeProfit):
			action, price = models.TradeTakeProfit, *p.TakeProfit
		default:
			continue
		}

		pos, err := s.forceClose(ctx, p.ID, action, price)
		if errors.Is(err, errPositionMoved) {
			continue
		}
		if err != nil {
			s.logger.Error("forced close failed",
				slog.Uint64("position_id", uint64(p.ID)), slog.String("trigger", string(action)), slog.Any("error", err))
			continue
		}
		closed++
		observability.Liquidations.WithLabelValues(pos.Symbol, string(action)).Inc()

		logAction := models.ActionPositionClose
		if action == models.TradeLiquidation {
			logAction = models.ActionPositionLiquidate
		}
		s.activity.Record(ctx, ActivityEntry{
			ActorID: pos.UserID, Action: logAction, TargetType: "position", TargetID: pos.ID,
			Detail: map[string]interface{}{"symbol": pos.Symbol, "trigger": action, "price": price, "mark": mark},
		})
		if s.onForcedClose != nil {
			s.onForcedClose(ctx, pos, action)
		}
	}
	return closed, nil
}

func (s *TradingService) forceClose(ctx context.Context, positionID uint, action models.TradeAction, price float64) (*models.Position, error) {
	var pos models.Position
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&pos, positionID).Error; err != nil {
			return err
		}
		if pos.Status != models.PositionOpen {
			return errPositionMoved
		}
		if action == models.TradeLiquidation {
			if pos.LiquidationPrice != price {
				return errPositionMoved
			}
			return s.liquidate(ctx, tx, &pos)
		}
		_, _, err := s.settleClose(ctx, tx, &pos, pos.Quantity, price, action)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.points.Invalidate(ctx, pos.UserID)
	return &pos, nil
}

// liquidate forfeits the isolated margin. The wallet is untouched because
// the margin left it when the position opened; a zero-amount ledger row
// keeps the event on the user's statement.
func (s *TradingService) liquidate(ctx context.Context, tx *gorm.DB, pos *models.Position) error {
	now := s.now().UTC()
	lost := pos.Margin
	pos.Status = models.PositionLiquidated
	pos.ClosedAt = &now
	pos.RealizedPnL = trading.Round(pos.RealizedPnL-lost, precision)
	pos.Margin = 0
	if err := tx.Save(pos).Error; err != nil {
		return err
	}
	if err := tx.Create(&models.TradeHistory{
		UserID: pos.UserID, PositionID: pos.ID, Symbol: pos.Symbol, Side: pos.Side, Action: models.TradeLiquidation,
		Leverage: pos.Leverage, Price: pos.LiquidationPrice, Quantity: pos.Quantity, Margin: lost,
		RealizedPnL: -lost, CreatedAt: now,
	}).Error; err != nil {
		return err
	}
	_, err := s.points.ApplyTx(ctx, tx, points.Entry{
		UserID: pos.UserID, Type: models.CoinLiquidation, Amount: 0,
		RefType: "position", RefID: pos.ID, Memo: pos.Symbol,
	})
	return err
}

// FundingTask settles funding for every open position at each interval
// boundary. Re-running a window is a no-op.
func (s *TradingService) FundingTask(interval time.Duration) scheduler.Task {
	return scheduler.TaskFunc{
		TaskName: "funding_settlement",
		Fn: func(ctx context.Context) error {
			_, err := s.SettleFunding(ctx, s.now().UTC().Truncate(interval))
			return err
		},
	}
}

// SettleFunding charges or credits funding for the window starting at
// windowStart and returns how many positions were settled.
func (s *TradingService) SettleFunding(ctx context.Context, windowStart time.Time) (int, error) {
	var open []models.Position
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.PositionOpen).
		Order("id").
		Find(&open).Error; err != nil {
		return 0, err
	}

	rates := make(map[string]*struct{ mark, rate float64 })
	settled := 0
	for _, p := range open {
		r, ok := rates[p.Symbol]
		if !ok {
			mp, err := s.prices.PremiumIndex(ctx, p.Symbol)
			if err != nil || mp.MarkPrice <= 0 {
				s.logger.Warn("funding skipped, no premium index", slog.String("symbol", p.Symbol), slog.Any("error", err))
				rates[p.Symbol] = nil
				continue
			}
			r = &struct{ mark, rate float64 }{mp.MarkPrice, mp.FundingRate}
			rates[p.Symbol] = r
		}
		if r == nil || r.rate == 0 {
			continue
		}

		done, err := s.settleOne(ctx, p.ID, r.mark, r.rate, windowStart)
		if err != nil {
			s.logger.Error("funding settlement failed", slog.Uint64("position_id", uint64(p.ID)), slog.Any("error", err))
			continue
		}
		if done {
			settled++
			observability.FundingSettlements.WithLabelValues(p.Symbol).Inc()
		}
	}
	return settled, nil
}

func (s *TradingService) settleOne(ctx context.Context, positionID uint, mark, rate float64, windowStart time.Time) (bool, error) {
	var pos models.Position
	settled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&pos, positionID).Error; err != nil {
			return err
		}
		if pos.Status != models.PositionOpen {
			return nil
		}
		var seen int64
		if err := tx.Model(&models.FundingPayment{}).
			Where("position_id = ? AND settled_at = ?", pos.ID, windowStart).
			Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return nil
		}

		amount := trading.FundingPayment(pos.Side, mark, pos.Quantity, rate)
		payment := &models.FundingPayment{
			UserID: pos.UserID, PositionID: pos.ID, Symbol: pos.Symbol, FundingRate: rate,
			MarkPrice: mark, Quantity: pos.Quantity, Amount: amount, SettledAt: windowStart,
		}

		if amount > 0 {
			if _, err := s.points.ApplyTx(ctx, tx, points.Entry{
				UserID: pos.UserID, Type: models.CoinFunding, Amount: amount,
				RefType: "position", RefID: pos.ID, Memo: pos.Symbol,
			}); err != nil {
				return err
			}
		} else if amount < 0 {
			owed := -amount
			var balance float64
			if err := tx.Model(&models.User{}).Select("kor_coin_balance").Where("id = ?", pos.UserID).Row().Scan(&balance); err != nil {
				return err
			}
			fromWallet := trading.Round(math.Min(math.Max(balance, 0), owed), precision)
			if fromWallet > 0 {
				if _, err := s.points.ApplyTx(ctx, tx, points.Entry{
					UserID: pos.UserID, Type: models.CoinFunding, Amount: -fromWallet,
					RefType: "position", RefID: pos.ID, Memo: pos.Symbol,
				}); err != nil {
					return err
				}
			}
			// The wallet could not cover it; the rest comes out of margin.
			if shortfall := trading.Round(owed-fromWallet, precision); shortfall > 0 {
				payment.FromMargin = math.Min(shortfall, pos.Margin)
				pos.Margin = trading.Round(pos.Margin-payment.FromMargin, precision)
				pos.LiquidationPrice = s.liquidationPrice(&pos)
			}
		}

		pos.FundingPaid = trading.Round(pos.FundingPaid-amount, precision)
		if err := tx.Save(&pos).Error; err != nil {
			return err
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if settled {
		s.points.Invalidate(ctx, pos.UserID)
	}
	return settled, nil
}
