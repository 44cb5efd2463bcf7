package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"kortrade/internal/config"
	"kortrade/internal/market"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/observability"
	"kortrade/internal/points"
	"kortrade/internal/trading"
	"kortrade/internal/validation"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// quantityEpsilon absorbs float noise when comparing contract sizes.
	quantityEpsilon = 1e-8
	precision       = trading.Precision
)

// PriceSource supplies mark prices for listed symbols. market.Feed
// implements it. PremiumIndex skips any cache and carries the funding rate
// of the last settled window.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (market.MarkPrice, error)
	PremiumIndex(ctx context.Context, symbol string) (market.MarkPrice, error)
	Listed(symbol string) bool
}

type TradingConfig struct {
	TakerFeeRate float64
	MaxLeverage  int
	MinMargin    float64
}

// TradingConfigFrom reads the trading section of the market config.
func TradingConfigFrom(cfg *config.MarketConfig) TradingConfig {
	return TradingConfig{
		TakerFeeRate: cfg.Trading.TakerFeeRate,
		MaxLeverage:  cfg.Trading.MaxLeverage,
		MinMargin:    cfg.Trading.MinMargin,
	}
}

// TradingService runs the simulated futures room. Orders fill at the mark
// price and only move the user's KOR-Coin wallet.
type TradingService struct {
	db            *gorm.DB
	points        *points.Service
	prices        PriceSource
	brackets      *trading.BracketTable
	cfg           TradingConfig
	activity      *ActivityRecorder
	now           func() time.Time
	logger        *slog.Logger
	onForcedClose func(ctx context.Context, pos *models.Position, action models.TradeAction)
}

func NewTradingService(
	db *gorm.DB,
	pts *points.Service,
	prices PriceSource,
	brackets *trading.BracketTable,
	cfg TradingConfig,
	activity *ActivityRecorder,
) *TradingService {
	if brackets == nil {
		brackets = trading.DefaultBrackets()
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 125
	}
	return &TradingService{
		db:       db,
		points:   pts,
		prices:   prices,
		brackets: brackets,
		cfg:      cfg,
		activity: activity,
		now:      time.Now,
		logger:   middleware.Component("trading"),
	}
}

// OnForcedClose registers a callback for liquidations and TP/SL fills made
// by the watcher.
func (s *TradingService) OnForcedClose(fn func(ctx context.Context, pos *models.Position, action models.TradeAction)) {
	s.onForcedClose = fn
}

type OrderInput struct {
	UserID     uint
	Symbol     string
	Side       models.PositionSide
	Leverage   int
	Margin     float64
	TakeProfit *float64
	StopLoss   *float64
	IP         string
}

type OrderResult struct {
	Position *models.Position     `json:"position"`
	Trade    *models.TradeHistory `json:"trade"`
	Balance  float64              `json:"kor_coin_balance"`
}

func (s *TradingService) markPrice(ctx context.Context, symbol string) (float64, error) {
	mp, err := s.prices.MarkPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, market.ErrUnknownSymbol) {
			return 0, models.NewValidationError("거래할 수 없는 종목입니다")
		}
		return 0, models.NewUnavailableError("시세를 가져오지 못했습니다. 잠시 후 다시 시도해주세요", err)
	}
	if mp.MarkPrice <= 0 {
		return 0, models.NewUnavailableError("시세를 가져오지 못했습니다. 잠시 후 다시 시도해주세요", market.ErrNoPrice)
	}
	return mp.MarkPrice, nil
}

func (s *TradingService) normalizeSymbol(raw string) (string, error) {
	symbol, err := validation.NormalizeSymbol(raw)
	if err != nil || !s.prices.Listed(symbol) {
		return "", models.NewValidationError("거래할 수 없는 종목입니다")
	}
	return symbol, nil
}

func (s *TradingService) validateOrder(in *OrderInput) error {
	symbol, err := s.normalizeSymbol(in.Symbol)
	if err != nil {
		return err
	}
	in.Symbol = symbol
	in.Side = models.PositionSide(strings.ToLower(string(in.Side)))
	if !in.Side.Valid() {
		return models.NewValidationError("포지션은 long 또는 short 이어야 합니다")
	}
	if in.Leverage < 1 || in.Leverage > s.cfg.MaxLeverage {
		return models.NewValidationError(fmt.Sprintf("레버리지는 1~%d배 사이여야 합니다", s.cfg.MaxLeverage))
	}
	if math.IsNaN(in.Margin) || math.IsInf(in.Margin, 0) || in.Margin <= 0 {
		return models.NewValidationError("증거금을 입력해주세요")
	}
	if in.Margin < s.cfg.MinMargin {
		return models.NewValidationError(fmt.Sprintf("최소 증거금은 %.0f KOR입니다", s.cfg.MinMargin))
	}
	return nil
}

func mapTradingErr(err error) error {
	switch {
	case errors.Is(err, points.ErrInsufficientBalance):
		return models.NewInsufficientBalanceError("KOR-Coin 잔액이 부족합니다")
	case errors.Is(err, trading.ErrLeverageTooHigh):
		return models.NewValidationError("포지션 규모에 비해 레버리지가 너무 높습니다")
	case errors.Is(err, trading.ErrInvalidTrigger):
		return models.NewValidationError("익절가 또는 손절가가 현재가 기준으로 올바르지 않습니다")
	}
	return err
}

func lockUserRow(tx *gorm.DB, userID uint) error {
	var u models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("User", userID)
	}
	return err
}

func findOpenPosition(tx *gorm.DB, userID uint, symbol string) (*models.Position, error) {
	var pos models.Position
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND symbol = ? AND status = ?", userID, symbol, models.PositionOpen).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *TradingService) liquidationPrice(p *models.Position) float64 {
	b := s.brackets.Find(p.Symbol, trading.Notional(p.EntryPrice, p.Quantity))
	return trading.Round(trading.LiquidationPrice(p.Side, p.EntryPrice, p.Quantity, p.Margin, b), precision)
}

// PlaceOrder fills a market order at the mark price. Same-side orders grow
// the open position; opposite-side orders reduce it and may not exceed it.
func (s *TradingService) PlaceOrder(ctx context.Context, in OrderInput) (_ *OrderResult, err error) {
	span, ctx := observability.StartSpan(ctx, "trading.place_order",
		attribute.String("order.symbol", strings.ToUpper(in.Symbol)),
		attribute.Int("order.leverage", in.Leverage),
	)
	defer func() { span.Finish(err) }()

	if err := s.validateOrder(&in); err != nil {
		return nil, err
	}
	price, err := s.markPrice(ctx, in.Symbol)
	if err != nil {
		return nil, err
	}
	qty := trading.QuantityFor(in.Margin, in.Leverage, price)
	if qty <= 0 {
		return nil, models.NewValidationError("주문 수량이 너무 작습니다")
	}

	var result OrderResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserRow(tx, in.UserID); err != nil {
			return err
		}
		pos, err := findOpenPosition(tx, in.UserID, in.Symbol)
		if err != nil {
			return err
		}

		var trade *models.TradeHistory
		switch {
		case pos == nil:
			pos, trade, err = s.open(ctx, tx, in, qty, price)
		case pos.Side == in.Side:
			trade, err = s.increase(ctx, tx, pos, in, qty, price)
		default:
			if qty > pos.Quantity+quantityEpsilon {
				return models.NewValidationError("반대 방향 주문은 보유 수량까지만 가능합니다")
			}
			if math.Abs(qty-pos.Quantity) <= quantityEpsilon {
				qty = pos.Quantity
			}
			trade, _, err = s.settleClose(ctx, tx, pos, qty, price, models.TradeReduce)
		}
		if err != nil {
			return err
		}

		var balance float64
		if err := tx.Model(&models.User{}).Select("kor_coin_balance").Where("id = ?", in.UserID).Row().Scan(&balance); err != nil {
			return err
		}
		result = OrderResult{Position: pos, Trade: trade, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, mapTradingErr(err)
	}
	s.points.Invalidate(ctx, in.UserID)

	observability.TradingOrders.WithLabelValues(in.Symbol, string(result.Trade.Action)).Inc()
	action := models.ActionPositionOpen
	if result.Trade.Action == models.TradeReduce {
		action = models.ActionPositionClose
	}
	s.activity.Record(ctx, ActivityEntry{
		ActorID: in.UserID, Action: action, TargetType: "position", TargetID: result.Position.ID, IP: in.IP,
		Detail: map[string]interface{}{
			"symbol": in.Symbol, "side": in.Side, "trade": result.Trade.Action,
			"price": price, "quantity": result.Trade.Quantity, "leverage": in.Leverage,
		},
	})
	s.fillLive(result.Position, price)
	return &result, nil
}

func (s *TradingService) open(ctx context.Context, tx *gorm.DB, in OrderInput, qty, price float64) (*models.Position, *models.TradeHistory, error) {
	notional := trading.Notional(price, qty)
	if in.Leverage > s.brackets.MaxLeverageFor(in.Symbol, notional) {
		return nil, nil, trading.ErrLeverageTooHigh
	}
	if err := trading.ValidateTriggers(in.Side, price, in.TakeProfit, in.StopLoss); err != nil {
		return nil, nil, err
	}
	fee := trading.Fee(notional, s.cfg.TakerFeeRate)
	now := s.now().UTC()

	pos := &models.Position{
		UserID:     in.UserID,
		Symbol:     in.Symbol,
		Side:       in.Side,
		Status:     models.PositionOpen,
		Leverage:   in.Leverage,
		Quantity:   qty,
		EntryPrice: price,
		Margin:     trading.Round(in.Margin, precision),
		TakeProfit: in.TakeProfit,
		StopLoss:   in.StopLoss,
		FeesPaid:   fee,
		OpenedAt:   now,
	}
	pos.LiquidationPrice = s.liquidationPrice(pos)
	if err := tx.Create(pos).Error; err != nil {
		return nil, nil, err
	}
	if err := s.debitOrder(ctx, tx, pos, pos.Margin, fee); err != nil {
		return nil, nil, err
	}

	trade := &models.TradeHistory{
		UserID: in.UserID, PositionID: pos.ID, Symbol: in.Symbol, Side: in.Side, Action: models.TradeOpen,
		Leverage: in.Leverage, Price: price, Quantity: qty, Margin: pos.Margin, Fee: fee, CreatedAt: now,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, nil, err
	}
	return pos, trade, nil
}

func (s *TradingService) increase(ctx context.Context, tx *gorm.DB, pos *models.Position, in OrderInput, qty, price float64) (*models.TradeHistory, error) {
	if in.Leverage != pos.Leverage {
		return nil, models.NewValidationError(fmt.Sprintf("보유 포지션과 같은 레버리지(%d배)로 주문해야 합니다", pos.Leverage))
	}
	totalQty := trading.Round(pos.Quantity+qty, precision)
	entry := trading.AverageEntry(pos.Quantity, pos.EntryPrice, qty, price)
	if pos.Leverage > s.brackets.MaxLeverageFor(pos.Symbol, trading.Notional(entry, totalQty)) {
		return nil, trading.ErrLeverageTooHigh
	}
	tp, sl := pos.TakeProfit, pos.StopLoss
	if in.TakeProfit != nil {
		tp = in.TakeProfit
	}
	if in.StopLoss != nil {
		sl = in.StopLoss
	}
	if err := trading.ValidateTriggers(pos.Side, price, tp, sl); err != nil {
		return nil, err
	}

	fee := trading.Fee(trading.Notional(price, qty), s.cfg.TakerFeeRate)
	margin := trading.Round(in.Margin, precision)
	pos.Quantity = totalQty
	pos.EntryPrice = trading.Round(entry, precision)
	pos.Margin = trading.Round(pos.Margin+margin, precision)
	pos.FeesPaid = trading.Round(pos.FeesPaid+fee, precision)
	pos.TakeProfit, pos.StopLoss = tp, sl
	pos.LiquidationPrice = s.liquidationPrice(pos)
	if err := tx.Save(pos).Error; err != nil {
		return nil, err
	}
	if err := s.debitOrder(ctx, tx, pos, margin, fee); err != nil {
		return nil, err
	}

	trade := &models.TradeHistory{
		UserID: pos.UserID, PositionID: pos.ID, Symbol: pos.Symbol, Side: pos.Side, Action: models.TradeIncrease,
		Leverage: pos.Leverage, Price: price, Quantity: qty, Margin: margin, Fee: fee, CreatedAt: s.now().UTC(),
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, err
	}
	return trade, nil
}

func (s *TradingService) debitOrder(ctx context.Context, tx *gorm.DB, pos *models.Position, margin, fee float64) error {
	if _, err := s.points.ApplyTx(ctx, tx, points.Entry{
		UserID: pos.UserID, Type: models.CoinTradeMargin, Amount: -margin,
		RefType: "position", RefID: pos.ID, Memo: pos.Symbol,
	}); err != nil {
		return err
	}
	if fee <= 0 {
		return nil
	}
	_, err := s.points.ApplyTx(ctx, tx, points.Entry{
		UserID: pos.UserID, Type: models.CoinTradeFee, Amount: -fee,
		RefType: "position", RefID: pos.ID, Memo: pos.Symbol,
	})
	return err
}

// settleClose closes qty of pos at price inside tx and credits the payout.
func (s *TradingService) settleClose(ctx context.Context, tx *gorm.DB, pos *models.Position, qty, price float64, action models.TradeAction) (*models.TradeHistory, trading.CloseResult, error) {
	res := trading.Close(pos, qty, price, s.cfg.TakerFeeRate)
	if res.Payout > 0 {
		if _, err := s.points.ApplyTx(ctx, tx, points.Entry{
			UserID: pos.UserID, Type: models.CoinTradePnL, Amount: res.Payout,
			RefType: "position", RefID: pos.ID, Memo: string(action),
		}); err != nil {
			return nil, res, err
		}
	}

	now := s.now().UTC()
	pos.RealizedPnL = trading.Round(pos.RealizedPnL+res.RealizedPnL, precision)
	pos.FeesPaid = trading.Round(pos.FeesPaid+res.Fee, precision)
	remaining := trading.Round(pos.Quantity-res.Quantity, precision)
	if remaining <= quantityEpsilon {
		pos.Status = models.PositionClosed
		pos.ClosedAt = &now
		pos.Margin = 0
	} else {
		pos.Quantity = remaining
		pos.Margin = trading.Round(pos.Margin-res.MarginFreed, precision)
		pos.LiquidationPrice = s.liquidationPrice(pos)
	}
	if err := tx.Save(pos).Error; err != nil {
		return nil, res, err
	}

	trade := &models.TradeHistory{
		UserID: pos.UserID, PositionID: pos.ID, Symbol: pos.Symbol, Side: pos.Side, Action: action,
		Leverage: pos.Leverage, Price: price, Quantity: res.Quantity, Margin: res.MarginFreed,
		Fee: res.Fee, RealizedPnL: res.RealizedPnL, CreatedAt: now,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, res, err
	}
	return trade, res, nil
}

func (s *TradingService) ownedOpenPosition(tx *gorm.DB, userID, positionID uint) (*models.Position, error) {
	var pos models.Position
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", positionID, userID).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundMessage("포지션을 찾을 수 없습니다")
	}
	if err != nil {
		return nil, err
	}
	if pos.Status != models.PositionOpen {
		return nil, models.NewConflictError("이미 종료된 포지션입니다")
	}
	return &pos, nil
}

// ClosePosition closes quantity of a position at the mark; nil or a
// quantity at least the position size closes it fully.
func (s *TradingService) ClosePosition(ctx context.Context, userID, positionID uint, quantity *float64, ip string) (*OrderResult, error) {
	if quantity != nil && (*quantity <= 0 || math.IsNaN(*quantity) || math.IsInf(*quantity, 0)) {
		return nil, models.NewValidationError("청산 수량이 올바르지 않습니다")
	}

	symbol, price, err := s.positionMark(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}

	var result OrderResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserRow(tx, userID); err != nil {
			return err
		}
		pos, err := s.ownedOpenPosition(tx, userID, positionID)
		if err != nil {
			return err
		}
		qty := pos.Quantity
		if quantity != nil && *quantity < pos.Quantity-quantityEpsilon {
			qty = *quantity
		}
		trade, _, err := s.settleClose(ctx, tx, pos, qty, price, models.TradeClose)
		if err != nil {
			return err
		}
		var balance float64
		if err := tx.Model(&models.User{}).Select("kor_coin_balance").Where("id = ?", userID).Row().Scan(&balance); err != nil {
			return err
		}
		result = OrderResult{Position: pos, Trade: trade, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, mapTradingErr(err)
	}
	s.points.Invalidate(ctx, userID)

	observability.TradingOrders.WithLabelValues(symbol, string(models.TradeClose)).Inc()
	s.activity.Record(ctx, ActivityEntry{
		ActorID: userID, Action: models.ActionPositionClose, TargetType: "position", TargetID: positionID, IP: ip,
		Detail: map[string]interface{}{
			"symbol": symbol, "price": price, "quantity": result.Trade.Quantity, "realized_pnl": result.Trade.RealizedPnL,
		},
	})
	if result.Position.Status == models.PositionOpen {
		s.fillLive(result.Position, price)
	}
	return &result, nil
}

// positionMark reads the mark for one of the user's positions before any
// row is locked; the price source may go to the network.
func (s *TradingService) positionMark(ctx context.Context, userID, positionID uint) (string, float64, error) {
	var symbol string
	if err := s.db.WithContext(ctx).Model(&models.Position{}).Select("symbol").
		Where("id = ? AND user_id = ?", positionID, userID).Row().Scan(&symbol); err != nil {
		return "", 0, models.NewNotFoundMessage("포지션을 찾을 수 없습니다")
	}
	price, err := s.markPrice(ctx, symbol)
	if err != nil {
		return "", 0, err
	}
	return symbol, price, nil
}

// SetTPSL replaces both triggers; nil clears one.
func (s *TradingService) SetTPSL(ctx context.Context, userID, positionID uint, tp, sl *float64) (*models.Position, error) {
	_, price, err := s.positionMark(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}

	var pos *models.Position
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pos, err = s.ownedOpenPosition(tx, userID, positionID)
		if err != nil {
			return err
		}
		if err := trading.ValidateTriggers(pos.Side, price, tp, sl); err != nil {
			return err
		}
		pos.TakeProfit, pos.StopLoss = tp, sl
		if err := tx.Model(pos).Select("take_profit", "stop_loss").Updates(pos).Error; err != nil {
			return err
		}
		s.fillLive(pos, price)
		return nil
	})
	if err != nil {
		return nil, mapTradingErr(err)
	}
	return pos, nil
}

// fillLive sets the mark-derived fields of an open position.
func (s *TradingService) fillLive(p *models.Position, mark float64) {
	if p == nil || p.Status != models.PositionOpen || mark <= 0 {
		return
	}
	p.MarkPrice = mark
	p.UnrealizedPnL = trading.Round(trading.UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Quantity), precision)
	p.ROE = trading.Round(trading.ROE(p.UnrealizedPnL, p.Margin), 4)
}

// OpenPositions lists the user's open positions with live PnL.
func (s *TradingService) OpenPositions(ctx context.Context, userID uint) ([]models.Position, error) {
	var positions []models.Position
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.PositionOpen).
		Order("opened_at DESC, id DESC").
		Find(&positions).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	marks := make(map[string]float64)
	for i := range positions {
		p := &positions[i]
		mark, ok := marks[p.Symbol]
		if !ok {
			if mp, err := s.prices.MarkPrice(ctx, p.Symbol); err == nil {
				mark = mp.MarkPrice
			}
			marks[p.Symbol] = mark
		}
		s.fillLive(p, mark)
	}
	return positions, nil
}

type TradeHistoryFilter struct {
	UserID uint
	Symbol string
	Limit  int
	Offset int
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *TradingService) History(ctx context.Context, f TradeHistoryFilter) ([]models.TradeHistory, int64, error) {
	limit, offset := pageBounds(f.Limit, f.Offset)
	q := s.db.WithContext(ctx).Model(&models.TradeHistory{}).Where("user_id = ?", f.UserID)
	if f.Symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(f.Symbol))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var rows []models.TradeHistory
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return rows, total, nil
}

func (s *TradingService) FundingHistory(ctx context.Context, userID uint, limit, offset int) ([]models.FundingPayment, int64, error) {
	limit, offset = pageBounds(limit, offset)
	q := s.db.WithContext(ctx).Model(&models.FundingPayment{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var rows []models.FundingPayment
	if err := q.Order("settled_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return rows, total, nil
}

// Summary is the trading room account overview.
type Summary struct {
	Balance       float64 `json:"kor_coin_balance"`
	Equity        float64 `json:"equity"`
	UsedMargin    float64 `json:"used_margin"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	FeesPaid      float64 `json:"fees_paid"`
	FundingNet    float64 `json:"funding_net"`
	OpenPositions int     `json:"open_positions"`
	ClosedTrades  int64   `json:"closed_trades"`
	WinningTrades int64   `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
}

var closingActions = []models.TradeAction{
	models.TradeReduce, models.TradeClose, models.TradeTakeProfit, models.TradeStopLoss, models.TradeLiquidation,
}

func (s *TradingService) Summary(ctx context.Context, userID uint) (*Summary, error) {
	db := s.db.WithContext(ctx)
	var out Summary
	if err := db.Model(&models.User{}).Select("kor_coin_balance").Where("id = ?", userID).Row().Scan(&out.Balance); err != nil {
		return nil, models.NewNotFoundError("User", userID)
	}

	open, err := s.OpenPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out.OpenPositions = len(open)
	for _, p := range open {
		out.UsedMargin += p.Margin
		out.UnrealizedPnL += p.UnrealizedPnL
	}

	var agg struct {
		Realized float64
		Fees     float64
		Trades   int64
		Wins     int64
	}
	if err := db.Model(&models.TradeHistory{}).
		Select("COALESCE(SUM(realized_pnl), 0) AS realized, COUNT(*) AS trades, "+
			"COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0) AS wins").
		Where("user_id = ? AND action IN ?", userID, closingActions).
		Scan(&agg).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := db.Model(&models.TradeHistory{}).
		Select("COALESCE(SUM(fee), 0)").
		Where("user_id = ?", userID).Row().Scan(&agg.Fees); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := db.Model(&models.FundingPayment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).Row().Scan(&out.FundingNet); err != nil {
		return nil, models.NewInternalError(err)
	}

	out.RealizedPnL = trading.Round(agg.Realized, precision)
	out.FeesPaid = trading.Round(agg.Fees, precision)
	out.ClosedTrades = agg.Trades
	out.WinningTrades = agg.Wins
	if agg.Trades > 0 {
		out.WinRate = trading.Round(float64(agg.Wins)/float64(agg.Trades)*100, 2)
	}
	out.UsedMargin = trading.Round(out.UsedMargin, precision)
	out.UnrealizedPnL = trading.Round(out.UnrealizedPnL, precision)
	out.Equity = trading.Round(out.Balance+out.UsedMargin+out.UnrealizedPnL, precision)
	return &out, nil
}
