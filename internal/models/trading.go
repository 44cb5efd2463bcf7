package models

import "time"

// PositionSide is the direction of a simulated futures position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

func (s PositionSide) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign is +1 for long and -1 for short.
func (s PositionSide) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// Position is an isolated-margin simulated position. Only one open
// position exists per user and symbol.
type Position struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index:idx_positions_user_symbol_status" json:"user_id"`
	Symbol           string         `gorm:"size:20;not null;index:idx_positions_user_symbol_status" json:"symbol"`
	Side             PositionSide   `gorm:"type:varchar(8);not null" json:"side"`
	Status           PositionStatus `gorm:"type:varchar(16);not null;default:'open';index:idx_positions_user_symbol_status;index" json:"status"`
	Leverage         int            `gorm:"not null" json:"leverage"`
	Quantity         float64        `gorm:"type:numeric(28,10);not null" json:"quantity"`
	EntryPrice       float64        `gorm:"type:numeric(28,10);not null" json:"entry_price"`
	Margin           float64        `gorm:"type:numeric(20,8);not null" json:"margin"`
	LiquidationPrice float64        `gorm:"type:numeric(28,10);not null" json:"liquidation_price"`
	TakeProfit       *float64       `gorm:"type:numeric(28,10)" json:"take_profit,omitempty"`
	StopLoss         *float64       `gorm:"type:numeric(28,10)" json:"stop_loss,omitempty"`
	RealizedPnL      float64        `gorm:"column:realized_pnl;type:numeric(20,8);not null;default:0" json:"realized_pnl"`
	FeesPaid         float64        `gorm:"type:numeric(20,8);not null;default:0" json:"fees_paid"`
	FundingPaid      float64        `gorm:"type:numeric(20,8);not null;default:0" json:"funding_paid"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// Live fields filled from the mark price cache.
	MarkPrice     float64 `gorm:"-" json:"mark_price,omitempty"`
	UnrealizedPnL float64 `gorm:"-" json:"unrealized_pnl"`
	ROE           float64 `gorm:"-" json:"roe"`
}

// TradeAction describes what a TradeHistory row did to a position.
type TradeAction string

const (
	TradeOpen        TradeAction = "open"
	TradeIncrease    TradeAction = "increase"
	TradeReduce      TradeAction = "reduce"
	TradeClose       TradeAction = "close"
	TradeTakeProfit  TradeAction = "take_profit"
	TradeStopLoss    TradeAction = "stop_loss"
	TradeLiquidation TradeAction = "liquidation"
)

// TradeHistory is an immutable fill record.
type TradeHistory struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;index:idx_trade_history_user_created" json:"user_id"`
	PositionID  uint         `gorm:"not null;index" json:"position_id"`
	Symbol      string       `gorm:"size:20;not null" json:"symbol"`
	Side        PositionSide `gorm:"type:varchar(8);not null" json:"side"`
	Action      TradeAction  `gorm:"type:varchar(16);not null;index" json:"action"`
	Leverage    int          `gorm:"not null" json:"leverage"`
	Price       float64      `gorm:"type:numeric(28,10);not null" json:"price"`
	Quantity    float64      `gorm:"type:numeric(28,10);not null" json:"quantity"`
	Margin      float64      `gorm:"type:numeric(20,8);not null" json:"margin"`
	Fee         float64      `gorm:"type:numeric(20,8);not null" json:"fee"`
	RealizedPnL float64      `gorm:"column:realized_pnl;type:numeric(20,8);not null;default:0" json:"realized_pnl"`
	CreatedAt   time.Time    `gorm:"index:idx_trade_history_user_created" json:"created_at"`
}

// FundingPayment records one funding settlement. Amount is positive when
// the user received funding.
type FundingPayment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	PositionID  uint      `gorm:"not null;index" json:"position_id"`
	Symbol      string    `gorm:"size:20;not null" json:"symbol"`
	FundingRate float64   `gorm:"type:numeric(16,10);not null" json:"funding_rate"`
	MarkPrice   float64   `gorm:"type:numeric(28,10);not null" json:"mark_price"`
	Quantity    float64   `gorm:"type:numeric(28,10);not null" json:"quantity"`
	Amount      float64   `gorm:"type:numeric(20,8);not null" json:"amount"`
	FromMargin  float64   `gorm:"type:numeric(20,8);not null;default:0" json:"from_margin"`
	SettledAt   time.Time `gorm:"index" json:"settled_at"`
}
