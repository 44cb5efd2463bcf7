package models

import "time"

// CoinTxType classifies a KOR-Coin ledger row.
type CoinTxType string

const (
	CoinSignupBonus   CoinTxType = "signup_bonus"
	CoinRewardPost    CoinTxType = "reward_post"
	CoinRewardProfit  CoinTxType = "reward_profit_post"
	CoinRewardComment CoinTxType = "reward_comment"
	CoinRewardLike    CoinTxType = "reward_like"
	CoinRewardShare   CoinTxType = "reward_share"
	CoinAttendance    CoinTxType = "attendance"
	CoinTradeMargin   CoinTxType = "trade_margin"
	CoinTradeFee      CoinTxType = "trade_fee"
	CoinTradePnL      CoinTxType = "trade_pnl"
	CoinFunding       CoinTxType = "funding"
	CoinLiquidation   CoinTxType = "liquidation"
	CoinAdminGrant    CoinTxType = "admin_grant"
	CoinAdminDeduct   CoinTxType = "admin_deduct"
)

// IsReward reports whether the type is a community reward that also earns
// activity points.
func (t CoinTxType) IsReward() bool {
	switch t {
	case CoinRewardPost, CoinRewardProfit, CoinRewardComment, CoinRewardLike, CoinRewardShare, CoinAttendance:
		return true
	}
	return false
}

// CoinTransaction is one row of the KOR-Coin ledger. Amount is signed;
// BalanceAfter always equals BalanceBefore + Amount.
type CoinTransaction struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"not null;index:idx_coin_tx_user_type_created" json:"user_id"`
	Type          CoinTxType `gorm:"type:varchar(32);not null;index:idx_coin_tx_user_type_created" json:"type"`
	Amount        float64    `gorm:"type:numeric(20,8);not null" json:"amount"`
	BalanceBefore float64    `gorm:"type:numeric(20,8);not null" json:"balance_before"`
	BalanceAfter  float64    `gorm:"type:numeric(20,8);not null" json:"balance_after"`
	RefType       string     `gorm:"size:32" json:"ref_type,omitempty"`
	RefID         uint       `json:"ref_id,omitempty"`
	Memo          string     `gorm:"size:255" json:"memo,omitempty"`
	CreatedAt     time.Time  `gorm:"index:idx_coin_tx_user_type_created;index" json:"created_at"`
}
