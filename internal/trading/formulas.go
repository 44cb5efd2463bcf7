// Package trading holds the closed-form futures math used by the
// simulated trading room: margin, PnL, liquidation price and funding for
// isolated positions in one-way mode.
package trading

import (
	"errors"
	"math"

	"kortrade/internal/models"
)

var (
	ErrInsufficientMargin = errors.New("margin below minimum")
	ErrLeverageTooHigh    = errors.New("leverage exceeds bracket limit")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrInvalidTrigger     = errors.New("take-profit or stop-loss on the wrong side of the mark")
)

// Precision used for quantities and coin amounts.
const Precision = 8

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func Notional(price, qty float64) float64 {
	return price * qty
}

// InitialMargin is the margin required to open notional at leverage.
func InitialMargin(notional float64, leverage int) float64 {
	if leverage <= 0 {
		return notional
	}
	return notional / float64(leverage)
}

// QuantityFor converts a margin amount at leverage into a contract quantity.
func QuantityFor(margin float64, leverage int, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return Round(margin*float64(leverage)/price, Precision)
}

// Fee charged for a taker fill of notional.
func Fee(notional, takerRate float64) float64 {
	return Round(notional*takerRate, Precision)
}

func UnrealizedPnL(side models.PositionSide, entry, mark, qty float64) float64 {
	return side.Sign() * (mark - entry) * qty
}

// ROE is the return on margin in percent.
func ROE(pnl, margin float64) float64 {
	if margin == 0 {
		return 0
	}
	return pnl / margin * 100
}

// AverageEntry blends an existing position with an additional fill.
func AverageEntry(qty, entry, addQty, addPrice float64) float64 {
	total := qty + addQty
	if total == 0 {
		return 0
	}
	return (qty*entry + addQty*addPrice) / total
}

// LiquidationPrice is Binance's isolated formula in one-way mode:
//
//	LP = (M + cum - s*Q*E) / (Q*mmr - s*Q)
//
// with s = +1 for long and -1 for short. The result is clamped at 0.
func LiquidationPrice(side models.PositionSide, entry, qty, margin float64, b Bracket) float64 {
	if qty <= 0 {
		return 0
	}
	s := side.Sign()
	denom := qty*b.MaintMarginRatio - s*qty
	if denom == 0 {
		return 0
	}
	lp := (margin + b.MaintAmount - s*qty*entry) / denom
	if lp < 0 || math.IsNaN(lp) || math.IsInf(lp, 0) {
		return 0
	}
	return lp
}

// MaintenanceMargin required at notional within bracket b.
func MaintenanceMargin(notional float64, b Bracket) float64 {
	return notional*b.MaintMarginRatio - b.MaintAmount
}

// FundingPayment returns what the position receives (positive) or pays
// (negative): -s * mark * Q * rate.
func FundingPayment(side models.PositionSide, mark, qty, rate float64) float64 {
	return Round(-side.Sign()*mark*qty*rate, Precision)
}

// ShouldLiquidate reports whether mark has crossed the liquidation price.
func ShouldLiquidate(side models.PositionSide, mark, liqPrice float64) bool {
	if liqPrice <= 0 || mark <= 0 {
		return false
	}
	if side == models.SideLong {
		return mark <= liqPrice
	}
	return mark >= liqPrice
}

func HitTakeProfit(side models.PositionSide, mark float64, tp *float64) bool {
	if tp == nil || mark <= 0 {
		return false
	}
	if side == models.SideLong {
		return mark >= *tp
	}
	return mark <= *tp
}

func HitStopLoss(side models.PositionSide, mark float64, sl *float64) bool {
	if sl == nil || mark <= 0 {
		return false
	}
	if side == models.SideLong {
		return mark <= *sl
	}
	return mark >= *sl
}

// ValidateTriggers checks TP/SL against the current mark: a long needs
// TP above and SL below, a short the opposite.
func ValidateTriggers(side models.PositionSide, mark float64, tp, sl *float64) error {
	if tp != nil {
		if *tp <= 0 || HitTakeProfit(side, mark, tp) {
			return ErrInvalidTrigger
		}
	}
	if sl != nil {
		if *sl <= 0 || HitStopLoss(side, mark, sl) {
			return ErrInvalidTrigger
		}
	}
	return nil
}

// CloseResult is the settlement of closing qty of a position at price.
type CloseResult struct {
	Quantity    float64
	MarginFreed float64
	RealizedPnL float64
	Fee         float64
	// Payout is what returns to the wallet; never negative because an
	// isolated position cannot lose more than its margin.
	Payout float64
}

// Close settles closing qty of position p at price.
func Close(p *models.Position, qty, price, takerRate float64) CloseResult {
	if qty > p.Quantity || qty <= 0 {
		qty = p.Quantity
	}
	share := qty / p.Quantity
	res := CloseResult{
		Quantity:    qty,
		MarginFreed: Round(p.Margin*share, Precision),
		RealizedPnL: Round(UnrealizedPnL(p.Side, p.EntryPrice, price, qty), Precision),
		Fee:         Fee(Notional(price, qty), takerRate),
	}
	res.Payout = Round(math.Max(0, res.MarginFreed+res.RealizedPnL-res.Fee), Precision)
	return res
}
