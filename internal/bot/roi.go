package bot

import (
	"math"

	"github.com/ducminhle1904/fleet-bot/internal/model"
)

// PnL computes unrealized profit for a position at current price.
func PnL(side model.Side, entry, qty, current float64) float64 {
	if side == model.SideSell {
		return (entry - current) * qty
	}
	return (current - entry) * qty
}

// Invested is the notional-at-risk convention used consistently everywhere
// ROI feeds a decision (tp, sl, roi_trigger, pyramiding trigger,
// smart-exit, early-reversal threshold): entry*qty over the bot's
// *configured* leverage, not the venue-reported effective leverage. A
// notional convenience, not a true equity ROI.
func Invested(entry, qty float64, leverage int) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return entry * qty / float64(leverage)
}

// ROI returns pnl, invested and roi percent for a position at current
// price.
func ROI(side model.Side, entry, qty, current float64, leverage int) (pnl, invested, roiPct float64) {
	pnl = PnL(side, entry, qty, current)
	invested = Invested(entry, qty, leverage)
	if invested == 0 {
		return pnl, invested, 0
	}
	return pnl, invested, pnl / invested * 100
}

// WeightedEntry recomputes the volume-weighted average entry price after a
// pyramid fill. Associative over successive pyramids applied in the order
// they fire.
func WeightedEntry(entry, qty, fillPrice, fillQty float64) float64 {
	if qty+fillQty == 0 {
		return entry
	}
	return (entry*qty + fillPrice*fillQty) / (qty + fillQty)
}

// RoundToStep floors a quantity down to the nearest step size, returning 0
// when the rounded result would fall below one step — callers must refuse
// the open in that case.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	rounded := math.Floor(qty/step) * step
	if rounded < step {
		return 0
	}
	return rounded
}
