package bot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/model"
)

func TestROI_StaticBuyTakeProfit(t *testing.T) {
	pnl, invested, roiPct := ROI(model.SideBuy, 100, 1, 200, 1)
	require.Equal(t, 100.0, pnl)
	require.Equal(t, 100.0, invested)
	require.InDelta(t, 100.0, roiPct, 1e-9)
}

func TestROI_SellSideInvertsPnL(t *testing.T) {
	pnl, _, roiPct := ROI(model.SideSell, 100, 1, 90, 1)
	require.Equal(t, 10.0, pnl)
	require.InDelta(t, 10.0, roiPct, 1e-9)
}

func TestROI_LeverageDividesInvested(t *testing.T) {
	_, invested, roiPct := ROI(model.SideBuy, 100, 10, 110, 5)
	require.Equal(t, 200.0, invested) // 100*10/5
	require.InDelta(t, 50.0, roiPct, 1e-9)
}

func TestInvested_ZeroLeverageTreatedAsOne(t *testing.T) {
	require.Equal(t, 100.0, Invested(100, 1, 0))
}

func TestWeightedEntry_PyramidSequence(t *testing.T) {
	// opening at 100 qty 1, pyramid fill at 105 qty 1, pyramid again at 95 qty 2.
	entry := WeightedEntry(100, 1, 105, 1)
	require.InDelta(t, 102.5, entry, 1e-9)

	entry = WeightedEntry(entry, 2, 95, 2)
	require.InDelta(t, 98.75, entry, 1e-9) // (102.5*2 + 95*2)/4
}

func TestRoundToStep(t *testing.T) {
	require.InDelta(t, 1.2, RoundToStep(1.27, 0.1), 1e-9)
	require.Equal(t, 0.0, RoundToStep(0.05, 0.1))
	require.Equal(t, 5.0, RoundToStep(5.0, 1.0))
}

func TestRoundToStep_ZeroStepPassesThrough(t *testing.T) {
	require.Equal(t, 1.2345, RoundToStep(1.2345, 0))
}
