package bot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/model"
)

func TestCensus_Imbalance(t *testing.T) {
	c := Census{LongNotional: 150, ShortNotional: 50}
	require.InDelta(t, 0.5, c.Imbalance(), 1e-9)

	require.Equal(t, 0.0, Census{}.Imbalance())
}

func TestBalancingSide_TakesMinoritySideAboveThreshold(t *testing.T) {
	c := Census{LongNotional: 900, ShortNotional: 100} // imbalance 0.8
	rng := rand.New(rand.NewSource(1))
	require.Equal(t, model.SideSell, BalancingSide(c, VolumeImbalanceThreshold, rng))

	c = Census{LongNotional: 100, ShortNotional: 900}
	require.Equal(t, model.SideBuy, BalancingSide(c, VolumeImbalanceThreshold, rng))
}

func TestBalancingSide_RandomBelowThreshold(t *testing.T) {
	c := Census{LongNotional: 105, ShortNotional: 100} // imbalance ~0.024, below volume threshold 0.1
	rng := rand.New(rand.NewSource(42))
	side := BalancingSide(c, VolumeImbalanceThreshold, rng)
	require.Contains(t, []model.Side{model.SideBuy, model.SideSell}, side)
}

func TestBalancingSide_VolatilityThresholdIsStricter(t *testing.T) {
	// imbalance 0.05 clears the 0.01 volatility threshold but not 0.1 volume.
	c := Census{LongNotional: 1050, ShortNotional: 950}
	rng := rand.New(rand.NewSource(7))
	require.Equal(t, model.SideSell, BalancingSide(c, VolatilityImbalanceThreshold, rng))
}
