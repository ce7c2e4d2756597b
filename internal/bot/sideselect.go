package bot

import (
	"math"
	"math/rand"

	"github.com/ducminhle1904/fleet-bot/internal/model"
)

// Census is the global open-position tally a Bot Actor recomputes every
// 30s: LONG vs SHORT notional, leverage-weighted, across the whole
// account.
type Census struct {
	LongNotional  float64
	ShortNotional float64
}

// Imbalance is |long-short|/(long+short); 0 when there is no open exposure
// to balance against.
func (c Census) Imbalance() float64 {
	total := c.LongNotional + c.ShortNotional
	if total == 0 {
		return 0
	}
	return math.Abs(c.LongNotional-c.ShortNotional) / total
}

// Thresholds for the two dynamic strategies' side-selection rule.
// Static-reverse mode, which has no strategy knob of its own, reuses the
// volume threshold.
const (
	VolumeImbalanceThreshold     = 0.1
	VolatilityImbalanceThreshold = 0.01
)

// BalancingSide picks the side that would reduce fleet-wide directional
// imbalance once Imbalance() exceeds threshold: sell when longs are the
// over-leveraged side, buy when shorts are. Below threshold it picks
// uniformly at random via the injected source, so callers can seed it
// deterministically in tests.
func BalancingSide(c Census, threshold float64, rng *rand.Rand) model.Side {
	if c.Imbalance() > threshold {
		if c.LongNotional > c.ShortNotional {
			return model.SideSell
		}
		return model.SideBuy
	}
	return randomSide(rng)
}

func randomSide(rng *rand.Rand) model.Side {
	if rng.Intn(2) == 0 {
		return model.SideBuy
	}
	return model.SideSell
}
