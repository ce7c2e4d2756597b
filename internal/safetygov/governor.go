// Package safetygov implements the Safety Governor: the periodic
// per-bot margin-ratio probe that trips a cascading stop-all-symbols
// reaction when maintenance margin is threatened.
//
// The cascading reaction itself (closing every owned symbol, notifying)
// stays in the Bot Actor, which owns the symbols to close; this package
// is only the small, pure probe.
package safetygov

import (
	"context"

	"github.com/ducminhle1904/fleet-bot/internal/exchange"
)

// DefaultThreshold is the ratio at or below which the governor trips when
// a bot doesn't override it.
const DefaultThreshold = 1.15

// Governor probes one bot's margin ratio against a threshold.
type Governor struct {
	threshold float64
}

// New builds a Governor; threshold <= 0 falls back to DefaultThreshold.
func New(threshold float64) *Governor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Governor{threshold: threshold}
}

// Threshold reports the ratio this governor trips at.
func (g *Governor) Threshold() float64 { return g.threshold }

// Probe reads the margin ratio from gw and reports whether it breaches the
// threshold. A ratio exactly at the threshold trips; one just above it
// does not.
func (g *Governor) Probe(ctx context.Context, gw exchange.Gateway) (ratio float64, tripped bool, err error) {
	ratio, err = gw.GetMarginSafety(ctx)
	if err != nil {
		return 0, false, err
	}
	return ratio, ratio <= g.threshold, nil
}
