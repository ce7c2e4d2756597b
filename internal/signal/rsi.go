// Package signal is the Signal Analyzer: RSI + volume-delta entry/exit
// decisions on 5-minute candles, with a short result cache.
package signal

import (
	"errors"
	"math"
)

// ComputeRSI computes Wilder-style RSI (simple averages over the most
// recent period deltas) freshly from closes on every call, rather than
// carrying a running average across calls.
func ComputeRSI(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, errors.New("insufficient closes for RSI calculation")
	}

	recent := closes[len(closes)-period-1:]
	gains, losses := 0.0, 0.0
	for i := 1; i < len(recent); i++ {
		change := recent[i] - recent[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
