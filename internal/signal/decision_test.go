package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/exchange"
)

func TestDecide_AllSevenRows(t *testing.T) {
	tests := []struct {
		name      string
		rsi       float64
		priceUp   bool
		priceDown bool
		volUp     bool
		volDown   bool
		want      Signal
	}{
		{"overbought rally on volume", 85, true, false, true, false, SignalSell},
		{"oversold dump on volume", 15, false, true, false, true, SignalSell},
		{"overbought rally, volume drying up", 85, true, false, false, true, SignalBuy},
		{"oversold dump, volume spiking", 15, false, true, true, false, SignalBuy},
		{"mid-range hold with fading volume", 50, false, false, false, true, SignalBuy},
		{"mid-range hold with rising volume", 50, false, false, true, false, SignalSell},
		{"no condition met", 50, true, false, false, false, SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.rsi, tt.priceUp, tt.priceDown, tt.volUp, tt.volDown)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeRSI_AllGainsIsHundred(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	rsi, err := ComputeRSI(closes, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)
}

func TestComputeRSI_BalancedGainsAndLosses(t *testing.T) {
	// alternating +1/-1 deltas: avg gain == avg loss -> RS 1 -> RSI 50.
	closes := make([]float64, 15)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 1
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	rsi, err := ComputeRSI(closes, 14)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rsi, 1e-9)
}

func TestComputeRSI_InsufficientData(t *testing.T) {
	_, err := ComputeRSI([]float64{1, 2, 3}, 14)
	require.Error(t, err)
}

// klinesGateway serves a scripted candle window and counts calls; the
// remaining Gateway methods are never reached by Decide.
type klinesGateway struct {
	exchange.Gateway
	klines []exchange.Kline
	calls  int
}

func (g *klinesGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	g.calls++
	return g.klines, nil
}

// risingCandles builds 15 rising closes so RSI computes to 100, with the
// evaluated candle's volume set relative to its predecessor.
func risingCandles(prevVolume, currentVolume float64) []exchange.Kline {
	out := make([]exchange.Kline, 15)
	for i := range out {
		out[i] = exchange.Kline{Close: float64(i + 1), Volume: 500}
	}
	out[12].Volume = prevVolume
	out[13].Volume = currentVolume
	return out
}

func TestAnalyzerDecide_BuyOnOverboughtVolumeCollapse(t *testing.T) {
	gw := &klinesGateway{klines: risingCandles(1000, 100)} // vol -90% < -50
	a := NewAnalyzer(gw)

	sig, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, sig)
}

func TestAnalyzerDecide_SellOnOverboughtVolumeSpike(t *testing.T) {
	gw := &klinesGateway{klines: risingCandles(100, 1000)} // vol +900% > 50
	a := NewAnalyzer(gw)

	sig, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.NoError(t, err)
	assert.Equal(t, SignalSell, sig)
}

func TestAnalyzerDecide_ThresholdKeysTheCache(t *testing.T) {
	gw := &klinesGateway{klines: risingCandles(1000, 400)} // vol -60%
	a := NewAnalyzer(gw)

	// -60% clears the entry threshold (50) but not the exit threshold (100).
	entry, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, entry)

	exit, err := a.Decide(context.Background(), "XRPUSDT", ExitVolumeThreshold)
	require.NoError(t, err)
	assert.Equal(t, SignalNone, exit)
	assert.Equal(t, 2, gw.calls, "distinct thresholds must not share a cache entry")
}

func TestAnalyzerDecide_CachesFor30Seconds(t *testing.T) {
	gw := &klinesGateway{klines: risingCandles(1000, 100)}
	a := NewAnalyzer(gw)

	first, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.NoError(t, err)

	gw.klines = risingCandles(100, 1000) // would now decide SELL if re-fetched
	second, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.calls, "a cached decision must not re-fetch klines")
}

func TestAnalyzerDecide_TooFewCandlesErrors(t *testing.T) {
	gw := &klinesGateway{klines: risingCandles(0, 0)[:2]}
	a := NewAnalyzer(gw)

	_, err := a.Decide(context.Background(), "XRPUSDT", EntryVolumeThreshold)
	require.Error(t, err)
}
