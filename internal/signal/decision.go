package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/fleet-bot/internal/exchange"
)

// Signal is the outcome of the decision table: Buy, Sell, or None.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalNone Signal = ""
)

const (
	rsiPeriod      = 14
	candleWindow   = 15
	candleInterval = "5m"

	EntryVolumeThreshold = 50.0
	ExitVolumeThreshold  = 100.0
)

type cacheKey struct {
	symbol string
	t      float64
}

type cacheEntry struct {
	signal Signal
	at     time.Time
}

// Analyzer computes entry/exit signals for the fleet. Decisions are
// recomputed fresh from the last closed candles on every call, behind a
// 30s result cache keyed by (symbol, T).
type Analyzer struct {
	gw exchange.Gateway

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry
}

func NewAnalyzer(gw exchange.Gateway) *Analyzer {
	return &Analyzer{gw: gw, cache: make(map[cacheKey]cacheEntry)}
}

// Decide computes BUY/SELL/none for symbol at volume threshold t (50 for
// entry calls, 100 for exit calls), caching results for 30s.
func (a *Analyzer) Decide(ctx context.Context, symbol string, t float64) (Signal, error) {
	key := cacheKey{symbol: symbol, t: t}
	if sig, ok := a.cached(key); ok {
		return sig, nil
	}

	klines, err := a.gw.GetKlines(ctx, symbol, candleInterval, candleWindow)
	if err != nil {
		return SignalNone, err
	}
	if len(klines) < 3 {
		return SignalNone, fmt.Errorf("signal: %s: need at least 3 candles, got %d", symbol, len(klines))
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	rsi, err := ComputeRSI(closes, rsiPeriod)
	if err != nil {
		return SignalNone, err
	}

	current := klines[len(klines)-2]
	prev := klines[len(klines)-3]

	deltaPrice := current.Close - prev.Close
	deltaVolPct := 0.0
	if prev.Volume != 0 {
		deltaVolPct = (current.Volume - prev.Volume) / prev.Volume * 100
	}

	priceUp := deltaPrice > 0
	priceDown := deltaPrice < 0
	volUp := deltaVolPct > t
	volDown := deltaVolPct < -t

	sig := decide(rsi, priceUp, priceDown, volUp, volDown)
	a.store(key, sig)
	return sig, nil
}

// decide applies the seven-row decision table, first match wins.
func decide(rsi float64, priceUp, priceDown, volUp, volDown bool) Signal {
	switch {
	case rsi > 80 && priceUp && volUp:
		return SignalSell
	case rsi < 20 && priceDown && volDown:
		return SignalSell
	case rsi > 80 && priceUp && volDown:
		return SignalBuy
	case rsi < 20 && priceDown && volUp:
		return SignalBuy
	case rsi > 20 && !priceDown && volDown:
		return SignalBuy
	case rsi < 80 && !priceUp && volUp:
		return SignalSell
	default:
		return SignalNone
	}
}

func (a *Analyzer) cached(key cacheKey) (Signal, bool) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	e, ok := a.cache[key]
	if !ok || time.Since(e.at) > 30*time.Second {
		return SignalNone, false
	}
	return e.signal, true
}

func (a *Analyzer) store(key cacheKey, sig Signal) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.cache[key] = cacheEntry{signal: sig, at: time.Now()}
}
