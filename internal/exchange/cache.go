package exchange

import (
	"sync"
	"time"
)

const (
	tickerCacheTTL   = 30 * time.Second
	symbolCacheTTL   = 1 * time.Hour
	leverageCacheTTL = 1 * time.Hour
)

// resultCache holds the short-lived all-pairs ticker snapshot and the
// longer-lived per-symbol exchange-info/leverage lookups, so a fleet of
// bots sharing one gateway doesn't re-fetch exchangeInfo or ticker/24hr on
// every tick.
type resultCache struct {
	mu sync.Mutex

	symbols    []SymbolInfo
	symbolsAt  time.Time

	tickers   []Ticker24hr
	tickersAt time.Time

	leverage   map[string]cachedLeverage
}

type cachedLeverage struct {
	value float64
	at    time.Time
}

func newResultCache() *resultCache {
	return &resultCache{leverage: make(map[string]cachedLeverage)}
}

func (c *resultCache) getSymbols() ([]SymbolInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbols == nil || time.Since(c.symbolsAt) > symbolCacheTTL {
		return nil, false
	}
	return c.symbols, true
}

func (c *resultCache) setSymbols(s []SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols = s
	c.symbolsAt = time.Now()
}

func (c *resultCache) getTickers() ([]Ticker24hr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tickers == nil || time.Since(c.tickersAt) > tickerCacheTTL {
		return nil, false
	}
	return c.tickers, true
}

func (c *resultCache) setTickers(t []Ticker24hr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers = t
	c.tickersAt = time.Now()
}

func (c *resultCache) getLeverage(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.leverage[symbol]
	if !ok || time.Since(v.at) > leverageCacheTTL {
		return 0, false
	}
	return v.value, true
}

func (c *resultCache) setLeverage(symbol string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[symbol] = cachedLeverage{value: value, at: time.Now()}
}
