package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCacheTickersExpire(t *testing.T) {
	c := newResultCache()
	_, ok := c.getTickers()
	require.False(t, ok)

	c.setTickers([]Ticker24hr{{Symbol: "BTCUSDT", LastPrice: 100}})
	got, ok := c.getTickers()
	require.True(t, ok)
	assert.Len(t, got, 1)

	c.tickersAt = time.Now().Add(-tickerCacheTTL - time.Second)
	_, ok = c.getTickers()
	assert.False(t, ok, "expired cache entries must be treated as a miss")
}

func TestResultCacheLeveragePerSymbol(t *testing.T) {
	c := newResultCache()
	c.setLeverage("BTCUSDT", 75)
	c.setLeverage("ETHUSDT", 50)

	btc, ok := c.getLeverage("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 75.0, btc)

	_, ok = c.getLeverage("SOLUSDT")
	assert.False(t, ok)
}

func TestFilterTickersBySymbolSet(t *testing.T) {
	all := []Ticker24hr{
		{Symbol: "BTCUSDT"},
		{Symbol: "ETHUSDT"},
		{Symbol: "SOLUSDT"},
	}
	filtered := filterTickers(all, []string{"ETHUSDT"})
	require.Len(t, filtered, 1)
	assert.Equal(t, "ETHUSDT", filtered[0].Symbol)

	assert.Len(t, filterTickers(all, nil), 3)
}
