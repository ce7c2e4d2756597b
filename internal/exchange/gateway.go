// Package exchange implements the Exchange Gateway: rate-limited signed
// REST calls to Binance USDT-M Futures, a per-symbol trade-stream
// subscriber, and the result caches the rest of the fleet depends on.
package exchange

import (
	"context"
	"time"
)

// Side is a trading direction in gateway terms (mirrors model.Side; kept
// distinct so this package has no dependency on internal/model).
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Ticker24hr is a 24h rolling ticker snapshot. Trading eligibility (quote
// asset, status) isn't carried here: /fapi/v1/ticker/24hr exposes neither,
// so callers cross-reference GetExchangeInfo instead.
type Ticker24hr struct {
	Symbol      string
	LastPrice   float64
	QuoteVolume float64
	HighPrice   float64
	LowPrice    float64
}

// SymbolInfo is the subset of /fapi/v1/exchangeInfo this engine consumes.
type SymbolInfo struct {
	Symbol      string
	QuoteAsset  string
	Status      string
	StepSize    float64
	MaxLeverage float64
}

// Position is a venue-reported futures position.
type Position struct {
	Symbol        string
	PositionAmt   float64 // signed: positive long, negative short, 0 flat
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
}

// AccountBalance is the account-wide equity snapshot used for margin-safety
// probes and notional sizing.
type AccountBalance struct {
	TotalMarginBalance    float64
	TotalMaintMargin      float64
	TotalAvailableBalance float64
	TotalWalletBalance    float64
}

// OrderResult is the outcome of a successful market order.
type OrderResult struct {
	OrderID       string
	Symbol        string
	Side          Side
	ExecutedQty   float64
	AvgPrice      float64
	Status        string
	TransactTime  time.Time
}

// TradeTick is a single (price, timestamp) event from the trade stream.
type TradeTick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Gateway is every outbound call the engine issues to the venue.
// Implementations must enforce the 100ms rate-limit gate, the retry/backoff
// policy, and the caching rules internally — callers never see them.
type Gateway interface {
	GetExchangeInfo(ctx context.Context) ([]SymbolInfo, error)
	GetMaxLeverage(ctx context.Context, symbol string) (float64, error)
	GetStepSize(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	GetBalance(ctx context.Context) (*AccountBalance, error)
	GetTotalAndAvailableBalance(ctx context.Context) (total, available float64, err error)
	GetMarginSafety(ctx context.Context) (ratio float64, err error)

	GetTicker24hr(ctx context.Context, symbols []string) ([]Ticker24hr, error)
	TopByQuoteVolume(ctx context.Context, limit int, minUSD float64, blacklist BlacklistSource) ([]Ticker24hr, error)
	TopByVolatility(ctx context.Context, limit int, minPercent float64, blacklist BlacklistSource) ([]Ticker24hr, error)

	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]Kline, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error)
	CancelOpenOrders(ctx context.Context, symbol string) error
	GetPositions(ctx context.Context, symbol string) ([]Position, error)

	SubscribeTrades(ctx context.Context, symbol string, callback func(TradeTick)) error
	UnsubscribeTrades(symbol string)
	LatestPrice(symbol string) (float64, bool)
}

// BlacklistSource reports whether a symbol is blocked from discovery. The
// Persistence Store's coin_blacklist table is the sole production
// implementation.
type BlacklistSource interface {
	IsBlacklisted(ctx context.Context, symbol string) (bool, error)
}
