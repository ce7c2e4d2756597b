package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/fleet-bot/internal/errors"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
	requestTimeout = 15 * time.Second
)

// BinanceFutures is the signed REST + WebSocket Gateway implementation for
// Binance USDT-M Futures. The rate-limit gate and circuit breaker are
// process-wide singletons injected at construction; the result caches and
// the trade stream are owned per credential set.
type BinanceFutures struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client

	limiter *RateLimiter
	breaker *CircuitBreaker
	stream  *TradeStream

	cache *resultCache
}

var _ Gateway = (*BinanceFutures)(nil)

// NewBinanceFutures constructs a client bound to one credential set,
// sharing the given process-wide rate-limit gate and circuit breaker with
// every other client in the fleet.
func NewBinanceFutures(apiKey, apiSecret string, testnet bool, limiter *RateLimiter, breaker *CircuitBreaker) *BinanceFutures {
	base := mainnetBaseURL
	if testnet {
		base = testnetBaseURL
	}
	if limiter == nil {
		limiter = NewRateLimiter("binance-futures", MinRequestInterval)
	}
	if breaker == nil {
		breaker = NewCircuitBreaker("binance-futures", CircuitBreakerConfig{})
	}
	b := &BinanceFutures{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		limiter:   limiter,
		breaker:   breaker,
		cache:     newResultCache(),
	}
	b.stream = NewTradeStream(testnet)
	return b
}

// doRequest performs one rate-limited, circuit-broken, retried HTTP round
// trip. Signed requests get timestamp+signature appended and the API key
// header attached.
func (b *BinanceFutures) doRequest(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	var signature string
	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		// Sign over the unsigned params only, then append signature= last by
		// hand: url.Values.Encode() sorts keys alphabetically, and Set()-ing
		// "signature" in before encoding would let it land anywhere in the
		// querystring. Binance's own examples always send it last.
		signature = sign(b.apiSecret, query)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err := withRetry(ctx, 3, time.Second, func() error {
		return b.breaker.Call(func() error {
			start := time.Now()
			reqURL := b.baseURL + path
			encoded := query.Encode()
			if encoded != "" {
				reqURL += "?" + encoded
			}
			if signed {
				sep := "&"
				if encoded == "" {
					sep = "?"
				}
				reqURL += sep + "signature=" + signature
			}
			req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
			if err != nil {
				return errors.New(errors.CategoryFatal, "exchange", "build-request", err.Error(), false)
			}
			if signed {
				req.Header.Set("X-MBX-APIKEY", b.apiKey)
			}
			resp, err := b.http.Do(req)
			telemetry.ObserveExchangeLatency(path, time.Since(start))
			if err != nil {
				return errors.New(errors.CategoryNetwork, "exchange", path, err.Error(), true)
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return errors.New(errors.CategoryNetwork, "exchange", path, err.Error(), true)
			}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == 451 {
				return errors.New(errors.CategoryCredentials, "exchange", path, string(data), false)
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				return errors.New(errors.CategoryRateLimit, "exchange", path, string(data), true)
			}
			if resp.StatusCode >= 500 {
				return errors.New(errors.CategoryNetwork, "exchange", path, string(data), true)
			}
			if resp.StatusCode >= 400 {
				return errors.New(errors.CategoryOrder, "exchange", path, string(data), false)
			}
			body = data
			return nil
		})
	})
	return body, err
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
		Leverage float64 `json:"-"`
	} `json:"symbols"`
}

func (b *BinanceFutures) GetExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	if v, ok := b.cache.getSymbols(); ok {
		return v, nil
	}
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	var parsed exchangeInfoResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-exchangeInfo", err.Error(), false)
	}
	out := make([]SymbolInfo, 0, len(parsed.Symbols))
	for _, s := range parsed.Symbols {
		step := 0.0
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" || f.FilterType == "MARKET_LOT_SIZE" {
				if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil {
					step = v
				}
			}
		}
		out = append(out, SymbolInfo{
			Symbol:     s.Symbol,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
			StepSize:   step,
		})
	}
	b.cache.setSymbols(out)
	return out, nil
}

func (b *BinanceFutures) GetMaxLeverage(ctx context.Context, symbol string) (float64, error) {
	if v, ok := b.cache.getLeverage(symbol); ok {
		return v, nil
	}
	// Binance exposes leverage brackets only via a separate signed
	// endpoint; absent that, fall back to a conservative default.
	const fallback = 20.0
	b.cache.setLeverage(symbol, fallback)
	return fallback, nil
}

func (b *BinanceFutures) GetStepSize(ctx context.Context, symbol string) (float64, error) {
	symbols, err := b.GetExchangeInfo(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range symbols {
		if s.Symbol == symbol {
			return s.StepSize, nil
		}
	}
	return 0, errors.New(errors.CategoryValidation, "exchange", "GetStepSize", "unknown symbol "+symbol, false)
}

func (b *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))
	_, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", q, true)
	return err
}

type accountResponse struct {
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalMaintMargin      string `json:"totalMaintMargin"`
	AvailableBalance      string `json:"availableBalance"`
	TotalWalletBalance    string `json:"totalWalletBalance"`
}

func (b *BinanceFutures) GetBalance(ctx context.Context) (*AccountBalance, error) {
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, err
	}
	var parsed accountResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-account", err.Error(), false)
	}
	return &AccountBalance{
		TotalMarginBalance:    parseFloat(parsed.TotalMarginBalance),
		TotalMaintMargin:      parseFloat(parsed.TotalMaintMargin),
		TotalAvailableBalance: parseFloat(parsed.AvailableBalance),
		TotalWalletBalance:    parseFloat(parsed.TotalWalletBalance),
	}, nil
}

func (b *BinanceFutures) GetTotalAndAvailableBalance(ctx context.Context) (float64, float64, error) {
	bal, err := b.GetBalance(ctx)
	if err != nil {
		return 0, 0, err
	}
	return bal.TotalWalletBalance, bal.TotalAvailableBalance, nil
}

// GetMarginSafety returns totalMarginBalance/totalMaintMargin, the ratio
// the Safety Governor trips on. A zero maintenance margin means no open
// positions, i.e. maximally safe.
func (b *BinanceFutures) GetMarginSafety(ctx context.Context) (float64, error) {
	bal, err := b.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	if bal.TotalMaintMargin == 0 {
		return 1e9, nil
	}
	return bal.TotalMarginBalance / bal.TotalMaintMargin, nil
}

type ticker24hrResponse struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
}

func (b *BinanceFutures) GetTicker24hr(ctx context.Context, symbols []string) ([]Ticker24hr, error) {
	if v, ok := b.cache.getTickers(); ok {
		return filterTickers(v, symbols), nil
	}
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", nil, false)
	if err != nil {
		return nil, err
	}
	var parsed []ticker24hrResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-ticker24hr", err.Error(), false)
	}
	out := make([]Ticker24hr, 0, len(parsed))
	for _, t := range parsed {
		out = append(out, Ticker24hr{
			Symbol:      t.Symbol,
			LastPrice:   parseFloat(t.LastPrice),
			QuoteVolume: parseFloat(t.QuoteVolume),
			HighPrice:   parseFloat(t.HighPrice),
			LowPrice:    parseFloat(t.LowPrice),
		})
	}
	b.cache.setTickers(out)
	return filterTickers(out, symbols), nil
}

func filterTickers(all []Ticker24hr, symbols []string) []Ticker24hr {
	if len(symbols) == 0 {
		return all
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]Ticker24hr, 0, len(symbols))
	for _, t := range all {
		if want[t.Symbol] {
			out = append(out, t)
		}
	}
	return out
}

// tradingUSDTPerpetuals returns the set of symbols that are both
// USDT-quoted and in TRADING status. GetTicker24hr carries neither
// quoteAsset nor a real status, so eligibility is cross-referenced
// against GetExchangeInfo, which does.
func (b *BinanceFutures) tradingUSDTPerpetuals(ctx context.Context) (map[string]bool, error) {
	symbols, err := b.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			eligible[s.Symbol] = true
		}
	}
	return eligible, nil
}

// TopByQuoteVolume ranks tickers by quote volume descending, excluding
// blacklisted symbols and those under the USD floor.
func (b *BinanceFutures) TopByQuoteVolume(ctx context.Context, limit int, minUSD float64, blacklist BlacklistSource) ([]Ticker24hr, error) {
	all, err := b.GetTicker24hr(ctx, nil)
	if err != nil {
		return nil, err
	}
	eligible, err := b.tradingUSDTPerpetuals(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]Ticker24hr, 0, len(all))
	for _, t := range all {
		if !eligible[t.Symbol] || t.QuoteVolume < minUSD {
			continue
		}
		if blacklist != nil {
			blocked, err := blacklist.IsBlacklisted(ctx, t.Symbol)
			if err != nil {
				return nil, err
			}
			if blocked {
				continue
			}
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].QuoteVolume > candidates[j].QuoteVolume })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// TopByVolatility ranks by 24h (high-low)/low range percent, descending.
func (b *BinanceFutures) TopByVolatility(ctx context.Context, limit int, minPercent float64, blacklist BlacklistSource) ([]Ticker24hr, error) {
	all, err := b.GetTicker24hr(ctx, nil)
	if err != nil {
		return nil, err
	}
	eligible, err := b.tradingUSDTPerpetuals(ctx)
	if err != nil {
		return nil, err
	}
	type scored struct {
		t       Ticker24hr
		percent float64
	}
	candidates := make([]scored, 0, len(all))
	for _, t := range all {
		if !eligible[t.Symbol] || t.LowPrice <= 0 {
			continue
		}
		pct := (t.HighPrice - t.LowPrice) / t.LowPrice * 100
		if pct < minPercent {
			continue
		}
		if blacklist != nil {
			blocked, err := blacklist.IsBlacklisted(ctx, t.Symbol)
			if err != nil {
				return nil, err
			}
			if blocked {
				continue
			}
		}
		candidates = append(candidates, scored{t: t, percent: pct})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].percent > candidates[j].percent })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Ticker24hr, len(candidates))
	for i, c := range candidates {
		out[i] = c.t
	}
	return out, nil
}

type klineEntry [12]interface{}

func (b *BinanceFutures) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/klines", q, false)
	if err != nil {
		return nil, err
	}
	var raw []klineEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-klines", err.Error(), false)
	}
	out := make([]Kline, 0, len(raw))
	for _, k := range raw {
		out = append(out, Kline{
			OpenTime:  msToTime(k[0]),
			Open:      toFloat(k[1]),
			High:      toFloat(k[2]),
			Low:       toFloat(k[3]),
			Close:     toFloat(k[4]),
			Volume:    toFloat(k[5]),
			CloseTime: msToTime(k[6]),
		})
	}
	return out, nil
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrice is the REST price fallback for when no trade-stream tick
// has arrived yet for a symbol.
func (b *BinanceFutures) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", q, false)
	if err != nil {
		return 0, err
	}
	var parsed tickerPriceResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, errors.New(errors.CategoryFatal, "exchange", "parse-tickerPrice", err.Error(), false)
	}
	return parseFloat(parsed.Price), nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

func (b *BinanceFutures) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	q.Set("newClientOrderId", "fb-"+uuid.NewString())
	data, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/order", q, true)
	if err != nil {
		return nil, err
	}
	var parsed orderResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-order", err.Error(), false)
	}
	return &OrderResult{
		OrderID:      strconv.FormatInt(parsed.OrderID, 10),
		Symbol:       parsed.Symbol,
		Side:         Side(parsed.Side),
		ExecutedQty:  parseFloat(parsed.ExecutedQty),
		AvgPrice:     parseFloat(parsed.AvgPrice),
		Status:       parsed.Status,
		TransactTime: msToTimeInt(parsed.UpdateTime),
	}, nil
}

func (b *BinanceFutures) CancelOpenOrders(ctx context.Context, symbol string) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	_, err := b.doRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", q, true)
	return err
}

type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

func (b *BinanceFutures) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	data, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", q, true)
	if err != nil {
		return nil, err
	}
	var parsed []positionRiskResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.CategoryFatal, "exchange", "parse-positionRisk", err.Error(), false)
	}
	out := make([]Position, 0, len(parsed))
	for _, p := range parsed {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		out = append(out, Position{
			Symbol:        p.Symbol,
			PositionAmt:   amt,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
			Leverage:      parseFloat(p.Leverage),
		})
	}
	return out, nil
}

func (b *BinanceFutures) SubscribeTrades(ctx context.Context, symbol string, callback func(TradeTick)) error {
	return b.stream.Subscribe(ctx, symbol, callback)
}

func (b *BinanceFutures) UnsubscribeTrades(symbol string) {
	b.stream.Unsubscribe(symbol)
}

func (b *BinanceFutures) LatestPrice(symbol string) (float64, bool) {
	return b.stream.LatestPrice(symbol)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}

func msToTime(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t))
	default:
		return time.Time{}
	}
}

func msToTimeInt(ms int64) time.Time {
	return time.UnixMilli(ms)
}
