package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

const (
	reconnectDelay  = 5 * time.Second
	dedupWindow     = 100 * time.Millisecond
)

// TradeStream manages one combined-stream WebSocket connection per symbol,
// reconnecting after reconnectDelay on any drop, suppressing duplicate
// ticks, and keeping the externally-readable latest-price cache every
// bot's tick reads from.
type TradeStream struct {
	testnet bool

	mu     sync.Mutex
	subs   map[string]*symbolStream
}

type symbolStream struct {
	cancel context.CancelFunc

	priceMu   sync.Mutex
	price     float64
	havePrice bool
	lastTick  time.Time
}

func NewTradeStream(testnet bool) *TradeStream {
	return &TradeStream{testnet: testnet, subs: make(map[string]*symbolStream)}
}

func (t *TradeStream) wsHost() string {
	if t.testnet {
		return "wss://stream.binancefuture.com"
	}
	return "wss://fstream.binance.com"
}

// Subscribe opens (or replaces) the connection for symbol and invokes
// callback for each distinct trade tick. Duplicate prices arriving within
// dedupWindow of the previous tick are suppressed before the callback runs.
func (t *TradeStream) Subscribe(ctx context.Context, symbol string, callback func(TradeTick)) error {
	t.mu.Lock()
	if existing, ok := t.subs[symbol]; ok {
		existing.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s := &symbolStream{cancel: cancel}
	t.subs[symbol] = s
	t.mu.Unlock()

	go t.run(streamCtx, symbol, s, callback)
	return nil
}

func (t *TradeStream) Unsubscribe(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subs[symbol]; ok {
		s.cancel()
		delete(t.subs, symbol)
	}
}

func (t *TradeStream) LatestPrice(symbol string) (float64, bool) {
	t.mu.Lock()
	s, ok := t.subs[symbol]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	return s.price, s.havePrice
}

type aggTradeFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Price string `json:"p"`
		Time  int64  `json:"T"`
	} `json:"data"`
}

// run owns the reconnect loop for one symbol: connect, read until error or
// ctx cancellation, sleep reconnectDelay, repeat.
func (t *TradeStream) run(ctx context.Context, symbol string, s *symbolStream, callback func(TradeTick)) {
	lower := toLowerASCII(symbol)
	url := fmt.Sprintf("%s/stream?streams=%s@trade", t.wsHost(), lower)

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			telemetry.ErrorsByCategory.WithLabelValues("NETWORK", "trade-stream").Inc()
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}

		t.readLoop(ctx, conn, symbol, s, callback)
		conn.Close()
		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

func (t *TradeStream) readLoop(ctx context.Context, conn *websocket.Conn, symbol string, s *symbolStream, callback func(TradeTick)) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame aggTradeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		price := parseFloat(frame.Data.Price)
		if price <= 0 {
			continue
		}
		ts := time.UnixMilli(frame.Data.Time)

		s.priceMu.Lock()
		suppressed := s.havePrice && price == s.price && ts.Sub(s.lastTick) < dedupWindow
		s.price = price
		s.havePrice = true
		s.lastTick = ts
		s.priceMu.Unlock()

		if suppressed {
			continue
		}
		callback(TradeTick{Symbol: symbol, Price: price, Timestamp: ts})
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
