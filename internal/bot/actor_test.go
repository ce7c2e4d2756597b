package bot

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/coordinator"
	"github.com/ducminhle1904/fleet-bot/internal/exchange"
	"github.com/ducminhle1904/fleet-bot/internal/model"
	"github.com/ducminhle1904/fleet-bot/internal/notifications"
	"github.com/ducminhle1904/fleet-bot/internal/safetygov"
	"github.com/ducminhle1904/fleet-bot/internal/signal"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// fakeGateway is a fully scripted exchange.Gateway so the bot state
// machine can be driven tick by tick without a venue.
type fakeGateway struct {
	mu sync.Mutex

	marginRatio float64
	positions   []exchange.Position
	maxLeverage float64
	total       float64
	available   float64
	stepSize    float64
	price       float64
	klines      []exchange.Kline
	rankings    []exchange.Ticker24hr

	orders     []fakeOrder
	canceled   []string
	subscribed map[string]bool
}

type fakeOrder struct {
	Symbol string
	Side   exchange.Side
	Qty    float64
	Price  float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		marginRatio: 10,
		maxLeverage: 125,
		total:       1000,
		available:   1000,
		stepSize:    1,
		subscribed:  make(map[string]bool),
	}
}

func (g *fakeGateway) GetExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	return nil, nil
}

func (g *fakeGateway) GetMaxLeverage(ctx context.Context, symbol string) (float64, error) {
	return g.maxLeverage, nil
}

func (g *fakeGateway) GetStepSize(ctx context.Context, symbol string) (float64, error) {
	return g.stepSize, nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (g *fakeGateway) GetBalance(ctx context.Context) (*exchange.AccountBalance, error) {
	return &exchange.AccountBalance{TotalWalletBalance: g.total, TotalAvailableBalance: g.available}, nil
}

func (g *fakeGateway) GetTotalAndAvailableBalance(ctx context.Context) (float64, float64, error) {
	return g.total, g.available, nil
}

func (g *fakeGateway) GetMarginSafety(ctx context.Context) (float64, error) {
	return g.marginRatio, nil
}

func (g *fakeGateway) GetTicker24hr(ctx context.Context, symbols []string) ([]exchange.Ticker24hr, error) {
	return nil, nil
}

func (g *fakeGateway) TopByQuoteVolume(ctx context.Context, limit int, minUSD float64, blacklist exchange.BlacklistSource) ([]exchange.Ticker24hr, error) {
	return g.rankings, nil
}

func (g *fakeGateway) TopByVolatility(ctx context.Context, limit int, minPercent float64, blacklist exchange.BlacklistSource) ([]exchange.Ticker24hr, error) {
	return g.rankings, nil
}

func (g *fakeGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return g.klines, nil
}

func (g *fakeGateway) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return g.price, nil
}

func (g *fakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity float64) (*exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, fakeOrder{Symbol: symbol, Side: side, Qty: quantity, Price: g.price})
	return &exchange.OrderResult{
		OrderID: "1", Symbol: symbol, Side: side,
		ExecutedQty: quantity, AvgPrice: g.price, Status: "FILLED",
	}, nil
}

func (g *fakeGateway) CancelOpenOrders(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, symbol)
	return nil
}

func (g *fakeGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if symbol == "" {
		return append([]exchange.Position(nil), g.positions...), nil
	}
	var out []exchange.Position
	for _, p := range g.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *fakeGateway) SubscribeTrades(ctx context.Context, symbol string, callback func(exchange.TradeTick)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribed[symbol] = true
	return nil
}

func (g *fakeGateway) UnsubscribeTrades(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subscribed, symbol)
}

func (g *fakeGateway) LatestPrice(symbol string) (float64, bool) {
	return g.price, g.price != 0
}

// fakeStore is an in-memory bot.Store.
type fakeStore struct {
	mu        sync.Mutex
	open      map[string]*model.Position // keyed bot_id|symbol
	trades    []model.TradeEvent
	stats     map[string]*model.BotStatistics
	botStatus map[string]model.BotStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		open:      make(map[string]*model.Position),
		stats:     make(map[string]*model.BotStatistics),
		botStatus: make(map[string]model.BotStatus),
	}
}

func posKey(botID, symbol string) string { return botID + "|" + symbol }

func (s *fakeStore) GetOpenPosition(ctx context.Context, botID, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.open[posKey(botID, symbol)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertOpenPosition(ctx context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.open[posKey(p.BotID, p.Symbol)] = &cp
	return nil
}

func (s *fakeStore) AppendTrade(ctx context.Context, t *model.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *fakeStore) CloseAndRecord(ctx context.Context, botID, symbol string, trade *model.TradeEvent, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, posKey(botID, symbol))
	s.trades = append(s.trades, *trade)
	st, ok := s.stats[botID]
	if !ok {
		st = &model.BotStatistics{BotID: botID}
		s.stats[botID] = st
	}
	st.Bump(pnl)
	return nil
}

func (s *fakeStore) DeleteOpenPosition(ctx context.Context, botID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, posKey(botID, symbol))
	return nil
}

func (s *fakeStore) SetBotStatus(ctx context.Context, botID string, status model.BotStatus, softDelete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botStatus[botID] = status
	return nil
}

func (s *fakeStore) HasOpenPositionAnyBot(ctx context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.open {
		if p.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) IsBlacklisted(ctx context.Context, symbol string) (bool, error) {
	return false, nil
}

func (s *fakeStore) tradeSides() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.trades))
	for i, t := range s.trades {
		out[i] = t.Side
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *fakeNotifier) Notify(botID string, event notifications.Event, symbol, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// buyKlines yields RSI 100 with the evaluated candle's volume collapsing
// (-90%), which decides BUY at the entry threshold.
func buyKlines() []exchange.Kline {
	out := make([]exchange.Kline, 15)
	for i := range out {
		out[i] = exchange.Kline{Close: float64(i + 1), Volume: 500}
	}
	out[12].Volume = 1000
	out[13].Volume = 100
	return out
}

func newTestActor(t *testing.T, cfg *model.BotConfig, gw *fakeGateway, store *fakeStore, coord *coordinator.Coordinator, notifier *fakeNotifier, clock *fakeClock) *Actor {
	t.Helper()
	a := NewActor(cfg, gw, store, coord, signal.NewAnalyzer(gw), notifier,
		safetygov.New(1.15), telemetry.NewNop(), clock, rand.New(rand.NewSource(1)))
	a.sleep = func(time.Duration) {}
	return a
}

func TestStaticSignalEntryThenTakeProfit(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 0.5
	gw.klines = buyKlines()
	store := newFakeStore()
	coord := coordinator.New()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "S1", Mode: model.ModeStatic, Symbol: "XRPUSDT",
		Leverage: 10, Percent: 10, TP: 100, SL: 0,
		StaticEntryMode: model.EntrySignal, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, notifier, clock)

	require.NoError(t, a.Tick(ctx))

	// Entry: 10% of 1000 equity at 10x leverage and 0.50 is 2000 contracts.
	require.Len(t, gw.orders, 1)
	assert.Equal(t, exchange.SideBuy, gw.orders[0].Side)
	assert.Equal(t, 2000.0, gw.orders[0].Qty)
	assert.Equal(t, []string{"OPEN_BUY"}, store.tradeSides())
	assert.Equal(t, 1, notifier.count(notifications.EventOpen))

	// Venue now reports the fill; price moves to 0.55 -> ROI 100% at 10x.
	gw.positions = []exchange.Position{{Symbol: "XRPUSDT", PositionAmt: 2000, EntryPrice: 0.5, MarkPrice: 0.55, Leverage: 10}}
	gw.price = 0.55
	clock.advance(31 * time.Second)

	require.NoError(t, a.Tick(ctx))

	require.Len(t, gw.orders, 2)
	assert.Equal(t, exchange.SideSell, gw.orders[1].Side)
	assert.Equal(t, []string{"OPEN_BUY", "CLOSE_SELL"}, store.tradeSides())
	assert.Equal(t, "TP hit", store.trades[1].Reason)
	require.NotNil(t, store.trades[1].PnL)
	assert.InDelta(t, 100.0, *store.trades[1].PnL, 1e-9)

	st := store.stats["S1"]
	require.NotNil(t, st)
	assert.Equal(t, 1, st.TotalTrades)
	assert.Equal(t, 1, st.WinningTrades)

	// A static bot keeps its fixed symbol attached across the close.
	assert.Equal(t, "XRPUSDT", a.Symbol())
	assert.Empty(t, store.open)
}

func TestPyramidingAveragesDownThenStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	store := newFakeStore()
	coord := coordinator.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "D1", Mode: model.ModeDynamic, DynamicStrategy: model.StrategyVolume,
		Leverage: 20, Percent: 5, TP: 500, SL: 0,
		PyramidingN: 2, PyramidingX: 100, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, &fakeNotifier{}, clock)
	a.symbol = "ETHUSDT"
	a.state.PositionOpen = true
	a.state.Side = model.SideSell
	a.state.Entry = 100
	a.state.Qty = 1

	// First pyramid: roi -100 <= base(0) - 100. Fill at 105, same size.
	gw.total = 105 // 5% of equity at 20x / 105 = 1 contract
	gw.price = 105
	a.evaluatePyramiding(ctx, "ETHUSDT", 105, -100, clock.Now())
	assert.Equal(t, 1, a.state.PyramidingCount)
	assert.InDelta(t, 102.5, a.state.Entry, 1e-9)
	assert.Equal(t, 2.0, a.state.Qty)
	assert.Equal(t, -100.0, a.state.PyramidingBaseROI)

	// Within the 60s cooldown nothing fires, however deep the loss.
	a.evaluatePyramiding(ctx, "ETHUSDT", 105, -300, clock.Now())
	assert.Equal(t, 1, a.state.PyramidingCount)

	// Past the cooldown but above base-X: no fire.
	clock.advance(61 * time.Second)
	a.evaluatePyramiding(ctx, "ETHUSDT", 110, -150, clock.Now())
	assert.Equal(t, 1, a.state.PyramidingCount)

	// Second pyramid at roi -205.
	gw.total = 110
	gw.price = 110
	a.evaluatePyramiding(ctx, "ETHUSDT", 110, -205, clock.Now())
	assert.Equal(t, 2, a.state.PyramidingCount)
	assert.InDelta(t, 105.0, a.state.Entry, 1e-9) // (102.5*2 + 110*1) / 3
	assert.Equal(t, 3.0, a.state.Qty)

	// The cap holds: a third pyramid never fires.
	clock.advance(61 * time.Second)
	a.evaluatePyramiding(ctx, "ETHUSDT", 120, -400, clock.Now())
	assert.Equal(t, 2, a.state.PyramidingCount)
	require.Len(t, gw.orders, 2)
}

func TestSearchHandoffAfterSuccessfulOpen(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 0.5
	gw.klines = buyKlines()
	gw.rankings = []exchange.Ticker24hr{{Symbol: "XRPUSDT", QuoteVolume: 1_000_000}}
	store := newFakeStore()
	coord := coordinator.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "D1", Mode: model.ModeDynamic, DynamicStrategy: model.StrategyVolume,
		Leverage: 10, Percent: 10, TP: 100, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, &fakeNotifier{}, clock)

	a.searchCandidate(ctx)
	assert.Equal(t, "XRPUSDT", a.Symbol())
	assert.True(t, gw.subscribed["XRPUSDT"])
	assert.False(t, coord.IsSymbolAvailable("XRPUSDT"), "a picked symbol is claimed before entry")

	// D2 and D3 ask while D1 is still the searcher.
	require.False(t, coord.RequestSearch("D2"))
	require.False(t, coord.RequestSearch("D3"))

	// Shorts dominate the census, so the balancing side is BUY, matching
	// the candidate's BUY signal.
	a.census = Census{LongNotional: 100, ShortNotional: 900}
	a.attemptDynamicEntry(ctx, "XRPUSDT")

	require.Len(t, gw.orders, 1)
	assert.Equal(t, exchange.SideBuy, gw.orders[0].Side)

	snap := coord.Snapshot()
	assert.Equal(t, "D2", snap.CurrentSearcher)
	assert.Equal(t, []string{"D3"}, snap.WaitingQueue)
	assert.ElementsMatch(t, []string{"D1"}, snap.BotsWithSymbol)
}

func TestSafetyTripClosesAllAndAllowsResearch(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.marginRatio = 1.15
	gw.price = 20
	store := newFakeStore()
	coord := coordinator.New()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "D4", Mode: model.ModeDynamic, DynamicStrategy: model.StrategyVolume,
		Leverage: 5, Percent: 10, TP: 100, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, notifier, clock)
	a.symbol = "SOLUSDT"
	a.state.PositionOpen = true
	a.state.Side = model.SideBuy
	a.state.Entry = 20
	a.state.Qty = 10
	coord.MarkHasSymbol("D4")
	store.UpsertOpenPosition(ctx, &model.Position{BotID: "D4", Symbol: "SOLUSDT", Side: model.SideBuy, EntryPrice: 20, Quantity: 10, Status: model.PositionOpen})

	require.NoError(t, a.Tick(ctx))

	assert.Empty(t, a.Symbol(), "safety trip must stop every owned symbol")
	assert.Empty(t, store.open)
	assert.Equal(t, 1, notifier.count(notifications.EventSafetyTrip))
	require.Len(t, gw.orders, 1)
	assert.Equal(t, exchange.SideSell, gw.orders[0].Side)

	// The bot keeps running and is eligible to search again.
	assert.True(t, coord.RequestSearch("D4"))
}

func TestResumeReattachesWithoutSearching(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 20
	gw.positions = []exchange.Position{{Symbol: "SOLUSDT", PositionAmt: 10, EntryPrice: 20, MarkPrice: 20, Leverage: 5}}
	store := newFakeStore()
	coord := coordinator.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "D4", Mode: model.ModeDynamic, DynamicStrategy: model.StrategyVolume,
		Leverage: 5, Percent: 10, TP: 100, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, &fakeNotifier{}, clock)

	pos := &model.Position{BotID: "D4", Symbol: "SOLUSDT", Side: model.SideBuy, EntryPrice: 20, Quantity: 10, Status: model.PositionOpen}
	store.UpsertOpenPosition(ctx, pos)
	coord.SeedHasSymbol([]string{"D4"})
	a.Resume(ctx, pos)

	assert.Equal(t, "SOLUSDT", a.Symbol())
	assert.True(t, gw.subscribed["SOLUSDT"])
	assert.True(t, a.state.PositionOpen)
	assert.Equal(t, 20.0, a.state.Entry)

	require.NoError(t, a.Tick(ctx))
	assert.Empty(t, coord.Snapshot().CurrentSearcher, "a resumed position-holder must not re-enter discovery")
}

func TestStaticReverseModeHonorsCooldownAndFlipsSide(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 100
	// A short elsewhere dominates the census: balancing side BUY, so
	// reverse mode opens SELL.
	gw.positions = []exchange.Position{{Symbol: "OTHERUSDT", PositionAmt: -10, EntryPrice: 10, MarkPrice: 10, Leverage: 1}}
	store := newFakeStore()
	coord := coordinator.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "S2", Mode: model.ModeStatic, Symbol: "BNBUSDT",
		Leverage: 1, Percent: 10, TP: 50, SL: 0,
		StaticEntryMode: model.EntryReverse, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coord, &fakeNotifier{}, clock)

	require.NoError(t, a.Tick(ctx))
	require.Len(t, gw.orders, 1)
	assert.Equal(t, exchange.SideSell, gw.orders[0].Side)

	// Price halves: the SELL is at +50% ROI and closes on TP.
	gw.positions = append(gw.positions, exchange.Position{Symbol: "BNBUSDT", PositionAmt: -1, EntryPrice: 100, MarkPrice: 50, Leverage: 1})
	gw.price = 50
	clock.advance(31 * time.Second)
	require.NoError(t, a.Tick(ctx))

	require.Len(t, gw.orders, 2)
	assert.Equal(t, exchange.SideBuy, gw.orders[1].Side)
	assert.Equal(t, "TP hit", store.trades[len(store.trades)-1].Reason)

	// One second later the 30s close cooldown still holds.
	gw.positions = gw.positions[:1]
	clock.advance(time.Second)
	require.NoError(t, a.Tick(ctx))
	require.Len(t, gw.orders, 2, "no entry may fire inside the close cooldown")

	// Past the cooldown, reverse mode opens the opposite of the just-closed
	// SELL.
	clock.advance(30 * time.Second)
	require.NoError(t, a.Tick(ctx))
	require.Len(t, gw.orders, 3)
	assert.Equal(t, exchange.SideBuy, gw.orders[2].Side)
}

func TestOpenRefusedWhenVenueShowsPosition(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 100
	gw.positions = []exchange.Position{{Symbol: "BNBUSDT", PositionAmt: 3, EntryPrice: 90, MarkPrice: 100, Leverage: 1}}
	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "S3", Mode: model.ModeStatic, Symbol: "BNBUSDT",
		Leverage: 1, Percent: 10, TP: 50,
		StaticEntryMode: model.EntrySignal, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coordinator.New(), &fakeNotifier{}, clock)

	a.openPosition(ctx, "BNBUSDT", model.SideBuy, 0)
	assert.Empty(t, gw.orders)
}

func TestOpenRefusedWhenMaxLeverageTooLow(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 100
	gw.maxLeverage = 5
	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "S4", Mode: model.ModeStatic, Symbol: "BNBUSDT",
		Leverage: 10, Percent: 10, TP: 50,
		StaticEntryMode: model.EntrySignal, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coordinator.New(), &fakeNotifier{}, clock)

	a.openPosition(ctx, "BNBUSDT", model.SideBuy, 0)
	assert.Empty(t, gw.orders)
}

func TestOpenRefusedWhenQuantityRoundsToZero(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.price = 50_000
	gw.stepSize = 1 // 10% of 1000 equity buys 0.002 BTC, floored to 0
	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "S5", Mode: model.ModeStatic, Symbol: "BTCUSDT",
		Leverage: 1, Percent: 10, TP: 50,
		StaticEntryMode: model.EntrySignal, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coordinator.New(), &fakeNotifier{}, clock)

	a.openPosition(ctx, "BTCUSDT", model.SideBuy, 0)
	assert.Empty(t, gw.orders)
}

func TestCloseDebounceBlocksSecondAttempt(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cfg := &model.BotConfig{
		BotID: "D5", Mode: model.ModeDynamic, DynamicStrategy: model.StrategyVolume,
		Leverage: 5, Percent: 10, TP: 100, Status: model.StatusRunning,
	}
	a := newTestActor(t, cfg, gw, store, coordinator.New(), &fakeNotifier{}, clock)
	a.symbol = "ETHUSDT"
	a.state.PositionOpen = true
	a.state.Side = model.SideBuy
	a.state.Entry = 100
	a.state.Qty = 1
	a.state.CloseAttempted = true
	a.state.LastCloseAttempt = clock.Now().Add(-10 * time.Second)

	gw.price = 200
	a.closePosition(ctx, "ETHUSDT", "TP hit", clock.Now(), true)
	assert.Empty(t, gw.orders, "a close within the 30s debounce window must be refused")

	a.state.LastCloseAttempt = clock.Now().Add(-31 * time.Second)
	a.closePosition(ctx, "ETHUSDT", "TP hit", clock.Now(), true)
	assert.Len(t, gw.orders, 1)
}
