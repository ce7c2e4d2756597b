package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ducminhle1904/fleet-bot/internal/coordinator"
	"github.com/ducminhle1904/fleet-bot/internal/exchange"
	"github.com/ducminhle1904/fleet-bot/internal/model"
	"github.com/ducminhle1904/fleet-bot/internal/notifications"
	"github.com/ducminhle1904/fleet-bot/internal/safetygov"
	"github.com/ducminhle1904/fleet-bot/internal/signal"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// Store is the slice of the Persistence Store a Bot Actor consumes.
// *persistence.Store is the production implementation; tests substitute a
// fake so the state machine can run against scripted durable state.
type Store interface {
	GetOpenPosition(ctx context.Context, botID, symbol string) (*model.Position, error)
	UpsertOpenPosition(ctx context.Context, p *model.Position) error
	AppendTrade(ctx context.Context, t *model.TradeEvent) error
	CloseAndRecord(ctx context.Context, botID, symbol string, trade *model.TradeEvent, pnl float64) error
	DeleteOpenPosition(ctx context.Context, botID, symbol string) error
	SetBotStatus(ctx context.Context, botID string, status model.BotStatus, softDelete bool) error
	HasOpenPositionAnyBot(ctx context.Context, symbol string) (bool, error)
	IsBlacklisted(ctx context.Context, symbol string) (bool, error)
}

// Clock is the bot's notion of "now", injected so tests can drive the tick
// loop deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const (
	tickInterval          = time.Second
	safetyCheckInterval   = 10 * time.Second
	censusInterval        = 30 * time.Second
	positionCheckInterval = 30 * time.Second
	openCooldown          = 30 * time.Second
	closeCooldown         = 30 * time.Second
	closeDebounce         = 30 * time.Second
	pyramidCooldown       = 60 * time.Second
	discoveryRankLimit    = 20
	discoveryMinUSD       = 50_000.0
	discoveryMinPercent   = 3.0
	earlyReversalROI      = -50.0
	earlyReversalSignalT  = 20.0
)

// Actor is the per-bot control loop: it acquires at most one symbol,
// evaluates a battery of conditions each tick, and acts on the first
// match — entry, pyramid, smart exit, reversal, TP/SL, or stop.
type Actor struct {
	cfg      *model.BotConfig
	gw       exchange.Gateway
	store    Store
	coord    *coordinator.Coordinator
	analyzer *signal.Analyzer
	notifier notifications.Notifier
	governor *safetygov.Governor
	logger   *telemetry.Logger
	clock    Clock
	rng      *rand.Rand
	sleep    func(time.Duration)

	mu     sync.Mutex
	symbol string
	state  *SymbolState
	census Census

	lastSafetyCheck time.Time
	lastCensus      time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewActor builds an Actor for one bot configuration, wiring it to the
// shared services every bot depends on.
func NewActor(
	cfg *model.BotConfig,
	gw exchange.Gateway,
	store Store,
	coord *coordinator.Coordinator,
	analyzer *signal.Analyzer,
	notifier notifications.Notifier,
	governor *safetygov.Governor,
	logger *telemetry.Logger,
	clock Clock,
	rng *rand.Rand,
) *Actor {
	if clock == nil {
		clock = RealClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Actor{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		coord:    coord,
		analyzer: analyzer,
		notifier: notifier,
		governor: governor,
		logger:   logger,
		clock:    clock,
		rng:      rng,
		sleep:    time.Sleep,
		state:    NewSymbolState(),
		stopCh:   make(chan struct{}),
	}
}

// Symbol reports the symbol this actor currently owns, "" if none.
func (a *Actor) Symbol() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.symbol
}

// Resume reattaches a symbol and position recovered from persistence at
// Bot Manager bootstrap, without re-entering discovery.
func (a *Actor) Resume(ctx context.Context, pos *model.Position) {
	a.mu.Lock()
	a.symbol = pos.Symbol
	s := NewSymbolState()
	s.PositionOpen = pos.Status == model.PositionOpen
	s.Side = pos.Side
	s.Entry = pos.EntryPrice
	s.Qty = pos.Quantity
	s.PyramidingCount = pos.PyramidingCount
	s.SetCurrentPrice(pos.CurrentPrice)
	s.LastPositionCheck = a.clock.Now()
	a.state = s
	a.mu.Unlock()

	if s.PositionOpen {
		telemetry.OpenPositions.WithLabelValues(a.cfg.BotID, pos.Symbol).Set(1)
	}
	if err := a.gw.SubscribeTrades(ctx, pos.Symbol, func(tick exchange.TradeTick) {
		s.SetCurrentPrice(tick.Price)
	}); err != nil {
		a.logger.ErrorWithContext("resume-subscribe", err)
	}
}

// Run drives the 1s-cadence tick loop until ctx is canceled or Stop is
// called.
func (a *Actor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.logger.ErrorWithContext("tick", err)
			}
		}
	}
}

// Tick runs one control-flow pass: safety check, census, symbol
// acquisition, per-symbol processing. Exported so tests can drive it
// deterministically without sleeping a full second.
func (a *Actor) Tick(ctx context.Context) error {
	now := a.clock.Now()

	if now.Sub(a.lastSafetyCheck) >= safetyCheckInterval {
		a.lastSafetyCheck = now
		if tripped := a.checkSafety(ctx); tripped {
			return nil // yield this tick
		}
	}

	if now.Sub(a.lastCensus) >= censusInterval {
		a.lastCensus = now
		if c, err := a.computeCensus(ctx); err != nil {
			a.logger.ErrorWithContext("census", err)
		} else {
			a.census = c
		}
	}

	if a.Symbol() == "" {
		a.acquireSymbol(ctx)
	}

	if a.Symbol() != "" {
		a.processSymbol(ctx, now)
	}
	return nil
}

func (a *Actor) checkSafety(ctx context.Context) bool {
	ratio, tripped, err := a.governor.Probe(ctx, a.gw)
	if err != nil {
		a.logger.ErrorWithContext("safety-probe", err)
		return false
	}
	if !tripped {
		return false
	}
	a.logger.Safety("margin ratio %.4f breached threshold %.4f; stopping all symbols", ratio, a.governor.Threshold())
	telemetry.SafetyTrips.WithLabelValues(a.cfg.BotID).Inc()
	a.stopAllSymbols(ctx, "operator safety trip")
	a.emit(notifications.EventSafetyTrip, "", fmt.Sprintf("margin ratio %.4f breached threshold %.4f", ratio, a.governor.Threshold()))
	return true
}

func (a *Actor) computeCensus(ctx context.Context) (Census, error) {
	positions, err := a.gw.GetPositions(ctx, "")
	if err != nil {
		return Census{}, err
	}
	var c Census
	for _, p := range positions {
		notional := absFloat(p.PositionAmt) * p.MarkPrice * p.Leverage
		switch {
		case p.PositionAmt > 0:
			c.LongNotional += notional
		case p.PositionAmt < 0:
			c.ShortNotional += notional
		}
	}
	return c, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (a *Actor) emit(event notifications.Event, symbol, message string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(a.cfg.BotID, event, symbol, message)
}

func toGatewaySide(side model.Side) exchange.Side {
	if side == model.SideSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
