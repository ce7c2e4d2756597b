// Package manager implements the Bot Manager: fleet bootstrap, dynamic
// add/stop of bots, and the pull-interface fleet census the external
// UI/Telegram collaborator reads from. Load persisted configs, spawn a
// worker per bot, expose a read-only snapshot.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/fleet-bot/internal/bot"
	"github.com/ducminhle1904/fleet-bot/internal/coordinator"
	"github.com/ducminhle1904/fleet-bot/internal/exchange"
	"github.com/ducminhle1904/fleet-bot/internal/model"
	"github.com/ducminhle1904/fleet-bot/internal/notifications"
	"github.com/ducminhle1904/fleet-bot/internal/persistence"
	"github.com/ducminhle1904/fleet-bot/internal/safetygov"
	"github.com/ducminhle1904/fleet-bot/internal/signal"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// GatewayFactory builds the Exchange Gateway for one bot's own credentials,
// so a leaked or rate-limited key affects only the bots using it.
type GatewayFactory func(creds model.Credentials) exchange.Gateway

type runningBot struct {
	actor  *bot.Actor
	cfg    *model.BotConfig
	logger *telemetry.Logger
	cancel context.CancelFunc
}

// Manager supervises every Bot Actor in the fleet.
type Manager struct {
	store      *persistence.Store
	coord      *coordinator.Coordinator
	notifier   notifications.Notifier
	governor   *safetygov.Governor
	gatewayFor GatewayFactory
	debugLogs  bool

	mu   sync.Mutex
	bots map[string]*runningBot
}

// New builds a Manager. notifier and governor are shared across every bot
// spawned; the safety policy and notification channel are fleet-wide, not
// per-bot.
func New(store *persistence.Store, coord *coordinator.Coordinator, notifier notifications.Notifier, governor *safetygov.Governor, gatewayFor GatewayFactory, debugLogs bool) *Manager {
	return &Manager{
		store:      store,
		coord:      coord,
		notifier:   notifier,
		governor:   governor,
		gatewayFor: gatewayFor,
		debugLogs:  debugLogs,
		bots:       make(map[string]*runningBot),
	}
}

// Bootstrap loads every running, non-deleted config, seeds the Coordinator
// from persisted open positions, then spawns and reattaches each bot.
func (m *Manager) Bootstrap(ctx context.Context) error {
	configs, err := m.store.ListBots(ctx, model.StatusRunning)
	if err != nil {
		return fmt.Errorf("bootstrap: list bots: %w", err)
	}

	var withSymbol []string
	positions := make(map[string]*model.Position, len(configs))
	for _, cfg := range configs {
		pos, err := m.store.GetOpenPositionForBot(ctx, cfg.BotID)
		if err != nil {
			return fmt.Errorf("bootstrap: get open position for %s: %w", cfg.BotID, err)
		}
		if pos != nil {
			positions[cfg.BotID] = pos
			withSymbol = append(withSymbol, cfg.BotID)
		}
	}
	m.coord.SeedHasSymbol(withSymbol)

	for _, cfg := range configs {
		if err := m.spawn(ctx, cfg, positions[cfg.BotID]); err != nil {
			return fmt.Errorf("bootstrap: spawn %s: %w", cfg.BotID, err)
		}
	}
	return nil
}

// spawn constructs the shared services a Bot Actor needs and starts its
// run loop in the background. If pos is non-nil the actor resumes that
// position instead of starting fresh (no new discovery is initiated).
func (m *Manager) spawn(ctx context.Context, cfg *model.BotConfig, pos *model.Position) error {
	logger, err := telemetry.New(cfg.BotID, m.debugLogs)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	gw := m.gatewayFor(cfg.Credentials)
	analyzer := signal.NewAnalyzer(gw)
	actor := bot.NewActor(cfg, gw, m.store, m.coord, analyzer, m.notifier, m.governor, logger, nil, nil)

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.bots[cfg.BotID] = &runningBot{actor: actor, cfg: cfg, logger: logger, cancel: cancel}
	m.mu.Unlock()

	if pos != nil {
		actor.Resume(runCtx, pos)
	}
	go actor.Run(runCtx)
	return nil
}

// AddBot generates `count` deterministic bot IDs from a base config,
// persisting each before spawning it. IDs already registered (from a
// previous batch with the same mode and symbol/strategy) are skipped over.
func (m *Manager) AddBot(ctx context.Context, base model.BotConfig, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	discriminator := base.Symbol
	if base.Mode == model.ModeDynamic {
		discriminator = string(base.DynamicStrategy)
	}
	var ids []string
	for i := 0; i < count; i++ {
		cfg := base
		cfg.BotID = m.nextBotID(string(base.Mode), discriminator)
		cfg.Status = model.StatusRunning
		if err := cfg.Validate(); err != nil {
			return ids, fmt.Errorf("add-bot: %w", err)
		}
		if err := m.store.UpsertBotConfig(ctx, &cfg); err != nil {
			return ids, fmt.Errorf("add-bot: persist %s: %w", cfg.BotID, err)
		}
		if err := m.spawn(ctx, &cfg, nil); err != nil {
			return ids, fmt.Errorf("add-bot: spawn %s: %w", cfg.BotID, err)
		}
		ids = append(ids, cfg.BotID)
	}
	return ids, nil
}

// nextBotID returns the lowest <mode>-<discriminator>-NN id not already
// registered in the fleet.
func (m *Manager) nextBotID(mode, discriminator string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := 1; ; n++ {
		id := fmt.Sprintf("%s-%s-%02d", mode, discriminator, n)
		if _, ok := m.bots[id]; !ok {
			return id
		}
	}
}

// StopBot stops one bot's actor loop and marks it stopped in persistence.
func (m *Manager) StopBot(ctx context.Context, botID string) error {
	m.mu.Lock()
	rb, ok := m.bots[botID]
	if ok {
		delete(m.bots, botID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop-bot: unknown bot %s", botID)
	}
	rb.actor.Stop(ctx)
	rb.cancel()
	rb.logger.Close()
	return nil
}

// StopAll stops every running bot. Used on process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopBot(ctx, id); err != nil {
			continue
		}
	}
}

// BotView is one bot's status line in the fleet census.
type BotView struct {
	BotID  string
	Mode   model.BotMode
	Symbol string
	Status model.BotStatus
}

// FleetCensus is the read-only snapshot the external collaborator polls.
type FleetCensus struct {
	Bots   []BotView
	Search coordinator.Snapshot
}

// Census builds the current fleet-wide view.
func (m *Manager) Census() FleetCensus {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]BotView, 0, len(m.bots))
	for _, rb := range m.bots {
		views = append(views, BotView{
			BotID:  rb.cfg.BotID,
			Mode:   rb.cfg.Mode,
			Symbol: rb.actor.Symbol(),
			Status: rb.cfg.Status,
		})
	}
	return FleetCensus{Bots: views, Search: m.coord.Snapshot()}
}
