// Command fleet-bot runs the multi-bot perpetual-futures trading engine:
// it loads fleet configuration, opens the persistence store, bootstraps
// every previously running bot, and blocks until signaled to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ducminhle1904/fleet-bot/internal/config"
	"github.com/ducminhle1904/fleet-bot/internal/coordinator"
	"github.com/ducminhle1904/fleet-bot/internal/exchange"
	"github.com/ducminhle1904/fleet-bot/internal/manager"
	"github.com/ducminhle1904/fleet-bot/internal/model"
	"github.com/ducminhle1904/fleet-bot/internal/notifications"
	"github.com/ducminhle1904/fleet-bot/internal/persistence"
	"github.com/ducminhle1904/fleet-bot/internal/safetygov"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

const version = "1.0.0"

func main() {
	flags := parseFlags()
	if flags.Version {
		fmt.Println("fleet-bot " + version)
		return
	}

	if err := run(flags); err != nil {
		log.Fatalf("fleet-bot: %v", err)
	}
}

func run(flags Flags) error {
	cfg, err := config.Load(flags.EnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := persistence.Open(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	go store.RunHousekeepingLoop(ctx, func(err error) {
		log.Printf("housekeeping: %v", err)
	})

	coord := coordinator.New()
	governor := safetygov.New(cfg.MarginSafetyThreshold)

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.NotificationsEnabled() {
		notifier = notifications.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyChatID)
	}

	limiter := exchange.NewRateLimiter("binance-futures", exchange.MinRequestInterval)
	breaker := exchange.NewCircuitBreaker("binance-futures", exchange.CircuitBreakerConfig{})
	gateways := newGatewayCache(cfg.BinanceTestnet, limiter, breaker)
	gatewayFor := func(creds model.Credentials) exchange.Gateway {
		apiKey, apiSecret := creds.APIKey, creds.APISecret
		if apiKey == "" || apiSecret == "" {
			apiKey, apiSecret = cfg.BinanceAPIKey, cfg.BinanceAPISecret
		}
		return gateways.get(apiKey, apiSecret)
	}

	mgr := manager.New(store, coord, notifier, governor, gatewayFor, flags.Verbose)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if err := mgr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap fleet: %w", err)
	}
	if err := seedInitialBots(ctx, store, mgr, cfg); err != nil {
		return fmt.Errorf("seed bootstrap bots: %w", err)
	}

	log.Printf("fleet-bot running")
	<-ctx.Done()
	log.Printf("shutting down")
	mgr.StopAll(context.Background())
	return nil
}

// gatewayCache hands out one Gateway per distinct credential set: signing,
// result caches, and trade streams are per-key, while the rate-limit gate
// and circuit breaker it injects are the same process-wide pair for every
// key, so the fleet's combined request rate never exceeds one request per
// exchange.MinRequestInterval no matter how many credential sets are in
// play.
type gatewayCache struct {
	mu      sync.Mutex
	testnet bool
	limiter *exchange.RateLimiter
	breaker *exchange.CircuitBreaker
	byKey   map[string]exchange.Gateway
}

func newGatewayCache(testnet bool, limiter *exchange.RateLimiter, breaker *exchange.CircuitBreaker) *gatewayCache {
	return &gatewayCache{
		testnet: testnet,
		limiter: limiter,
		breaker: breaker,
		byKey:   make(map[string]exchange.Gateway),
	}
}

func (c *gatewayCache) get(apiKey, apiSecret string) exchange.Gateway {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gw, ok := c.byKey[apiKey]; ok {
		return gw
	}
	gw := exchange.NewBinanceFutures(apiKey, apiSecret, c.testnet, c.limiter, c.breaker)
	c.byKey[apiKey] = gw
	return gw
}

// seedInitialBots adds the BOOTSTRAP_BOTS roster through the manager the
// first time the fleet ever starts (an empty bot_configs table), after the
// DB restore has run, so a fresh deployment doesn't need a separate
// add-bot call. Bot IDs are generated by AddBot, one batch per entry.
func seedInitialBots(ctx context.Context, store *persistence.Store, mgr *manager.Manager, cfg *config.FleetConfig) error {
	if len(cfg.BootstrapBots) == 0 {
		return nil
	}
	existing, err := store.ListBots(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for i, b := range cfg.BootstrapBots {
		base := model.BotConfig{
			Mode:            model.BotMode(b.Mode),
			Symbol:          b.Symbol,
			Leverage:        b.Leverage,
			Percent:         b.Percent,
			TP:              b.TP,
			SL:              b.SL,
			ROITrigger:      b.ROITrigger,
			DynamicStrategy: model.DynamicStrategy(b.DynamicStrategy),
			StaticEntryMode: model.StaticEntryMode(b.StaticEntryMode),
			ReverseOnStop:   b.ReverseOnStop,
			PyramidingN:     b.PyramidingN,
			PyramidingX:     b.PyramidingX,
		}
		if _, err := mgr.AddBot(ctx, base, b.BotCount); err != nil {
			return fmt.Errorf("bootstrap entry %d: %w", i, err)
		}
	}
	return nil
}
