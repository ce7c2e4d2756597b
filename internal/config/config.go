// Package config loads the fleet-level configuration: exchange credentials,
// the Postgres connection string, logging destination, an optional
// bootstrap bot list, and the admin notification webhook.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// FleetConfig is the process-wide configuration loaded at startup.
type FleetConfig struct {
	// Default exchange credentials, used for bots whose BotConfig does not
	// override them.
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	PostgresURL string

	LogDir   string
	LogLevel string

	// BootstrapBots, if non-empty and the bot_configs table is empty, is
	// used to seed the fleet on first boot.
	BootstrapBots []BootstrapBot

	// Admin notification channel; notifications are suppressed if either
	// is empty.
	NotifyWebhookURL string
	NotifyChatID     string

	// MetricsAddr, if set, serves the Prometheus scrape endpoint on that
	// address (e.g. ":9100"). Empty disables it.
	MetricsAddr string

	MarginSafetyIntervalSeconds int
	MarginSafetyThreshold       float64
}

// BootstrapBot is one entry of the optional bootstrap bot list. Bot IDs
// are not part of the entry; the Bot Manager generates them, bot_count
// per batch.
type BootstrapBot struct {
	Mode            string  `json:"mode"`
	Symbol          string  `json:"symbol,omitempty"`
	Leverage        int     `json:"leverage"`
	Percent         float64 `json:"percent"`
	TP              float64 `json:"tp"`
	SL              float64 `json:"sl"`
	ROITrigger      float64 `json:"roi_trigger,omitempty"`
	DynamicStrategy string  `json:"dynamic_strategy,omitempty"`
	StaticEntryMode string  `json:"static_entry_mode,omitempty"`
	ReverseOnStop   bool    `json:"reverse_on_stop,omitempty"`
	PyramidingN     int     `json:"pyramiding_n,omitempty"`
	PyramidingX     float64 `json:"pyramiding_x,omitempty"`
	BotCount        int     `json:"bot_count,omitempty"`
}

// Load reads an optional .env file (ignored if absent) and then the
// recognized environment variables.
func Load(envFile string) (*FleetConfig, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // best effort
	} else {
		_ = godotenv.Load()
	}

	c := &FleetConfig{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:   os.Getenv("BINANCE_TESTNET") == "true",
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		LogDir:           os.Getenv("LOG_DIR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyChatID:     os.Getenv("NOTIFY_CHAT_ID"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}
	if c.BinanceAPISecret == "" {
		c.BinanceAPISecret = os.Getenv("BINANCE_SECRET_KEY")
	}

	// BOOTSTRAP_BOTS carries the roster as an inline JSON list; a file path
	// via BOOTSTRAP_BOTS_FILE is accepted as an alternative.
	if raw := os.Getenv("BOOTSTRAP_BOTS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.BootstrapBots); err != nil {
			return nil, fmt.Errorf("parse BOOTSTRAP_BOTS: %w", err)
		}
	} else if path := os.Getenv("BOOTSTRAP_BOTS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read bootstrap bots file: %w", err)
		}
		if err := json.Unmarshal(data, &c.BootstrapBots); err != nil {
			return nil, fmt.Errorf("parse bootstrap bots file: %w", err)
		}
	}

	if raw := os.Getenv("MARGIN_SAFETY_INTERVAL_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("MARGIN_SAFETY_INTERVAL_SECONDS: %w", err)
		}
		c.MarginSafetyIntervalSeconds = n
	}

	if raw := os.Getenv("MARGIN_SAFETY_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("MARGIN_SAFETY_THRESHOLD: %w", err)
		}
		c.MarginSafetyThreshold = v
	}

	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FleetConfig) setDefaults() {
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.MarginSafetyIntervalSeconds <= 0 {
		c.MarginSafetyIntervalSeconds = 10
	}
	if c.MarginSafetyThreshold <= 0 {
		c.MarginSafetyThreshold = 1.15
	}
	for i := range c.BootstrapBots {
		b := &c.BootstrapBots[i]
		if b.Leverage <= 0 {
			b.Leverage = 20
		}
		if b.Percent <= 0 {
			b.Percent = 25
		}
		if b.TP <= 0 {
			b.TP = 200
		}
		if b.BotCount <= 0 {
			b.BotCount = 1
		}
	}
}

func (c *FleetConfig) validate() error {
	if strings.TrimSpace(c.PostgresURL) == "" {
		return fmt.Errorf("POSTGRES_URL is required")
	}
	if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}
	if c.MarginSafetyIntervalSeconds <= 0 {
		return fmt.Errorf("margin safety interval must be positive")
	}
	return nil
}

// NotificationsEnabled reports whether the admin channel is configured.
func (c *FleetConfig) NotificationsEnabled() bool {
	return c.NotifyWebhookURL != "" && c.NotifyChatID != ""
}
