// Package model defines the core persisted entities shared by every fleet
// component: bot configuration, positions, trade history and statistics.
package model

import (
	"fmt"
	"time"
)

// BotMode selects whether a bot trades a fixed symbol or discovers one.
type BotMode string

const (
	ModeStatic  BotMode = "static"
	ModeDynamic BotMode = "dynamic"
)

// DynamicStrategy selects the ranking/side-selection rule for dynamic bots.
type DynamicStrategy string

const (
	StrategyVolume     DynamicStrategy = "volume"
	StrategyVolatility DynamicStrategy = "volatility"
)

// StaticEntryMode selects how a static bot decides to open a position.
type StaticEntryMode string

const (
	EntrySignal  StaticEntryMode = "signal"
	EntryReverse StaticEntryMode = "reverse"
	EntryWait    StaticEntryMode = "wait"
)

// BotStatus is the lifecycle status of a BotConfig.
type BotStatus string

const (
	StatusRunning BotStatus = "running"
	StatusStopped BotStatus = "stopped"
)

// Side is a position or order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionStatus is the lifecycle status of a Position row.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosed  PositionStatus = "closed"
	PositionPending PositionStatus = "pending"
)

// Credentials holds exchange API key/secret owned by one bot.
type Credentials struct {
	APIKey    string
	APISecret string
}

// BotConfig is the immutable-after-create description of a bot. Identity
// and risk/strategy knobs never change after creation except Status and the
// timestamps.
type BotConfig struct {
	BotID  string
	Mode   BotMode
	Symbol string // non-empty iff Mode == ModeStatic

	Leverage   int
	Percent    float64
	TP         float64
	SL         float64 // 0 means "no stop loss"
	ROITrigger float64 // 0 means "smart exit disarmed"

	DynamicStrategy DynamicStrategy
	StaticEntryMode StaticEntryMode
	ReverseOnStop   bool
	PyramidingN     int
	PyramidingX     float64

	Credentials Credentials

	Status BotStatus

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Validate enforces the cross-field invariants of a bot configuration.
func (c *BotConfig) Validate() error {
	if c.BotID == "" {
		return fmt.Errorf("bot_id is required")
	}
	switch c.Mode {
	case ModeStatic:
		if c.Symbol == "" {
			return fmt.Errorf("static bot %s requires a symbol", c.BotID)
		}
	case ModeDynamic:
		if c.DynamicStrategy != StrategyVolume && c.DynamicStrategy != StrategyVolatility {
			return fmt.Errorf("dynamic bot %s requires a dynamic_strategy", c.BotID)
		}
	default:
		return fmt.Errorf("bot %s has unknown mode %q", c.BotID, c.Mode)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("bot %s leverage must be >= 1", c.BotID)
	}
	if (c.PyramidingN > 0) != (c.PyramidingX > 0) {
		return fmt.Errorf("bot %s: pyramiding_n>0 must imply pyramiding_x>0 and vice versa", c.BotID)
	}
	if c.PyramidingN < 0 || c.PyramidingN > 5 {
		return fmt.Errorf("bot %s pyramiding_n must be within 0..5", c.BotID)
	}
	return nil
}

// IsDeleted reports whether the config has been soft-deleted.
func (c *BotConfig) IsDeleted() bool { return c.DeletedAt != nil }

// Position is the open/closed/pending record for a (bot, symbol) pair.
type Position struct {
	BotID            string
	Symbol           string
	Side             Side
	EntryPrice       float64
	Quantity         float64 // always >= 0; sign is carried by Side
	PyramidingCount  int
	CurrentPrice     float64
	ROI              float64
	TPPrice          float64
	SLPrice          float64 // 0 means no stop loss
	Status           PositionStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
	LastUpdate       time.Time
}

// TradeEvent is an append-only audit row for a single fill.
type TradeEvent struct {
	BotID     string
	Symbol    string
	Side      string // e.g. OPEN_BUY, CLOSE_SELL, PYRAMID_BUY
	Price     float64
	Quantity  float64
	PnL       *float64
	ROI       *float64
	Reason    string
	CreatedAt time.Time
}

// BotStatistics is the per-bot rollup mutated on every close.
type BotStatistics struct {
	BotID         string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	MaxDrawdown   float64
}

// Bump updates the rollup for a single closed trade.
func (s *BotStatistics) Bump(pnl float64) {
	s.TotalTrades++
	if pnl > 0 {
		s.WinningTrades++
	} else {
		s.LosingTrades++
	}
	s.TotalPnL += pnl
}
