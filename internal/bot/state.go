// Package bot implements the Bot Actor: the per-bot control loop, its
// position state machine, signal evaluation, order placement, pyramiding,
// smart-exit, and reversal logic.
package bot

import (
	"sync"
	"time"

	"github.com/ducminhle1904/fleet-bot/internal/model"
)

// SymbolState is the per-symbol state a Bot Actor owns exclusively, except
// CurrentPrice, which the trade-stream delivery path also writes from a
// different goroutine. A fresh SymbolState is
// created every time an actor attaches or loses a symbol.
type SymbolState struct {
	PositionOpen bool
	Side         model.Side
	Qty          float64
	Entry        float64

	priceMu      sync.Mutex
	currentPrice float64

	LastOpenTime   time.Time
	LastCloseTime  time.Time
	LastClosedSide model.Side

	HighWaterMarkROI  float64
	ROICheckActivated bool

	CloseAttempted    bool
	LastCloseAttempt  time.Time
	LastPositionCheck time.Time

	PyramidingCount    int
	PyramidingBaseROI  float64
	LastPyramidingTime time.Time
}

// NewSymbolState returns a zeroed state for a newly attached symbol.
func NewSymbolState() *SymbolState { return &SymbolState{} }

// CurrentPrice reads the latest trade-stream price under the state's own
// tiny lock, since it is written from the stream delivery goroutine.
func (s *SymbolState) CurrentPrice() float64 {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	return s.currentPrice
}

// SetCurrentPrice is called from the trade-stream callback.
func (s *SymbolState) SetCurrentPrice(p float64) {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	s.currentPrice = p
}
