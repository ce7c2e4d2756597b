// Package coordinator implements the Fleet Coordinator: the FIFO
// search-permission broker that guarantees at most one bot performs dynamic
// coin discovery at a time, with correct hand-off on entry. A single
// mutex-guarded struct holds every piece of state; no operation performs
// a network call inside the critical section.
package coordinator

import (
	"sync"

	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// Coordinator serializes search-permission handoff across bots. Every
// operation is guarded by one mutex; the critical section never performs a
// network call.
type Coordinator struct {
	mu sync.Mutex

	currentSearcher string // "" means none
	waitingQueue    []string
	botsWithSymbol  map[string]bool
	claimedSymbols  map[string]bool
}

func New() *Coordinator {
	return &Coordinator{
		botsWithSymbol: make(map[string]bool),
		claimedSymbols: make(map[string]bool),
	}
}

// Snapshot is a read-only view of the coordinator's state, for tests and
// diagnostics.
type Snapshot struct {
	CurrentSearcher string
	WaitingQueue    []string
	BotsWithSymbol  []string
	ClaimedSymbols  []string
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{CurrentSearcher: c.currentSearcher}
	s.WaitingQueue = append(s.WaitingQueue, c.waitingQueue...)
	for id := range c.botsWithSymbol {
		s.BotsWithSymbol = append(s.BotsWithSymbol, id)
	}
	for sym := range c.claimedSymbols {
		s.ClaimedSymbols = append(s.ClaimedSymbols, sym)
	}
	return s
}

// RequestSearch asks for search permission. A bot already holding a symbol
// may never search again. Otherwise, if no one is searching (or the
// requester already is), it becomes the searcher; else it joins the FIFO
// queue (at most once) and the call returns false.
func (c *Coordinator) RequestSearch(botID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.botsWithSymbol[botID] {
		return false
	}
	if c.currentSearcher == "" || c.currentSearcher == botID {
		c.currentSearcher = botID
		return true
	}
	for _, id := range c.waitingQueue {
		if id == botID {
			return false
		}
	}
	c.waitingQueue = append(c.waitingQueue, botID)
	telemetry.CoordinatorQueueDepth.Set(float64(len(c.waitingQueue)))
	return false
}

// FinishSearch is called only by the current searcher. It clears the
// searcher slot, records the claimed symbol (if any) and symbol ownership
// (if now holding one), then pops the queue head into the searcher slot and
// returns that id (empty if the queue was empty).
func (c *Coordinator) FinishSearch(botID string, foundSymbol string, hasSymbolNow bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentSearcher != botID {
		return ""
	}
	c.currentSearcher = ""
	if foundSymbol != "" {
		c.claimedSymbols[foundSymbol] = true
	}
	if hasSymbolNow {
		c.botsWithSymbol[botID] = true
	}

	if len(c.waitingQueue) == 0 {
		return ""
	}
	next := c.waitingQueue[0]
	c.waitingQueue = c.waitingQueue[1:]
	c.currentSearcher = next
	telemetry.CoordinatorQueueDepth.Set(float64(len(c.waitingQueue)))
	return next
}

// ClaimSymbol adds symbol to the cooldown set the moment a searcher picks
// it, so no other bot races the same symbol while the picker is still
// evaluating entry.
func (c *Coordinator) ClaimSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimedSymbols[symbol] = true
}

// MarkHasSymbol records that a bot now owns a symbol outside the
// search/finish flow (e.g. a static bot opening its fixed symbol), and
// drops it from the waiting queue if it was enqueued.
func (c *Coordinator) MarkHasSymbol(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.botsWithSymbol[botID] = true
	for i, id := range c.waitingQueue {
		if id == botID {
			c.waitingQueue = append(c.waitingQueue[:i], c.waitingQueue[i+1:]...)
			telemetry.CoordinatorQueueDepth.Set(float64(len(c.waitingQueue)))
			break
		}
	}
}

// MarkLostSymbol records that a bot no longer owns any symbol, after a
// close.
func (c *Coordinator) MarkLostSymbol(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.botsWithSymbol, botID)
}

// IsSymbolAvailable reports whether symbol is free of the claimed-symbols
// cooldown set.
func (c *Coordinator) IsSymbolAvailable(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.claimedSymbols[symbol]
}

// ReleaseClaim removes symbol from the cooldown set, e.g. once the opening
// attempt that claimed it definitively failed and the symbol should be
// re-offered to other searchers.
func (c *Coordinator) ReleaseClaim(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimedSymbols, symbol)
}

// SeedHasSymbol is used once at Bot Manager startup to rebuild
// bots_with_symbol from persisted open positions, so a restart never grants
// search permission to a bot that already owns a symbol.
func (c *Coordinator) SeedHasSymbol(botIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range botIDs {
		c.botsWithSymbol[id] = true
	}
}
