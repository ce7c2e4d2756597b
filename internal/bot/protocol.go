package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/fleet-bot/internal/exchange"
	"github.com/ducminhle1904/fleet-bot/internal/model"
	"github.com/ducminhle1904/fleet-bot/internal/notifications"
	"github.com/ducminhle1904/fleet-bot/internal/signal"
	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// processSymbol is the per-symbol stage of the tick: refresh position
// state, then dispatch to the open-position evaluation battery or the
// entry attempt.
func (a *Actor) processSymbol(ctx context.Context, now time.Time) {
	symbol := a.Symbol()
	if symbol == "" {
		return
	}

	if now.Sub(a.state.LastPositionCheck) >= positionCheckInterval {
		a.refreshPosition(ctx, symbol, now)
	}

	if a.state.PositionOpen {
		a.evaluateOpenPosition(ctx, symbol, now)
		return
	}

	if now.Sub(a.state.LastOpenTime) < openCooldown || now.Sub(a.state.LastCloseTime) < closeCooldown {
		return
	}
	a.attemptEntry(ctx, symbol)
}

// refreshPosition re-syncs per-symbol state from persistence then venue, at
// most every 30s.
func (a *Actor) refreshPosition(ctx context.Context, symbol string, now time.Time) {
	a.state.LastPositionCheck = now

	pos, err := a.store.GetOpenPosition(ctx, a.cfg.BotID, symbol)
	if err != nil {
		a.logger.ErrorWithContext("refresh-position-store", err)
		return
	}
	if pos == nil {
		a.state.PositionOpen = false
		return
	}

	venuePositions, err := a.gw.GetPositions(ctx, symbol)
	if err != nil {
		a.logger.ErrorWithContext("refresh-position-venue", err)
		return
	}
	var live *exchange.Position
	for i := range venuePositions {
		if venuePositions[i].PositionAmt != 0 {
			live = &venuePositions[i]
			break
		}
	}
	if live == nil {
		a.state.PositionOpen = false
		return
	}

	a.state.PositionOpen = true
	a.state.Side = pos.Side
	a.state.Entry = live.EntryPrice
	a.state.Qty = absFloat(live.PositionAmt)
	a.state.PyramidingCount = pos.PyramidingCount
}

// evaluateOpenPosition runs the open-position battery: smart exit, early
// reversal, TP/SL, then pyramiding.
func (a *Actor) evaluateOpenPosition(ctx context.Context, symbol string, now time.Time) {
	current := a.currentPrice(ctx, symbol)
	if current == 0 {
		return
	}

	_, _, roiPct := ROI(a.state.Side, a.state.Entry, a.state.Qty, current, a.cfg.Leverage)
	if roiPct > a.state.HighWaterMarkROI {
		a.state.HighWaterMarkROI = roiPct
	}
	if a.cfg.ROITrigger > 0 && a.state.HighWaterMarkROI >= a.cfg.ROITrigger {
		a.state.ROICheckActivated = true
	}

	if a.cfg.DynamicStrategy == model.StrategyVolume && a.cfg.Mode == model.ModeDynamic {
		if a.evaluateSmartExit(ctx, symbol, roiPct, now) {
			return
		}
	}
	if a.cfg.DynamicStrategy == model.StrategyVolatility && a.cfg.Mode == model.ModeDynamic {
		if a.evaluateEarlyReversal(ctx, symbol, roiPct, now) {
			return
		}
	}

	if a.evaluateTPSL(ctx, symbol, roiPct, now) {
		return
	}

	if a.cfg.PyramidingN > 0 {
		a.evaluatePyramiding(ctx, symbol, current, roiPct, now)
	}
}

// evaluateTPSL closes on take-profit or stop-loss ROI. A dynamic bot
// detaches on close and re-enters discovery; a static bot keeps its fixed
// symbol attached so the cooldown and just-closed side survive into the
// next entry attempt.
func (a *Actor) evaluateTPSL(ctx context.Context, symbol string, roiPct float64, now time.Time) bool {
	detach := a.cfg.Mode == model.ModeDynamic
	if roiPct >= a.cfg.TP {
		a.closePosition(ctx, symbol, "TP hit", now, detach)
		return true
	}
	if a.cfg.SL > 0 && roiPct <= -a.cfg.SL {
		a.closePosition(ctx, symbol, "SL hit", now, detach)
		return true
	}
	return false
}

// evaluateSmartExit closes once the ROI trigger has armed and an exit
// signal fires; dynamic+volume bots only. Any fired exit signal is
// eligible — opposition to the open side is not required.
func (a *Actor) evaluateSmartExit(ctx context.Context, symbol string, roiPct float64, now time.Time) bool {
	if !a.state.ROICheckActivated || roiPct < a.cfg.ROITrigger {
		return false
	}
	sig, err := a.analyzer.Decide(ctx, symbol, signal.ExitVolumeThreshold)
	if err != nil {
		a.logger.ErrorWithContext("smart-exit-signal", err)
		return false
	}
	if sig == signal.SignalNone {
		return false
	}
	a.closePosition(ctx, symbol, "ROI + exit-signal", now, true)
	return true
}

// evaluateEarlyReversal flips a deeply losing position when a weak
// opposing signal fires; dynamic+volatility bots only. The close keeps
// the symbol attached (and its trade stream alive) so the opposite side
// can be re-opened immediately with the same sizing.
func (a *Actor) evaluateEarlyReversal(ctx context.Context, symbol string, roiPct float64, now time.Time) bool {
	if roiPct > earlyReversalROI || !a.cfg.ReverseOnStop {
		return false
	}
	sig, err := a.analyzer.Decide(ctx, symbol, earlyReversalSignalT)
	if err != nil {
		a.logger.ErrorWithContext("early-reversal-signal", err)
		return false
	}
	opposes := (sig == signal.SignalBuy && a.state.Side == model.SideSell) || (sig == signal.SignalSell && a.state.Side == model.SideBuy)
	if !opposes {
		return false
	}
	qty := a.state.Qty
	side := a.state.Side
	a.closePosition(ctx, symbol, "early reversal", now, false)
	a.openPosition(ctx, symbol, side.Opposite(), qty)
	return true
}

// evaluatePyramiding averages down a losing position at configured ROI
// steps, sized like the opening order.
func (a *Actor) evaluatePyramiding(ctx context.Context, symbol string, current, roiPct float64, now time.Time) {
	if a.state.PyramidingCount >= a.cfg.PyramidingN {
		return
	}
	if now.Sub(a.state.LastPyramidingTime) < pyramidCooldown {
		return
	}
	if !(roiPct <= a.state.PyramidingBaseROI-a.cfg.PyramidingX && roiPct < 0) {
		return
	}

	total, available, err := a.gw.GetTotalAndAvailableBalance(ctx)
	if err != nil {
		a.logger.ErrorWithContext("pyramid-balance", err)
		return
	}
	notional := total * a.cfg.Percent / 100
	if notional > available {
		return
	}
	step, err := a.gw.GetStepSize(ctx, symbol)
	if err != nil {
		a.logger.ErrorWithContext("pyramid-step", err)
		return
	}
	fillQty := RoundToStep(notional*float64(a.cfg.Leverage)/current, step)
	if fillQty == 0 {
		return
	}

	res, err := a.gw.PlaceMarketOrder(ctx, symbol, toGatewaySide(a.state.Side), fillQty)
	if err != nil {
		a.logger.ErrorWithContext("pyramid-order", err)
		return
	}

	a.state.Entry = WeightedEntry(a.state.Entry, a.state.Qty, res.AvgPrice, res.ExecutedQty)
	a.state.Qty += res.ExecutedQty
	a.state.PyramidingCount++
	a.state.PyramidingBaseROI = roiPct
	a.state.LastPyramidingTime = now

	if err := a.store.UpsertOpenPosition(ctx, &model.Position{
		BotID: a.cfg.BotID, Symbol: symbol, Side: a.state.Side,
		EntryPrice: a.state.Entry, Quantity: a.state.Qty, CurrentPrice: current,
		ROI: roiPct, TPPrice: a.cfg.TP, SLPrice: a.cfg.SL,
		PyramidingCount: a.state.PyramidingCount, Status: model.PositionOpen,
	}); err != nil {
		a.logger.ErrorWithContext("pyramid-persist", err)
	}
	if err := a.store.AppendTrade(ctx, &model.TradeEvent{
		BotID: a.cfg.BotID, Symbol: symbol, Side: "PYRAMID_" + string(a.state.Side),
		Price: res.AvgPrice, Quantity: res.ExecutedQty, Reason: "pyramid",
	}); err != nil {
		a.logger.ErrorWithContext("pyramid-audit", err)
	}
	a.logger.Trade("pyramid %s qty=%.8f new_entry=%.8f count=%d", symbol, res.ExecutedQty, a.state.Entry, a.state.PyramidingCount)
	a.emit(notifications.EventPyramid, symbol, fmt.Sprintf("pyramid #%d at roi=%.2f%%", a.state.PyramidingCount, roiPct))
}

// attemptEntry dispatches to the static or dynamic entry rule.
func (a *Actor) attemptEntry(ctx context.Context, symbol string) {
	if a.cfg.Mode == model.ModeStatic {
		a.attemptStaticEntry(ctx, symbol)
		return
	}
	a.attemptDynamicEntry(ctx, symbol)
}

// attemptStaticEntry follows the bot's static entry mode.
func (a *Actor) attemptStaticEntry(ctx context.Context, symbol string) {
	switch a.cfg.StaticEntryMode {
	case model.EntrySignal, model.EntryWait:
		sig, err := a.analyzer.Decide(ctx, symbol, signal.EntryVolumeThreshold)
		if err != nil {
			a.logger.ErrorWithContext("static-entry-signal", err)
			return
		}
		if sig == signal.SignalNone {
			return
		}
		a.openPosition(ctx, symbol, signalToSide(sig), 0)
	case model.EntryReverse:
		side := BalancingSide(a.census, VolumeImbalanceThreshold, a.rng).Opposite()
		if !a.state.LastCloseTime.IsZero() {
			side = a.state.LastClosedSide.Opposite()
		}
		a.openPosition(ctx, symbol, side, 0)
	}
}

// attemptDynamicEntry opens on the attached symbol when the entry signal
// agrees with the strategy's balancing side; when no signal fires or the
// two disagree it does nothing this tick. Discovery itself happens in
// searchCandidate, which only checks that a signal fired.
func (a *Actor) attemptDynamicEntry(ctx context.Context, symbol string) {
	threshold := VolumeImbalanceThreshold
	if a.cfg.DynamicStrategy == model.StrategyVolatility {
		threshold = VolatilityImbalanceThreshold
	}
	side := BalancingSide(a.census, threshold, a.rng)

	sig, err := a.analyzer.Decide(ctx, symbol, signal.EntryVolumeThreshold)
	if err != nil {
		a.logger.ErrorWithContext("dynamic-entry-signal", err)
		return
	}
	if sig == signal.SignalNone || signalToSide(sig) != side {
		return
	}
	a.openPosition(ctx, symbol, side, 0)
}

// acquireSymbol is step 3 of the per-tick control flow.
func (a *Actor) acquireSymbol(ctx context.Context) {
	if a.cfg.Mode == model.ModeStatic {
		positions, err := a.gw.GetPositions(ctx, a.cfg.Symbol)
		if err != nil {
			a.logger.ErrorWithContext("acquire-static", err)
			return
		}
		for _, p := range positions {
			if p.PositionAmt != 0 {
				return // venue already shows a position; stay detached
			}
		}
		a.attachSymbol(ctx, a.cfg.Symbol)
		return
	}
	a.searchCandidate(ctx)
}

// searchCandidate is the dynamic-bot discovery branch of step 3.
func (a *Actor) searchCandidate(ctx context.Context) {
	if !a.coord.RequestSearch(a.cfg.BotID) {
		return
	}

	candidates, err := a.rank(ctx)
	if err != nil {
		a.logger.ErrorWithContext("search-rank", err)
		a.coord.FinishSearch(a.cfg.BotID, "", false)
		return
	}

	var matches []string
	for _, symbol := range candidates {
		if !a.coord.IsSymbolAvailable(symbol) {
			continue
		}
		if a.hasExistingPosition(ctx, symbol) {
			continue
		}
		maxLev, err := a.gw.GetMaxLeverage(ctx, symbol)
		if err != nil || maxLev < float64(a.cfg.Leverage) {
			continue
		}
		sig, err := a.analyzer.Decide(ctx, symbol, signal.EntryVolumeThreshold)
		if err != nil || sig == signal.SignalNone {
			a.sleep(searchCallSpacing)
			continue
		}
		matches = append(matches, symbol)
		a.sleep(searchCallSpacing)
	}

	if len(matches) == 0 {
		a.coord.FinishSearch(a.cfg.BotID, "", false)
		return
	}
	chosen := matches[a.rng.Intn(len(matches))]
	a.attachSymbol(ctx, chosen)
	a.coord.MarkHasSymbol(a.cfg.BotID)
	// The search hand-off happens after a successful open, not at attach:
	// the symbol stays claimed so no other bot races it while this actor
	// is still evaluating entry.
}

func (a *Actor) rank(ctx context.Context) ([]string, error) {
	var tickers []exchange.Ticker24hr
	var err error
	switch a.cfg.DynamicStrategy {
	case model.StrategyVolatility:
		tickers, err = a.gw.TopByVolatility(ctx, discoveryRankLimit, discoveryMinPercent, a.store)
	default:
		tickers, err = a.gw.TopByQuoteVolume(ctx, discoveryRankLimit, discoveryMinUSD, a.store)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tickers))
	for i, t := range tickers {
		out[i] = t.Symbol
	}
	return out, nil
}

// hasExistingPosition is the pre-entry guard: the symbol is barred if
// persistence shows an open position by any bot, or the venue reports a
// non-zero positionAmt for it.
func (a *Actor) hasExistingPosition(ctx context.Context, symbol string) bool {
	hasPos, err := a.store.HasOpenPositionAnyBot(ctx, symbol)
	if err != nil || hasPos {
		return true
	}
	positions, err := a.gw.GetPositions(ctx, symbol)
	if err != nil {
		return true
	}
	for _, p := range positions {
		if p.PositionAmt != 0 {
			return true
		}
	}
	return false
}

// currentPrice resolves a usable price: the trade-stream cached price, then
// the gateway's latest-seen price, then a REST ticker lookup. Returns 0 if
// all three come up empty.
func (a *Actor) currentPrice(ctx context.Context, symbol string) float64 {
	if px := a.state.CurrentPrice(); px != 0 {
		return px
	}
	if px, ok := a.gw.LatestPrice(symbol); ok && px != 0 {
		return px
	}
	px, err := a.gw.GetTickerPrice(ctx, symbol)
	if err != nil {
		a.logger.ErrorWithContext("ticker-price", err)
		return 0
	}
	return px
}

// attachSymbol subscribes to the symbol's trade stream and marks it
// claimed in the coordinator's cooldown set.
func (a *Actor) attachSymbol(ctx context.Context, symbol string) {
	s := NewSymbolState()
	a.mu.Lock()
	a.symbol = symbol
	a.state = s
	a.mu.Unlock()

	a.coord.ClaimSymbol(symbol)
	if err := a.gw.SubscribeTrades(ctx, symbol, func(tick exchange.TradeTick) {
		s.SetCurrentPrice(tick.Price)
	}); err != nil {
		a.logger.ErrorWithContext("attach-subscribe", err)
	}
}

// openPosition runs the ordered opening protocol: venue-position check,
// leverage checks, balance check, quantity rounding, stale-order cancel,
// then the market order.
func (a *Actor) openPosition(ctx context.Context, symbol string, side model.Side, qty float64) {
	positions, err := a.gw.GetPositions(ctx, symbol)
	if err != nil {
		a.logger.ErrorWithContext("open-positions-check", err)
		return
	}
	for _, p := range positions {
		if p.PositionAmt != 0 {
			return
		}
	}

	maxLev, err := a.gw.GetMaxLeverage(ctx, symbol)
	if err != nil {
		a.logger.ErrorWithContext("open-max-leverage", err)
		return
	}
	if maxLev < float64(a.cfg.Leverage) {
		return
	}

	if err := a.gw.SetLeverage(ctx, symbol, a.cfg.Leverage); err != nil {
		a.logger.ErrorWithContext("open-set-leverage", err)
		return
	}

	total, available, err := a.gw.GetTotalAndAvailableBalance(ctx)
	if err != nil {
		a.logger.ErrorWithContext("open-balance", err)
		return
	}
	notional := total * a.cfg.Percent / 100
	if notional > available {
		return
	}

	if qty == 0 {
		current := a.currentPrice(ctx, symbol)
		if current == 0 {
			return
		}
		step, err := a.gw.GetStepSize(ctx, symbol)
		if err != nil {
			a.logger.ErrorWithContext("open-step-size", err)
			return
		}
		qty = RoundToStep(notional*float64(a.cfg.Leverage)/current, step)
		if qty == 0 {
			return
		}
	}

	if err := a.gw.CancelOpenOrders(ctx, symbol); err != nil {
		a.logger.ErrorWithContext("open-cancel-stale", err)
	}
	a.sleep(time.Second)

	res, err := a.gw.PlaceMarketOrder(ctx, symbol, toGatewaySide(side), qty)
	if err != nil {
		a.logger.ErrorWithContext("open-place-order", err)
		return
	}

	now := a.clock.Now()
	a.state.PositionOpen = true
	a.state.Side = side
	a.state.Entry = res.AvgPrice
	a.state.Qty = res.ExecutedQty
	a.state.LastOpenTime = now
	a.state.HighWaterMarkROI = 0
	a.state.ROICheckActivated = false
	a.state.PyramidingCount = 0
	a.state.PyramidingBaseROI = 0

	if err := a.store.UpsertOpenPosition(ctx, &model.Position{
		BotID: a.cfg.BotID, Symbol: symbol, Side: side,
		EntryPrice: res.AvgPrice, Quantity: res.ExecutedQty, CurrentPrice: res.AvgPrice,
		TPPrice: a.cfg.TP, SLPrice: a.cfg.SL, Status: model.PositionOpen,
	}); err != nil {
		a.logger.ErrorWithContext("open-persist", err)
	}
	if err := a.store.AppendTrade(ctx, &model.TradeEvent{
		BotID: a.cfg.BotID, Symbol: symbol, Side: "OPEN_" + string(side),
		Price: res.AvgPrice, Quantity: res.ExecutedQty, Reason: "entry",
	}); err != nil {
		a.logger.ErrorWithContext("open-audit", err)
	}
	a.coord.MarkHasSymbol(a.cfg.BotID)
	a.coord.FinishSearch(a.cfg.BotID, symbol, true)

	telemetry.TradesTotal.WithLabelValues(a.cfg.BotID, "OPEN_"+string(side), "entry").Inc()
	telemetry.OpenPositions.WithLabelValues(a.cfg.BotID, symbol).Set(1)
	a.logger.Trade("open %s %s qty=%.8f entry=%.8f", symbol, side, res.ExecutedQty, res.AvgPrice)
	a.emit(notifications.EventOpen, symbol, fmt.Sprintf("opened %s %s at %.8f", side, symbol, res.AvgPrice))
}

// closePosition places the reverse market order and records the close.
// The trade event is named after the closing order's side (closing a BUY
// position places a SELL order and records CLOSE_SELL). When detach is
// false the symbol stays attached with its trade stream alive — static
// bots and the early-reversal path, where the bot re-enters on the same
// symbol and the close cooldown must survive.
func (a *Actor) closePosition(ctx context.Context, symbol, reason string, now time.Time, detach bool) {
	if a.state.CloseAttempted && now.Sub(a.state.LastCloseAttempt) < closeDebounce {
		return
	}
	a.state.CloseAttempted = true
	a.state.LastCloseAttempt = now

	if err := a.gw.CancelOpenOrders(ctx, symbol); err != nil {
		a.logger.ErrorWithContext("close-cancel-stale", err)
	}

	closeSide := a.state.Side.Opposite()
	res, err := a.gw.PlaceMarketOrder(ctx, symbol, toGatewaySide(closeSide), a.state.Qty)
	if err != nil {
		a.logger.ErrorWithContext("close-place-order", err)
		return
	}

	current := a.state.CurrentPrice()
	if current == 0 {
		current = res.AvgPrice
	}
	pnl, _, roiPct := ROI(a.state.Side, a.state.Entry, a.state.Qty, current, a.cfg.Leverage)

	trade := &model.TradeEvent{
		BotID: a.cfg.BotID, Symbol: symbol, Side: "CLOSE_" + string(closeSide),
		Price: res.AvgPrice, Quantity: a.state.Qty, PnL: &pnl, ROI: &roiPct, Reason: reason,
	}
	if err := a.store.CloseAndRecord(ctx, a.cfg.BotID, symbol, trade, pnl); err != nil {
		a.logger.ErrorWithContext("close-persist", err)
	}

	closedSide := a.state.Side
	s := NewSymbolState()
	s.LastCloseTime = now
	s.LastClosedSide = closedSide
	a.mu.Lock()
	if detach {
		a.symbol = ""
	}
	a.state = s
	a.mu.Unlock()

	a.coord.MarkLostSymbol(a.cfg.BotID)
	if detach {
		a.gw.UnsubscribeTrades(symbol)
	} else if err := a.gw.SubscribeTrades(ctx, symbol, func(tick exchange.TradeTick) {
		s.SetCurrentPrice(tick.Price)
	}); err != nil {
		a.logger.ErrorWithContext("close-resubscribe", err)
	}

	telemetry.RecordTrade(a.cfg.BotID, "CLOSE_"+string(closeSide), reason, roiPct)
	telemetry.OpenPositions.WithLabelValues(a.cfg.BotID, symbol).Set(0)
	a.logger.Trade("close %s %s pnl=%.8f roi=%.2f%% reason=%s", symbol, closedSide, pnl, roiPct, reason)
	a.emit(notifications.EventClose, symbol, fmt.Sprintf("closed %s %s pnl=%.2f roi=%.2f%% (%s)", closedSide, symbol, pnl, roiPct, reason))
}

// stopSymbol closes the position if open, then unregisters everything.
func (a *Actor) stopSymbol(ctx context.Context, symbol string) {
	if a.state.PositionOpen {
		a.closePosition(ctx, symbol, "operator stop", a.clock.Now(), true)
	}
	a.gw.UnsubscribeTrades(symbol)
	a.coord.ReleaseClaim(symbol)
	a.coord.MarkLostSymbol(a.cfg.BotID)
	if err := a.store.DeleteOpenPosition(ctx, a.cfg.BotID, symbol); err != nil {
		a.logger.ErrorWithContext("stop-symbol-delete", err)
	}
	a.mu.Lock()
	a.symbol = ""
	a.state = NewSymbolState()
	a.mu.Unlock()
}

// stopAllSymbols stops every owned symbol; the bot keeps running and may
// re-discover.
func (a *Actor) stopAllSymbols(ctx context.Context, reason string) {
	if symbol := a.Symbol(); symbol != "" {
		a.logger.Warn("stopping all symbols: %s", reason)
		a.stopSymbol(ctx, symbol)
	}
}

// Stop stops all symbols, persists the stopped status, then signals Run
// to exit.
func (a *Actor) Stop(ctx context.Context) {
	a.stopAllSymbols(ctx, "operator stop")
	if err := a.store.SetBotStatus(ctx, a.cfg.BotID, model.StatusStopped, false); err != nil {
		a.logger.ErrorWithContext("stop-bot-status", err)
	}
	a.stopOnce.Do(func() { close(a.stopCh) })
}

const searchCallSpacing = 500 * time.Millisecond

func signalToSide(sig signal.Signal) model.Side {
	if sig == signal.SignalSell {
		return model.SideSell
	}
	return model.SideBuy
}
