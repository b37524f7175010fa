// Package engine orchestrates one trading cycle: per-symbol data fetch with
// retry and cache fallback, signal evaluation, contract selection, sizing,
// order submission, and exit-monitor spawning. All resilience state (circuit
// breaker, backoff counters, bar cache, alert dedup) is owned by the Engine
// instance, never by package globals, so independent engines do not
// interfere.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"optionsbot/internal/broker"
	"optionsbot/internal/config"
	"optionsbot/internal/execution"
	"optionsbot/internal/journal"
	"optionsbot/internal/notify"
	"optionsbot/internal/observ"
	"optionsbot/internal/options"
	"optionsbot/internal/risk"
	"optionsbot/internal/strategy"
)

// Outcome classifies what happened to one symbol in one cycle.
type Outcome string

const (
	OutcomeTraded  Outcome = "traded"
	OutcomeHold    Outcome = "hold"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// CycleSummary is the log line material for one complete pass.
type CycleSummary struct {
	Symbols  int
	Traded   int
	Held     int
	Skipped  int
	Errors   int
	Halted   bool
	Duration time.Duration
	Breaker  risk.BreakerState
}

type Engine struct {
	cfg      config.Root
	gateway  broker.Broker
	breaker  *risk.Breaker
	guard    *risk.Guard
	selector *options.Selector
	whale    *strategy.Whale
	journal  *journal.Journal
	notifier *notify.Notifier
	cache    *barCache
	loc      *time.Location

	now func() time.Time

	mu           sync.Mutex
	failures     map[string]int
	skips        map[string]int
	limiters     map[string]*rate.Limiter
	lossAlertDay string
	dryOrderSeq  int

	ocoWG sync.WaitGroup
}

// New wires an engine from configuration and its collaborators. The gateway
// must already be wrapped in the serialization gate.
func New(cfg config.Root, gateway broker.Broker, guard *risk.Guard, j *journal.Journal, n *notify.Notifier, loc *time.Location) *Engine {
	return &Engine{
		cfg:      cfg,
		gateway:  gateway,
		breaker:  risk.NewBreaker(cfg.Engine.BreakerThreshold, time.Duration(cfg.Engine.BreakerResetSeconds)*time.Second),
		guard:    guard,
		selector: options.NewSelector(gateway, cfg.Options),
		whale:    strategy.NewWhale(),
		journal:  j,
		notifier: n,
		cache:    newBarCache(time.Duration(cfg.Engine.CacheTTLSeconds) * time.Second),
		loc:      loc,
		now:      time.Now,
		failures: make(map[string]int),
		skips:    make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Breaker exposes the gateway circuit breaker for scheduler reporting.
func (e *Engine) Breaker() *risk.Breaker { return e.breaker }

// Wait joins all spawned exit monitors. Called on shutdown after the run
// context is cancelled.
func (e *Engine) Wait() { e.ocoWG.Wait() }

// ResetDailyAlert clears the loss-alert dedup flag at end of day.
func (e *Engine) ResetDailyAlert() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lossAlertDay = ""
}

// RunCycle processes every configured symbol once. Symbol failures are
// isolated: a panic or error in one symbol never aborts the pass.
func (e *Engine) RunCycle(ctx context.Context) CycleSummary {
	started := e.now()
	summary := CycleSummary{Symbols: len(e.cfg.Symbols)}

	if stop := e.checkDailyLoss(ctx); stop {
		summary.Halted = true
		summary.Skipped = len(e.cfg.Symbols)
		summary.Duration = e.now().Sub(started)
		summary.Breaker = e.breaker.State()
		return summary
	}

	workers := e.cfg.Schedule.MaxConcurrentSymbols
	if workers < 1 {
		workers = 1
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
		mu  sync.Mutex
	)
	for _, symbol := range e.cfg.Symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := e.processSymbol(ctx, symbol)
			mu.Lock()
			switch outcome {
			case OutcomeTraded:
				summary.Traded++
			case OutcomeHold:
				summary.Held++
			case OutcomeSkipped:
				summary.Skipped++
			case OutcomeError:
				summary.Errors++
			}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	summary.Duration = e.now().Sub(started)
	summary.Breaker = e.breaker.State()
	observ.RecordDuration("cycle_duration", summary.Duration, nil)
	return summary
}

// checkDailyLoss runs the loss guard once per cycle and sends at most one
// alert per calendar day when it trips.
func (e *Engine) checkDailyLoss(ctx context.Context) bool {
	stop, err := e.guard.ShouldStopTrading(ctx, e.now())
	if err != nil {
		observ.Log("loss_guard_error", map[string]any{"error": err.Error()})
		e.breaker.RecordFailure()
		return false
	}
	if !stop {
		return false
	}

	today := e.now().In(e.loc).Format("2006-01-02")
	e.mu.Lock()
	alreadyAlerted := e.lossAlertDay == today
	e.lossAlertDay = today
	e.mu.Unlock()

	observ.Log("daily_loss_halt", map[string]any{"date": today})
	observ.IncCounter("daily_loss_halts_total", nil)
	if !alreadyAlerted {
		e.notifier.Send("daily_loss", fmt.Sprintf("Daily loss guard tripped on %s; no new entries for the rest of the day.", today))
	}
	return true
}

// processSymbol runs the per-symbol state machine. It never panics out:
// programming errors are caught here, logged, and alerted.
func (e *Engine) processSymbol(ctx context.Context, symbol string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			observ.Log("symbol_panic", map[string]any{
				"symbol": symbol,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
			observ.IncCounter("symbol_panics_total", map[string]string{"symbol": symbol})
			e.notifier.Send("panic", fmt.Sprintf("Recovered panic processing %s: %v", symbol, r))
			outcome = OutcomeError
		}
	}()

	if !e.breaker.ShouldAttempt() {
		observ.Log("symbol_skip_breaker", map[string]any{"symbol": symbol, "state": string(e.breaker.State())})
		return OutcomeSkipped
	}

	if err := e.limiter(symbol).Wait(ctx); err != nil {
		return OutcomeSkipped // cancelled
	}

	if skip := e.consumeBackoff(symbol); skip {
		return OutcomeSkipped
	}

	if !e.gateway.IsConnected() {
		if err := e.gateway.Connect(ctx); err != nil {
			observ.Log("reconnect_failed", map[string]any{"symbol": symbol, "error": err.Error()})
			e.breaker.RecordFailure()
			return OutcomeError
		}
		observ.Log("reconnected", nil)
	}

	bars, fromCache, err := e.fetchBars(ctx, symbol)
	if err != nil {
		e.recordFetchFailure(symbol, err)
		return OutcomeError
	}
	if !fromCache {
		e.breaker.RecordSuccess()
	}

	if len(bars) < e.cfg.Engine.MinBars {
		observ.Log("insufficient_bars", map[string]any{"symbol": symbol, "bars": len(bars), "min": e.cfg.Engine.MinBars})
		e.bumpFailures(symbol)
		return OutcomeSkipped
	}
	e.resetFailures(symbol)

	sig := e.evaluate(bars, symbol)
	observ.Log("signal", map[string]any{
		"symbol":     symbol,
		"action":     sig.Action,
		"confidence": sig.Confidence,
		"reason":     sig.Reason,
		"cached":     fromCache,
	})
	if !sig.Directional() {
		return OutcomeHold
	}

	return e.enter(ctx, symbol, bars, sig)
}

// evaluate runs the scalp rule on the 1-minute series and lets the hourly
// whale breakout rule override it when it fires. Both configured modes run
// the whale.
func (e *Engine) evaluate(bars []broker.Bar, symbol string) strategy.Signal {
	scalp := strategy.ScalpSignal(bars, symbol)
	hourly := strategy.Resample(bars, time.Hour)
	conviction := e.whale.Evaluate(hourly, symbol)
	return strategy.Combine(scalp, conviction)
}

// enter executes steps 10-12 of the cycle: pick a contract, size, submit,
// spawn the exit monitor, journal, notify.
func (e *Engine) enter(ctx context.Context, symbol string, bars []broker.Bar, sig strategy.Signal) Outcome {
	right := "C"
	if sig.Action == strategy.ActionSell || sig.Action == strategy.ActionBuyPut {
		right = "P"
	}

	lastPrice := bars[len(bars)-1].Close

	contract, q, ok, err := e.selector.Pick(ctx, symbol, right, lastPrice)
	if err != nil {
		observ.Log("contract_pick_error", map[string]any{"symbol": symbol, "error": err.Error()})
		e.breaker.RecordFailure()
		return OutcomeError
	}
	if !ok {
		observ.Log("no_contract", map[string]any{"symbol": symbol, "right": right})
		return OutcomeSkipped
	}

	premium, ok := e.resolvePremium(ctx, contract, q)
	if !ok {
		observ.Log("no_premium", map[string]any{"contract": contract.LocalSymbol()})
		return OutcomeSkipped
	}

	equity, err := e.currentEquity(ctx)
	if err != nil {
		observ.Log("equity_fetch_error", map[string]any{"symbol": symbol, "error": err.Error()})
		e.breaker.RecordFailure()
		return OutcomeError
	}

	size := risk.PositionSize(equity, e.cfg.Risk.MaxRiskPctPerTrade, e.cfg.Risk.StopLossPct, premium)
	size = risk.CashCappedSize(size, premium, contract.Multiplier, equity, e.cfg.Risk.CashCapPct)
	if size < 1 {
		observ.Log("size_zero", map[string]any{"symbol": symbol, "premium": premium, "equity": equity})
		return OutcomeSkipped
	}

	// Re-validate liquidity against a fresh quote right before submission;
	// the selector's snapshot may be seconds old by now.
	fresh, err := e.gateway.MarketData(ctx, broker.Option{Contract: contract})
	if err == nil {
		q = fresh
	}
	if !execution.IsLiquid(q, e.cfg.Options.MaxSpreadPct, e.cfg.Options.MinVolume, e.cfg.Options.MaxSpreadAbsCents/100) {
		observ.Log("liquidity_lost", map[string]any{"contract": contract.LocalSymbol()})
		return OutcomeSkipped
	}

	bracket := execution.BuildBracket(premium, e.cfg.Risk.TakeProfitPct, e.cfg.Risk.StopLossPct)
	ticket := broker.OrderTicket{
		Instrument:    broker.Option{Contract: contract},
		Action:        "BUY",
		Quantity:      size,
		OrderType:     "MKT",
		TIF:           "DAY",
		TakeProfitPct: e.cfg.Risk.TakeProfitPct,
		StopLossPct:   e.cfg.Risk.StopLossPct,
		Transmit:      true,
	}

	orderID, live, err := e.submit(ctx, ticket)
	if err != nil {
		observ.Log("order_error", map[string]any{"symbol": symbol, "contract": contract.LocalSymbol(), "error": err.Error()})
		e.breaker.RecordFailure()
		e.notifier.Send("order_error", fmt.Sprintf("Order submission failed for %s: %v", contract.LocalSymbol(), err))
		return OutcomeError
	}

	observ.Log("order_placed", map[string]any{
		"symbol":   symbol,
		"contract": contract.LocalSymbol(),
		"order_id": orderID,
		"quantity": size,
		"premium":  premium,
		"dry_run":  !live,
	})
	observ.IncCounter("orders_placed_total", map[string]string{"symbol": symbol, "right": right})

	if live && bracket.Present() {
		e.spawnExitMonitor(ctx, contract, orderID, bracket, size)
	}

	if live {
		rec := journal.Record{
			Timestamp:  e.now(),
			Symbol:     symbol,
			Action:     sig.Action,
			Quantity:   size,
			Price:      premium,
			StopLoss:   bracket.StopLoss,
			TakeProfit: bracket.TakeProfit,
			Contract:   contract.LocalSymbol(),
			Reason:     sig.Reason,
		}
		if err := e.journal.Append(rec); err != nil {
			observ.Log("journal_error", map[string]any{"error": err.Error()})
		}
	}

	mode := "LIVE"
	if !live {
		mode = "DRY"
	}
	e.notifier.Send("entry", fmt.Sprintf("[%s] %s %dx %s @ %.2f (tp %.2f / sl %.2f)",
		mode, sig.Action, size, contract.LocalSymbol(), premium, bracket.TakeProfit, bracket.StopLoss))

	e.resetFailures(symbol)
	return OutcomeTraded
}

// submit places the order, or synthesizes an id under dry-run.
func (e *Engine) submit(ctx context.Context, ticket broker.OrderTicket) (string, bool, error) {
	if e.cfg.DryRun {
		e.mu.Lock()
		e.dryOrderSeq++
		id := fmt.Sprintf("dry-%d", e.dryOrderSeq)
		e.mu.Unlock()
		return id, false, nil
	}
	id, err := e.gateway.PlaceOrder(ctx, ticket)
	if err != nil {
		return "", true, err
	}
	return id, true, nil
}

func (e *Engine) spawnExitMonitor(ctx context.Context, contract broker.OptionContract, orderID string, bracket execution.Bracket, qty int) {
	mon := &execution.OCOMonitor{
		Gateway:       e.gateway,
		Contract:      contract,
		ParentOrderID: orderID,
		TakeProfit:    bracket.TakeProfit,
		StopLoss:      bracket.StopLoss,
		Side:          "BUY",
		Quantity:      qty,
		PollInterval:  time.Duration(e.cfg.Engine.OCOPollSeconds) * time.Second,
		MaxDuration:   time.Duration(e.cfg.Engine.OCOMaxDurationMins) * time.Minute,
	}
	e.ocoWG.Add(1)
	go func() {
		defer e.ocoWG.Done()
		mon.Run(ctx)
	}()
}

// fetchBars tries the Gateway with the configured retry schedule and falls
// back to a fresh-enough cached series when every attempt fails. A fallback
// still records the failed fetch against the breaker, but not against the
// symbol's backoff tracker.
func (e *Engine) fetchBars(ctx context.Context, symbol string) ([]broker.Bar, bool, error) {
	req := broker.BarRequest{
		Duration:   "1 D",
		BarSize:    "1 min",
		WhatToShow: "TRADES",
		UseRTH:     true,
		Timeout:    time.Duration(e.cfg.Broker.DataTimeoutMs) * time.Millisecond,
	}

	var lastErr error
	for i, delaySec := range e.cfg.Engine.RetryDelaysSeconds {
		if delaySec > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(time.Duration(delaySec) * time.Second):
			}
		}
		bars, err := e.gateway.HistoricalPrices(ctx, symbol, req)
		if err == nil && len(bars) > 0 {
			e.cache.Put(symbol, bars)
			return bars, false, nil
		}
		if err == nil {
			err = broker.NewDataError("historical", symbol, fmt.Errorf("empty bar series"))
		}
		lastErr = err
		observ.Log("fetch_retry", map[string]any{"symbol": symbol, "attempt": i + 1, "error": err.Error()})
		if !broker.IsRetryable(err) {
			break
		}
	}

	if bars, ok := e.cache.Get(symbol); ok {
		e.breaker.RecordFailure()
		observ.Log("cache_fallback", map[string]any{"symbol": symbol, "bars": len(bars)})
		return bars, true, nil
	}
	return nil, false, lastErr
}

// recordFetchFailure feeds the breaker and the per-symbol backoff tracker.
// Crossing the backoff threshold parks the symbol for the configured number
// of cycles and sends one alert.
func (e *Engine) recordFetchFailure(symbol string, err error) {
	e.breaker.RecordFailure()
	observ.IncCounter("fetch_failures_total", map[string]string{"symbol": symbol})

	e.mu.Lock()
	e.failures[symbol]++
	n := e.failures[symbol]
	parked := false
	if n >= e.cfg.Engine.BackoffThreshold {
		e.skips[symbol] = e.cfg.Engine.BackoffSkipCycles
		e.failures[symbol] = 0
		parked = true
	}
	e.mu.Unlock()

	observ.Log("fetch_failed", map[string]any{"symbol": symbol, "consecutive": n, "error": err.Error()})
	if parked {
		observ.Log("symbol_backoff", map[string]any{"symbol": symbol, "skip_cycles": e.cfg.Engine.BackoffSkipCycles})
		e.notifier.Send("backoff", fmt.Sprintf("Market data for %s unavailable %d cycles in a row; backing off.", symbol, n))
	}
}

// consumeBackoff reports whether the symbol is parked this cycle, and
// decrements the remaining skip count if so.
func (e *Engine) consumeBackoff(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining, ok := e.skips[symbol]
	if !ok || remaining <= 0 {
		return false
	}
	e.skips[symbol] = remaining - 1
	if e.skips[symbol] == 0 {
		delete(e.skips, symbol)
	}
	observ.Log("symbol_skip_backoff", map[string]any{"symbol": symbol, "remaining": remaining - 1})
	return true
}

func (e *Engine) bumpFailures(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[symbol]++
	if e.failures[symbol] >= e.cfg.Engine.BackoffThreshold {
		e.skips[symbol] = e.cfg.Engine.BackoffSkipCycles
		e.failures[symbol] = 0
	}
}

func (e *Engine) resetFailures(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.failures, symbol)
}

// limiter returns the per-symbol request pacer, spacing consecutive Gateway
// calls for the same symbol by the configured throttle.
func (e *Engine) limiter(symbol string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[symbol]
	if !ok {
		interval := time.Duration(e.cfg.Engine.ThrottleMs) * time.Millisecond
		l = rate.NewLimiter(rate.Every(interval), 1)
		e.limiters[symbol] = l
	}
	return l
}

// resolvePremium picks an entry price for the contract: last trade, then
// quote mid, then the most recent historical close. Zero means no usable
// premium and the symbol is skipped for the cycle.
func (e *Engine) resolvePremium(ctx context.Context, contract broker.OptionContract, q broker.Quote) (float64, bool) {
	if q.Last > 0 {
		return q.Last, true
	}
	if mid := q.Mid(); mid > 0 {
		return mid, true
	}
	req := broker.BarRequest{
		Duration:   "1 D",
		BarSize:    "5 mins",
		WhatToShow: "TRADES",
		UseRTH:     true,
		Timeout:    time.Duration(e.cfg.Broker.DataTimeoutMs) * time.Millisecond,
	}
	bars, err := e.gateway.HistoricalPrices(ctx, contract.LocalSymbol(), req)
	if err != nil || len(bars) == 0 {
		return 0, false
	}
	last := bars[len(bars)-1].Close
	if last <= 0 {
		return 0, false
	}
	return last, true
}

// currentEquity reads net liquidation from the Gateway PnL snapshot.
func (e *Engine) currentEquity(ctx context.Context) (float64, error) {
	pnl, err := e.gateway.PnL(ctx)
	if err != nil {
		return 0, err
	}
	return pnl.Net, nil
}
