package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/config"
	"optionsbot/internal/journal"
	"optionsbot/internal/notify"
	"optionsbot/internal/risk"
	"optionsbot/internal/strategy"
)

func testConfig(t *testing.T, symbols ...string) config.Root {
	t.Helper()
	dir := t.TempDir()
	return config.Root{
		Symbols: symbols,
		Mode:    "growth",
		DryRun:  true,
		Broker: config.Broker{
			Provider: "sim", DataTimeoutMs: 1000, ConnectTimeoutMs: 1000,
		},
		Risk: config.Risk{
			MaxRiskPctPerTrade: 0.01,
			MaxDailyLossPct:    0.15,
			TakeProfitPct:      0.30,
			StopLossPct:        0.20,
			CashCapPct:         0.95,
			EquityStatePath:    filepath.Join(dir, "equity_state.json"),
		},
		Schedule: config.Schedule{
			IntervalSeconds: 1, MaxConcurrentSymbols: 1, Timezone: "UTC",
		},
		Options: config.Options{
			ExpiryHint: "weekly", Moneyness: "atm",
			MinVolume: 100, MaxSpreadPct: 2.0, MaxSpreadAbsCents: 5.0,
			StrikeWindowPct: 0.05,
		},
		Engine: config.Engine{
			BreakerThreshold:    10, // high so backoff tests are not masked
			BreakerResetSeconds: 300,
			BackoffThreshold:    3,
			BackoffSkipCycles:   2,
			RetryDelaysSeconds:  []int{0}, // single attempt keeps tests fast
			CacheTTLSeconds:     300,
			ThrottleMs:          1,
			MinBars:             30,
			OCOPollSeconds:      1,
			OCOMaxDurationMins:  1,
		},
		Journal: config.Journal{
			CSVPath:   filepath.Join(dir, "trades.csv"),
			JSONLPath: filepath.Join(dir, "trades.jsonl"),
		},
	}
}

func newTestEngine(t *testing.T, cfg config.Root) (*Engine, *broker.SimBroker) {
	t.Helper()
	sim := broker.NewSimBroker()
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	gate := broker.NewGate(sim)
	loc := time.UTC
	store := risk.NewEquityStore(cfg.Risk.EquityStatePath, loc)
	guard := risk.NewGuard(store, gate, cfg.Risk.MaxDailyLossPct)
	j := journal.New(cfg.Journal.CSVPath, cfg.Journal.JSONLPath)
	n := &notify.Notifier{} // no channels configured
	return New(cfg, gate, guard, j, n, loc), sim
}

func flatBars(n int) []broker.Bar {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	out := make([]broker.Bar, n)
	for i := range out {
		out[i] = broker.Bar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 100.05, Low: 99.95, Close: 100,
			Volume: 1000,
		}
	}
	return out
}

// Three consecutive fetch failures park the symbol for exactly two cycles,
// then processing resumes.
func TestBackoffSkipsExactlyTwoCycles(t *testing.T) {
	cfg := testConfig(t, "SPY")
	eng, sim := newTestEngine(t, cfg)
	sim.SetBars("SPY", flatBars(60))
	sim.FailHistorical("SPY", 3)
	ctx := context.Background()

	// cycles 1-3: each makes one fetch attempt and fails
	for i := 0; i < 3; i++ {
		s := eng.RunCycle(ctx)
		if s.Errors != 1 {
			t.Fatalf("cycle %d: errors = %d, want 1", i+1, s.Errors)
		}
	}
	if calls := sim.HistoricalCalls("SPY"); calls != 3 {
		t.Fatalf("after 3 failing cycles: %d fetch attempts, want 3", calls)
	}

	// cycles 4-5: parked, no Gateway traffic
	for i := 0; i < 2; i++ {
		s := eng.RunCycle(ctx)
		if s.Skipped != 1 {
			t.Fatalf("backoff cycle %d: skipped = %d, want 1", i+1, s.Skipped)
		}
	}
	if calls := sim.HistoricalCalls("SPY"); calls != 3 {
		t.Fatalf("parked symbol still hit the Gateway: %d calls, want 3", calls)
	}

	// cycle 6: back to normal processing
	s := eng.RunCycle(ctx)
	if s.Held != 1 {
		t.Fatalf("post-backoff cycle: held = %d, want 1 (flat series)", s.Held)
	}
	if calls := sim.HistoricalCalls("SPY"); calls != 4 {
		t.Fatalf("post-backoff cycle made %d total calls, want 4", calls)
	}
}

// A fresh-fetch failure with a young cache entry proceeds on cached bars and
// does not feed the backoff tracker.
func TestCacheFallbackDoesNotCountFailure(t *testing.T) {
	cfg := testConfig(t, "SPY")
	eng, sim := newTestEngine(t, cfg)
	sim.SetBars("SPY", flatBars(60))
	ctx := context.Background()

	// cycle 1 succeeds and populates the cache
	if s := eng.RunCycle(ctx); s.Held != 1 {
		t.Fatalf("warmup cycle held = %d, want 1", s.Held)
	}

	sim.FailHistorical("SPY", 1)
	s := eng.RunCycle(ctx)
	if s.Held != 1 {
		t.Fatalf("cache-fallback cycle: held = %d, errors = %d; want held 1", s.Held, s.Errors)
	}

	eng.mu.Lock()
	failures := eng.failures["SPY"]
	skips := eng.skips["SPY"]
	eng.mu.Unlock()
	if failures != 0 || skips != 0 {
		t.Fatalf("cache fallback fed the backoff tracker: failures=%d skips=%d", failures, skips)
	}
}

func TestExpiredCacheDoesCountFailure(t *testing.T) {
	cfg := testConfig(t, "SPY")
	eng, sim := newTestEngine(t, cfg)
	sim.SetBars("SPY", flatBars(60))
	ctx := context.Background()

	if s := eng.RunCycle(ctx); s.Held != 1 {
		t.Fatal("warmup cycle did not hold")
	}

	// age the cache entry past the TTL
	past := time.Now().Add(-time.Duration(cfg.Engine.CacheTTLSeconds+10) * time.Second)
	eng.cache.mu.Lock()
	for k, e := range eng.cache.entries {
		e.storedAt = past
		eng.cache.entries[k] = e
	}
	eng.cache.mu.Unlock()

	sim.FailHistorical("SPY", 1)
	s := eng.RunCycle(ctx)
	if s.Errors != 1 {
		t.Fatalf("expired cache cycle: errors = %d, want 1", s.Errors)
	}
	eng.mu.Lock()
	failures := eng.failures["SPY"]
	eng.mu.Unlock()
	if failures != 1 {
		t.Fatalf("failure counter = %d, want 1", failures)
	}
}

func TestInsufficientBarsFeedsBackoff(t *testing.T) {
	cfg := testConfig(t, "SPY")
	eng, sim := newTestEngine(t, cfg)
	sim.SetBars("SPY", flatBars(10))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if s := eng.RunCycle(ctx); s.Skipped != 1 {
			t.Fatalf("cycle %d skipped = %d, want 1", i+1, s.Skipped)
		}
	}
	eng.mu.Lock()
	skips := eng.skips["SPY"]
	eng.mu.Unlock()
	if skips != cfg.Engine.BackoffSkipCycles {
		t.Fatalf("after 3 thin cycles, skips = %d, want %d", skips, cfg.Engine.BackoffSkipCycles)
	}
}

// The breakout rule runs in growth mode too, not only hybrid.
func TestGrowthModeRunsWhaleRule(t *testing.T) {
	cfg := testConfig(t, "SPY")
	cfg.Mode = "growth"
	eng, _ := newTestEngine(t, cfg)

	// quiet hourly range, then a high-volume breakout close; the flat body
	// keeps the scalp rule at HOLD so only the whale can fire
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bars := make([]broker.Bar, 30)
	for i := range bars {
		c := 100 + 0.1*float64(i%3)
		bars[i] = broker.Bar{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 0.05, Low: c - 0.05, Close: c,
			Volume: 1000,
		}
	}
	last := len(bars) - 1
	bars[last].Close = 105
	bars[last].High = 105.05
	bars[last].Volume = 5000

	sig := eng.evaluate(bars, "SPY")
	if sig.Action != strategy.ActionBuyCall {
		t.Fatalf("growth mode gave %s (%s), want BUY_CALL from the breakout rule", sig.Action, sig.Reason)
	}
}

func seedEntrySetup(sim *broker.SimBroker, symbol string) {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := broker.SeedTrendingBars(start, 120, 100)
	sim.SetBars(symbol, bars)
	last := bars[len(bars)-1].Close

	expiry := "20260306"
	var chain []broker.OptionContract
	for d := -2; d <= 2; d++ {
		strike := float64(int(last)) + float64(d)
		for _, right := range []string{"C", "P"} {
			c := broker.OptionContract{
				Underlying: symbol, Right: right,
				Strike: strike, Expiry: expiry, Multiplier: 100,
			}
			chain = append(chain, c)
			sim.SetQuote(c.LocalSymbol(), broker.Quote{
				Bid: 2.48, Ask: 2.52, Last: 2.50, Volume: 500,
			})
		}
	}
	sim.SetChain(symbol, chain)
	sim.SetQuote(symbol, broker.Quote{Bid: last - 0.02, Ask: last + 0.02, Last: last, Volume: 50000})
}

func TestDryRunEntrySynthesizesOrder(t *testing.T) {
	cfg := testConfig(t, "SPY")
	eng, sim := newTestEngine(t, cfg)
	seedEntrySetup(sim, "SPY")
	ctx := context.Background()

	s := eng.RunCycle(ctx)
	if s.Traded != 1 {
		t.Fatalf("traded = %d (errors=%d skipped=%d held=%d), want 1", s.Traded, s.Errors, s.Skipped, s.Held)
	}
	if got := len(sim.Orders()); got != 0 {
		t.Fatalf("dry run placed %d real orders", got)
	}
}

func TestLiveEntryPlacesOrderAndJournal(t *testing.T) {
	cfg := testConfig(t, "SPY")
	cfg.DryRun = false
	eng, sim := newTestEngine(t, cfg)
	seedEntrySetup(sim, "SPY")

	ctx, cancel := context.WithCancel(context.Background())
	s := eng.RunCycle(ctx)
	cancel()
	eng.Wait()

	if s.Traded != 1 {
		t.Fatalf("traded = %d (errors=%d skipped=%d held=%d), want 1", s.Traded, s.Errors, s.Skipped, s.Held)
	}
	orders := sim.Orders()
	if len(orders) != 1 {
		t.Fatalf("placed %d orders, want 1 entry", len(orders))
	}
	o := orders[0]
	if o.Action != "BUY" || o.OrderType != "MKT" {
		t.Fatalf("entry order %s %s, want BUY MKT", o.Action, o.OrderType)
	}
	opt, ok := o.Instrument.(broker.Option)
	if !ok {
		t.Fatalf("entry instrument is %T, want broker.Option", o.Instrument)
	}
	if opt.Contract.Right != "C" {
		t.Fatalf("BUY signal bought a %q, want a call", opt.Contract.Right)
	}
}

func TestDailyLossHaltSkipsAllSymbols(t *testing.T) {
	cfg := testConfig(t, "SPY", "QQQ")
	eng, sim := newTestEngine(t, cfg)
	sim.SetBars("SPY", flatBars(60))
	sim.SetBars("QQQ", flatBars(60))
	ctx := context.Background()

	// establish the start-of-day reference, then crash equity past the limit
	if s := eng.RunCycle(ctx); s.Halted {
		t.Fatal("healthy cycle halted")
	}
	sim.SetNet(80000)

	s := eng.RunCycle(ctx)
	if !s.Halted {
		t.Fatal("20% drawdown against a 15% limit did not halt")
	}
	if s.Skipped != 2 {
		t.Fatalf("halted cycle skipped %d symbols, want all 2", s.Skipped)
	}
	if calls := sim.HistoricalCalls("SPY"); calls != 1 {
		t.Fatalf("halted cycle still fetched data: %d calls, want 1 from warmup", calls)
	}
}

// panickyBroker blows up on historical fetches for one symbol and behaves
// normally otherwise.
type panickyBroker struct {
	broker.Broker
	symbol string
}

func (p *panickyBroker) HistoricalPrices(ctx context.Context, symbol string, req broker.BarRequest) ([]broker.Bar, error) {
	if symbol == p.symbol {
		panic("boom")
	}
	return p.Broker.HistoricalPrices(ctx, symbol, req)
}

func TestSymbolPanicIsContained(t *testing.T) {
	cfg := testConfig(t, "SPY", "QQQ")
	sim := broker.NewSimBroker()
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sim.SetBars("QQQ", flatBars(60))
	gw := &panickyBroker{Broker: broker.NewGate(sim), symbol: "SPY"}

	store := risk.NewEquityStore(cfg.Risk.EquityStatePath, time.UTC)
	guard := risk.NewGuard(store, gw, cfg.Risk.MaxDailyLossPct)
	j := journal.New(cfg.Journal.CSVPath, cfg.Journal.JSONLPath)
	eng := New(cfg, gw, guard, j, &notify.Notifier{}, time.UTC)

	s := eng.RunCycle(context.Background())
	if s.Errors != 1 {
		t.Fatalf("errors = %d, want the panicking symbol counted as 1", s.Errors)
	}
	if s.Held != 1 {
		t.Fatalf("held = %d, want the healthy symbol still processed", s.Held)
	}
}
