// Preflight verifies the broker connection end to end before the bot is
// trusted with a session: connect, read the account, snapshot a quote, and
// pull a small bar series. Exits nonzero on the first failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/config"
	"optionsbot/internal/observ"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "configs/settings.yaml", "config path")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.OverlayEnv()

	gw, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("create broker: %v", err)
	}
	gate := broker.NewGate(gw)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := gate.Connect(ctx); err != nil {
		fail("connect", err)
	}
	defer gate.Disconnect()
	step("connect", "ok")

	acct, err := gate.Account(ctx)
	if err != nil {
		fail("account", err)
	}
	step("account", fmt.Sprintf("%d tags", len(acct)))

	symbol := cfg.Symbols[0]
	q, err := gate.MarketData(ctx, broker.Stock{Symbol: symbol})
	if err != nil {
		fail("market_data", err)
	}
	step("market_data", fmt.Sprintf("%s bid=%.2f ask=%.2f", symbol, q.Bid, q.Ask))

	bars, err := gate.HistoricalPrices(ctx, symbol, broker.BarRequest{
		Duration:   "1800 S",
		BarSize:    "1 min",
		WhatToShow: "TRADES",
		UseRTH:     true,
		Timeout:    time.Duration(cfg.Broker.DataTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		fail("historical", err)
	}
	if len(bars) == 0 {
		fail("historical", fmt.Errorf("empty bar series for %s", symbol))
	}
	step("historical", fmt.Sprintf("%s %d bars, last close %.2f", symbol, len(bars), bars[len(bars)-1].Close))

	observ.Log("preflight_ok", map[string]any{"symbol": symbol})
	fmt.Println("preflight: all checks passed")
}

func step(name, detail string) {
	fmt.Printf("preflight: %-12s %s\n", name, detail)
}

func fail(name string, err error) {
	fmt.Fprintf(os.Stderr, "preflight: %s failed: %v\n", name, err)
	os.Exit(1)
}

func newGateway(cfg config.Root) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "sim":
		sim := broker.NewSimBroker()
		now := time.Now()
		for _, symbol := range cfg.Symbols {
			bars := broker.SeedTrendingBars(now.Add(-time.Hour), 60, 100.0)
			sim.SetBars(symbol, bars)
			last := bars[len(bars)-1].Close
			sim.SetQuote(symbol, broker.Quote{Bid: last - 0.02, Ask: last + 0.02, Last: last, Volume: 10000, Timestamp: now})
		}
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}
}
