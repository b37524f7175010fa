package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/config"
	"optionsbot/internal/engine"
	"optionsbot/internal/journal"
	"optionsbot/internal/notify"
	"optionsbot/internal/observ"
	"optionsbot/internal/risk"
	"optionsbot/internal/schedule"
)

func main() {
	var (
		cfgPath string
		dryRun  bool
	)
	flag.StringVar(&cfgPath, "config", "configs/settings.yaml", "config path")
	flag.BoolVar(&dryRun, "dry-run", false, "simulate orders instead of submitting them")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.OverlayEnv()
	if dryRun {
		cfg.DryRun = true
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatalf("load timezone %q: %v", cfg.Schedule.Timezone, err)
	}

	gw, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("create broker: %v", err)
	}
	gate := broker.NewGate(gw)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(),
		time.Duration(cfg.Broker.ConnectTimeoutMs)*time.Millisecond)
	err = gate.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		log.Fatalf("initial broker connect: %v", err)
	}
	defer gate.Disconnect()

	store := risk.NewEquityStore(cfg.Risk.EquityStatePath, loc)
	guard := risk.NewGuard(store, gate, cfg.Risk.MaxDailyLossPct)
	j := journal.New(cfg.Journal.CSVPath, cfg.Journal.JSONLPath)
	notifier := newNotifier(cfg)

	eng := engine.New(cfg, gate, guard, j, notifier, loc)

	if cfg.Monitoring.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		srv := &http.Server{Addr: cfg.Monitoring.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				observ.Log("metrics_server_error", map[string]any{"error": err.Error()})
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observ.Log("bot_start", map[string]any{
		"symbols":  cfg.Symbols,
		"mode":     cfg.Mode,
		"dry_run":  cfg.DryRun,
		"provider": cfg.Broker.Provider,
	})

	loop := &schedule.Loop{
		Engine:   eng,
		Notifier: notifier,
		Interval: time.Duration(cfg.Schedule.IntervalSeconds) * time.Second,
		Loc:      loc,
	}
	loop.Run(ctx)

	// Let in-flight exit monitors observe the cancellation and finish.
	eng.Wait()
	observ.Log("bot_stop", nil)
}

// newGateway builds the broker client for the configured provider. The sim
// provider is self-contained and gets seeded with plausible market data so
// dry runs exercise the whole pipeline.
func newGateway(cfg config.Root) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "sim":
		sim := broker.NewSimBroker()
		seedSim(sim, cfg)
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}
}

func seedSim(sim *broker.SimBroker, cfg config.Root) {
	start := time.Now().Add(-2 * time.Hour)
	for _, symbol := range cfg.Symbols {
		base := 100.0
		bars := broker.SeedTrendingBars(start, 120, base)
		sim.SetBars(symbol, bars)
		last := bars[len(bars)-1].Close
		sim.SetQuote(symbol, broker.Quote{
			Bid: last - 0.02, Ask: last + 0.02, Last: last,
			Volume: 50000, Timestamp: time.Now(),
		})

		expiry := time.Now().AddDate(0, 0, 7).Format("20060102")
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
					Bid: 2.48, Ask: 2.52, Last: 2.50,
					Volume: 500, Timestamp: time.Now(),
				})
			}
		}
		sim.SetChain(symbol, chain)
	}
}

func newNotifier(cfg config.Root) *notify.Notifier {
	n := &notify.Notifier{BotName: "optionsbot"}
	if !cfg.Monitoring.AlertsEnabled {
		return n
	}
	n.SlackWebhook = cfg.Monitoring.SlackWebhookURL
	n.DiscordWebhook = cfg.Monitoring.DiscordWebhookURL
	n.TelegramToken = cfg.Monitoring.TelegramBotToken
	n.TelegramChatID = cfg.Monitoring.TelegramChatID
	n.HeartbeatURL = cfg.Monitoring.HeartbeatURL
	return n
}
