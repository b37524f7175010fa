package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Broker struct {
	Provider         string `yaml:"provider"` // sim | gateway
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ClientID         int    `yaml:"client_id"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	DataTimeoutMs    int    `yaml:"data_timeout_ms"`
}

type Risk struct {
	MaxRiskPctPerTrade float64 `yaml:"max_risk_pct_per_trade"`
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	CashCapPct         float64 `yaml:"cash_cap_pct"`
	EquityStatePath    string  `yaml:"equity_state_path"`
}

type Schedule struct {
	IntervalSeconds      int    `yaml:"interval_seconds"`
	MaxConcurrentSymbols int    `yaml:"max_concurrent_symbols"`
	Timezone             string `yaml:"timezone"`
}

type Options struct {
	ExpiryHint        string  `yaml:"expiry"`    // weekly
	Moneyness         string  `yaml:"moneyness"` // atm | itm1 | otm1
	MinVolume         int64   `yaml:"min_volume"`
	MaxSpreadPct      float64 `yaml:"max_spread_pct"`
	MaxSpreadAbsCents float64 `yaml:"max_spread_abs_cents"`
	StrikeWindowPct   float64 `yaml:"strike_window_pct"`
}

type Engine struct {
	BreakerThreshold    int   `yaml:"breaker_threshold"`
	BreakerResetSeconds int   `yaml:"breaker_reset_seconds"`
	BackoffThreshold    int   `yaml:"backoff_threshold"`
	BackoffSkipCycles   int   `yaml:"backoff_skip_cycles"`
	RetryDelaysSeconds  []int `yaml:"retry_delays_seconds"`
	CacheTTLSeconds     int   `yaml:"cache_ttl_seconds"`
	ThrottleMs          int   `yaml:"throttle_ms"`
	MinBars             int   `yaml:"min_bars"`
	OCOPollSeconds      int   `yaml:"oco_poll_seconds"`
	OCOMaxDurationMins  int   `yaml:"oco_max_duration_minutes"`
}

type Monitoring struct {
	AlertsEnabled     bool   `yaml:"alerts_enabled"`
	HeartbeatURL      string `yaml:"heartbeat_url"`
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	TelegramBotToken  string `yaml:"telegram_bot_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

type Journal struct {
	CSVPath   string `yaml:"csv_path"`
	JSONLPath string `yaml:"jsonl_path"`
}

type Root struct {
	Symbols    []string   `yaml:"symbols"`
	Mode       string     `yaml:"mode"` // growth | hybrid
	DryRun     bool       `yaml:"dry_run"`
	Broker     Broker     `yaml:"broker"`
	Risk       Risk       `yaml:"risk"`
	Schedule   Schedule   `yaml:"schedule"`
	Options    Options    `yaml:"options"`
	Engine     Engine     `yaml:"engine"`
	Monitoring Monitoring `yaml:"monitoring"`
	Journal    Journal    `yaml:"journal"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "growth"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "sim"
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "127.0.0.1"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 4002
	}
	if c.Broker.ClientID == 0 {
		c.Broker.ClientID = 1
	}
	if c.Broker.ConnectTimeoutMs == 0 {
		c.Broker.ConnectTimeoutMs = 10000
	}
	if c.Broker.DataTimeoutMs == 0 {
		c.Broker.DataTimeoutMs = 30000
	}

	if c.Risk.MaxRiskPctPerTrade == 0 {
		c.Risk.MaxRiskPctPerTrade = 0.01
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 0.15
	}
	if c.Risk.TakeProfitPct == 0 {
		c.Risk.TakeProfitPct = 0.30
	}
	if c.Risk.StopLossPct == 0 {
		c.Risk.StopLossPct = 0.20
	}
	if c.Risk.CashCapPct == 0 {
		c.Risk.CashCapPct = 0.95
	}
	if c.Risk.EquityStatePath == "" {
		c.Risk.EquityStatePath = "data/equity_state.json"
	}

	if c.Schedule.IntervalSeconds == 0 {
		c.Schedule.IntervalSeconds = 180
	}
	if c.Schedule.MaxConcurrentSymbols == 0 {
		c.Schedule.MaxConcurrentSymbols = 1
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}

	if c.Options.ExpiryHint == "" {
		c.Options.ExpiryHint = "weekly"
	}
	if c.Options.Moneyness == "" {
		c.Options.Moneyness = "atm"
	}
	if c.Options.MinVolume == 0 {
		c.Options.MinVolume = 100
	}
	if c.Options.MaxSpreadPct == 0 {
		c.Options.MaxSpreadPct = 2.0
	}
	if c.Options.MaxSpreadAbsCents == 0 {
		c.Options.MaxSpreadAbsCents = 5.0
	}
	if c.Options.StrikeWindowPct == 0 {
		c.Options.StrikeWindowPct = 0.05
	}

	if c.Engine.BreakerThreshold == 0 {
		c.Engine.BreakerThreshold = 3
	}
	if c.Engine.BreakerResetSeconds == 0 {
		c.Engine.BreakerResetSeconds = 300
	}
	if c.Engine.BackoffThreshold == 0 {
		c.Engine.BackoffThreshold = 3
	}
	if c.Engine.BackoffSkipCycles == 0 {
		c.Engine.BackoffSkipCycles = 2
	}
	if len(c.Engine.RetryDelaysSeconds) == 0 {
		c.Engine.RetryDelaysSeconds = []int{0, 5, 15}
	}
	if c.Engine.CacheTTLSeconds == 0 {
		c.Engine.CacheTTLSeconds = 300
	}
	if c.Engine.ThrottleMs == 0 {
		c.Engine.ThrottleMs = 200
	}
	if c.Engine.MinBars == 0 {
		c.Engine.MinBars = 30
	}
	if c.Engine.OCOPollSeconds == 0 {
		c.Engine.OCOPollSeconds = 5
	}
	if c.Engine.OCOMaxDurationMins == 0 {
		c.Engine.OCOMaxDurationMins = 480
	}

	if c.Journal.CSVPath == "" {
		c.Journal.CSVPath = "logs/trades.csv"
	}
	if c.Journal.JSONLPath == "" {
		c.Journal.JSONLPath = "logs/trades.jsonl"
	}
	if c.Monitoring.MetricsAddr == "" {
		c.Monitoring.MetricsAddr = "127.0.0.1:8077"
	}
}

// Validate rejects configurations the bot cannot run with. An empty symbol
// list is fatal: looping over nothing forever helps nobody.
func (c *Root) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	switch c.Mode {
	case "growth", "hybrid":
	default:
		return fmt.Errorf("config: mode must be growth or hybrid, got %q", c.Mode)
	}
	switch c.Options.Moneyness {
	case "atm", "itm1", "otm1":
	default:
		return fmt.Errorf("config: moneyness must be atm, itm1, or otm1, got %q", c.Options.Moneyness)
	}
	if c.Schedule.MaxConcurrentSymbols < 1 {
		return fmt.Errorf("config: max_concurrent_symbols must be >= 1")
	}
	return nil
}

// OverlayEnv loads a .env file if present and overrides connection details
// and webhook secrets from the process environment, so secrets stay out of
// the YAML file.
func (c *Root) OverlayEnv() {
	_ = godotenv.Load() // missing .env is the normal production case
	if v := os.Getenv("BROKER_HOST"); v != "" {
		c.Broker.Host = v
	}
	if v := os.Getenv("BROKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Broker.Port = p
		}
	}
	if v := os.Getenv("BROKER_CLIENT_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.Broker.ClientID = id
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Monitoring.SlackWebhookURL = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Monitoring.DiscordWebhookURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Monitoring.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Monitoring.TelegramChatID = v
	}
}
