package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "symbols: [SPY]\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "growth", cfg.Mode)
	assert.Equal(t, "sim", cfg.Broker.Provider)
	assert.Equal(t, 4002, cfg.Broker.Port)
	assert.Equal(t, 0.01, cfg.Risk.MaxRiskPctPerTrade)
	assert.Equal(t, 0.15, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 0.30, cfg.Risk.TakeProfitPct)
	assert.Equal(t, 0.20, cfg.Risk.StopLossPct)
	assert.Equal(t, 180, cfg.Schedule.IntervalSeconds)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.Equal(t, "atm", cfg.Options.Moneyness)
	assert.Equal(t, int64(100), cfg.Options.MinVolume)
	assert.Equal(t, 2.0, cfg.Options.MaxSpreadPct)
	assert.Equal(t, 3, cfg.Engine.BreakerThreshold)
	assert.Equal(t, 300, cfg.Engine.BreakerResetSeconds)
	assert.Equal(t, []int{0, 5, 15}, cfg.Engine.RetryDelaysSeconds)
	assert.Equal(t, 2, cfg.Engine.BackoffSkipCycles)
	assert.Equal(t, 30, cfg.Engine.MinBars)
	assert.Equal(t, 480, cfg.Engine.OCOMaxDurationMins)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbols: [SPY, QQQ, IWM]
mode: hybrid
risk:
  max_daily_loss_pct: 0.05
engine:
  breaker_threshold: 5
  retry_delays_seconds: [0, 2]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY", "QQQ", "IWM"}, cfg.Symbols)
	assert.Equal(t, "hybrid", cfg.Mode)
	assert.Equal(t, 0.05, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 5, cfg.Engine.BreakerThreshold)
	assert.Equal(t, []int{0, 2}, cfg.Engine.RetryDelaysSeconds)
	// untouched sections still get defaults
	assert.Equal(t, 0.30, cfg.Risk.TakeProfitPct)
}

func TestLoadRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "no_symbols", body: "mode: growth\n"},
		{name: "bad_mode", body: "symbols: [SPY]\nmode: yolo\n"},
		{name: "bad_moneyness", body: "symbols: [SPY]\noptions:\n  moneyness: itm5\n"},
		{name: "not_yaml", body: "symbols: [SPY"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestOverlayEnv(t *testing.T) {
	t.Setenv("BROKER_HOST", "10.0.0.5")
	t.Setenv("BROKER_PORT", "4001")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.example/T000/B000")

	cfg, err := Load(writeConfig(t, "symbols: [SPY]\n"))
	require.NoError(t, err)
	cfg.OverlayEnv()

	assert.Equal(t, "10.0.0.5", cfg.Broker.Host)
	assert.Equal(t, 4001, cfg.Broker.Port)
	assert.Equal(t, "https://hooks.slack.example/T000/B000", cfg.Monitoring.SlackWebhookURL)
}
