package risk

import "testing"

func TestPositionSize(t *testing.T) {
	testCases := []struct {
		name        string
		equity      float64
		maxRiskPct  float64
		stopLossPct float64
		premium     float64
		want        int
	}{
		{name: "standard_account", equity: 100000, maxRiskPct: 0.01, stopLossPct: 0.5, premium: 2.5, want: 800},
		{name: "default_risk_profile", equity: 50000, maxRiskPct: 0.01, stopLossPct: 0.2, premium: 2.0, want: 1250},
		{name: "clamps_to_one", equity: 100, maxRiskPct: 0.01, stopLossPct: 0.5, premium: 2.5, want: 1},
		{name: "zero_equity", equity: 0, maxRiskPct: 0.01, stopLossPct: 0.5, premium: 2.5, want: 0},
		{name: "negative_equity", equity: -5000, maxRiskPct: 0.01, stopLossPct: 0.5, premium: 2.5, want: 0},
		{name: "zero_premium", equity: 100000, maxRiskPct: 0.01, stopLossPct: 0.5, premium: 0, want: 0},
		{name: "zero_stop_loss", equity: 100000, maxRiskPct: 0.01, stopLossPct: 0, premium: 2.5, want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := PositionSize(tc.equity, tc.maxRiskPct, tc.stopLossPct, tc.premium)
			if got != tc.want {
				t.Fatalf("PositionSize(%v, %v, %v, %v) = %d, want %d",
					tc.equity, tc.maxRiskPct, tc.stopLossPct, tc.premium, got, tc.want)
			}
			if got < 0 {
				t.Fatalf("size must never be negative, got %d", got)
			}
		})
	}
}

func TestCashCappedSize(t *testing.T) {
	// 800 contracts at 2.50 x100 is 200k notional, well past 95% of 100k.
	got := CashCappedSize(800, 2.5, 100, 100000, 0.95)
	if got != 380 {
		t.Fatalf("cash cap: got %d, want 380", got)
	}

	// Notional under the cap leaves the risk-based size alone.
	got = CashCappedSize(3, 2.5, 100, 100000, 0.95)
	if got != 3 {
		t.Fatalf("under cap: got %d, want 3", got)
	}

	if got := CashCappedSize(0, 2.5, 100, 100000, 0.95); got != 0 {
		t.Fatalf("zero size in, got %d out", got)
	}
}

func TestGuardDailyLoss(t *testing.T) {
	testCases := []struct {
		name    string
		start   float64
		current float64
		maxPct  float64
		want    bool
	}{
		{name: "no_loss_never_trips", start: 100000, current: 100000, maxPct: 0.05, want: false},
		{name: "exact_threshold_trips", start: 100000, current: 95000, maxPct: 0.05, want: true},
		{name: "just_past_threshold", start: 100000, current: 94999, maxPct: 0.05, want: true},
		{name: "just_under_threshold", start: 100000, current: 95001, maxPct: 0.05, want: false},
		{name: "gain_never_trips", start: 100000, current: 110000, maxPct: 0.05, want: false},
		{name: "fails_open_on_zero_start", start: 0, current: 50000, maxPct: 0.05, want: false},
		{name: "fails_open_on_negative_start", start: -1, current: 50000, maxPct: 0.05, want: false},
		{name: "negative_pct_uses_magnitude", start: 100000, current: 90000, maxPct: -0.05, want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GuardDailyLoss(tc.start, tc.current, tc.maxPct); got != tc.want {
				t.Fatalf("GuardDailyLoss(%v, %v, %v) = %v, want %v",
					tc.start, tc.current, tc.maxPct, got, tc.want)
			}
		})
	}
}
