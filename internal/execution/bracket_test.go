package execution

import (
	"math"
	"testing"

	"optionsbot/internal/broker"
)

func TestBuildBracketRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		premium float64
		tpPct   float64
		slPct   float64
	}{
		{name: "defaults", premium: 2.5, tpPct: 0.30, slPct: 0.20},
		{name: "cheap_contract", premium: 0.15, tpPct: 0.50, slPct: 0.25},
		{name: "expensive_contract", premium: 42.80, tpPct: 0.10, slPct: 0.05},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := BuildBracket(tc.premium, tc.tpPct, tc.slPct)
			if b.TakeProfit <= tc.premium {
				t.Fatalf("take profit %v not above premium %v", b.TakeProfit, tc.premium)
			}
			if b.StopLoss >= tc.premium {
				t.Fatalf("stop loss %v not below premium %v", b.StopLoss, tc.premium)
			}
			// recomputing the percentages reproduces the inputs
			gotTP := b.TakeProfit/tc.premium - 1
			gotSL := 1 - b.StopLoss/tc.premium
			if math.Abs(gotTP-tc.tpPct) > 1e-9 || math.Abs(gotSL-tc.slPct) > 1e-9 {
				t.Fatalf("round trip gave tp=%v sl=%v, want %v/%v", gotTP, gotSL, tc.tpPct, tc.slPct)
			}
		})
	}
}

func TestBuildBracketAbsentLegs(t *testing.T) {
	b := BuildBracket(2.5, 0, 0.2)
	if b.TakeProfit != 0 {
		t.Fatalf("tp pct 0 should leave leg absent, got %v", b.TakeProfit)
	}
	if !b.Present() {
		t.Fatal("bracket with a stop leg should be present")
	}

	b = BuildBracket(2.5, 0, 0)
	if b.Present() {
		t.Fatal("bracket with no legs should not be present")
	}
}

func TestIsLiquid(t *testing.T) {
	good := broker.Quote{Bid: 2.45, Ask: 2.50, Volume: 500}

	testCases := []struct {
		name         string
		q            broker.Quote
		maxSpreadPct float64
		minVolume    int64
		maxSpreadAbs float64
		want         bool
	}{
		{name: "tight_and_busy", q: good, maxSpreadPct: 2.5, minVolume: 100, maxSpreadAbs: 0.05, want: true},
		{name: "zero_bid_ask", q: broker.Quote{Volume: 500}, maxSpreadPct: 100, minVolume: 0, maxSpreadAbs: 1, want: false},
		{name: "negative_bid", q: broker.Quote{Bid: -1, Ask: 2.5, Volume: 500}, maxSpreadPct: 100, minVolume: 0, maxSpreadAbs: 1, want: false},
		{name: "thin_volume", q: broker.Quote{Bid: 2.45, Ask: 2.50, Volume: 50}, maxSpreadPct: 2.5, minVolume: 100, maxSpreadAbs: 0.05, want: false},
		{name: "wide_pct_but_tight_abs", q: broker.Quote{Bid: 0.10, Ask: 0.14, Volume: 500}, maxSpreadPct: 2.0, minVolume: 100, maxSpreadAbs: 0.05, want: true},
		{name: "wide_pct_and_wide_abs", q: broker.Quote{Bid: 0.10, Ask: 0.30, Volume: 500}, maxSpreadPct: 2.0, minVolume: 100, maxSpreadAbs: 0.05, want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLiquid(tc.q, tc.maxSpreadPct, tc.minVolume, tc.maxSpreadAbs); got != tc.want {
				t.Fatalf("IsLiquid = %v, want %v", got, tc.want)
			}
		})
	}
}

// Widening the spread bound or lowering the volume floor must never turn an
// accepted quote into a rejected one.
func TestIsLiquidMonotonic(t *testing.T) {
	q := broker.Quote{Bid: 2.40, Ask: 2.52, Volume: 300}
	if !IsLiquid(q, 5.0, 200, 0.05) {
		t.Skip("baseline not liquid; nothing to check")
	}
	if !IsLiquid(q, 10.0, 200, 0.05) {
		t.Fatal("widening max spread pct rejected a previously liquid quote")
	}
	if !IsLiquid(q, 5.0, 50, 0.05) {
		t.Fatal("lowering min volume rejected a previously liquid quote")
	}
	if !IsLiquid(q, 5.0, 200, 0.50) {
		t.Fatal("widening max abs spread rejected a previously liquid quote")
	}
}

func TestClosingAction(t *testing.T) {
	if got := ClosingAction("BUY"); got != "SELL" {
		t.Fatalf("ClosingAction(BUY) = %s", got)
	}
	if got := ClosingAction("SELL"); got != "BUY" {
		t.Fatalf("ClosingAction(SELL) = %s", got)
	}
}
