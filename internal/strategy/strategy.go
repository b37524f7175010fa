// Package strategy computes trade signals from OHLCV bar series. Rules are
// pure with respect to market data: malformed, short, or degenerate input
// degrades to HOLD with zero confidence instead of failing.
package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"optionsbot/internal/broker"
)

const (
	ActionBuy     = "BUY"
	ActionSell    = "SELL"
	ActionBuyCall = "BUY_CALL"
	ActionBuyPut  = "BUY_PUT"
	ActionHold    = "HOLD"
)

// Signal is the outcome of evaluating one rule set over a bar series.
type Signal struct {
	Action     string
	Confidence float64
	Reason     string
}

// Directional reports whether the signal calls for opening a position.
func (s Signal) Directional() bool {
	switch s.Action {
	case ActionBuy, ActionSell, ActionBuyCall, ActionBuyPut:
		return true
	}
	return false
}

// Hold is the zero-confidence no-op signal.
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Confidence: 0, Reason: reason}
}

// Combine applies signal precedence: the longer-horizon conviction signal
// overrides the short-horizon scalp signal whenever it fires.
func Combine(scalp, conviction Signal) Signal {
	if conviction.Action != ActionHold {
		return conviction
	}
	return scalp
}

// scalpMinBars is the minimum 1-minute bar count for a scalp evaluation.
const scalpMinBars = 30

// ScalpSignal evaluates the short-horizon entry rules on 1-minute bars:
// EMA(8) against EMA(21), price against session VWAP, and Wilder RSI(14).
func ScalpSignal(bars []broker.Bar, symbol string) Signal {
	if len(bars) < scalpMinBars {
		return Hold("insufficient_bars")
	}

	closes := make([]float64, len(bars))
	var tpv, vol float64 // typical-price*volume and volume sums for VWAP
	for i, b := range bars {
		closes[i] = b.Close
		tp := (b.High + b.Low + b.Close) / 3
		tpv += tp * float64(b.Volume)
		vol += float64(b.Volume)
	}
	last := closes[len(closes)-1]

	vwap := last
	if vol > 0 {
		vwap = tpv / vol
	}

	emaFast := EMA(closes, 8)
	emaSlow := EMA(closes, 21)
	rsi := RSI(closes, 14)
	if math.IsNaN(emaFast) || math.IsNaN(emaSlow) || math.IsNaN(rsi) {
		return Hold("degenerate_series")
	}

	switch {
	case emaFast > emaSlow && last > vwap && rsi >= 45 && rsi <= 70:
		gap := 0.0
		if emaSlow != 0 {
			gap = math.Max(0, (emaFast-emaSlow)/emaSlow)
		}
		rsiScore := (rsi - 45) / 25
		conf := math.Min(1, 0.6*math.Min(1, gap*5)+0.4*rsiScore)
		return Signal{
			Action:     ActionBuy,
			Confidence: round3(conf),
			Reason:     fmt.Sprintf("ema8>ema21, px>vwap, rsi=%.1f", rsi),
		}
	case emaFast < emaSlow || rsi < 40:
		denom := emaFast
		if denom == 0 {
			denom = emaSlow
		}
		gap := 0.0
		if denom != 0 {
			gap = math.Max(0, (emaSlow-emaFast)/denom)
		}
		rsiScore := math.Max(0, (40-rsi)/40)
		conf := math.Min(1, 0.6*math.Min(1, gap*5)+0.4*rsiScore)
		return Signal{
			Action:     ActionSell,
			Confidence: round3(conf),
			Reason:     fmt.Sprintf("ema8<ema21 or rsi=%.1f", rsi),
		}
	}
	return Hold("no_edge")
}

const (
	whaleMinBars   = 20
	whaleLookback  = 20 * 6 // ~20 trading days of 60-minute bars
	whaleVolFactor = 1.5
)

// Whale evaluates low-frequency breakout rules on 60-minute bars: a close
// beyond the 20-day range with volume above 1.5x average buys a call or
// put. Fires are debounced per symbol so one breakout does not stack
// positions cycle after cycle. The debounce state lives on the instance,
// keeping independent engines (and tests) isolated.
type Whale struct {
	mu       sync.Mutex
	lastFire map[string]time.Time
	Debounce time.Duration
	Now      func() time.Time
}

// NewWhale builds a whale rule set with a 3-day debounce.
func NewWhale() *Whale {
	return &Whale{
		lastFire: map[string]time.Time{},
		Debounce: 72 * time.Hour,
		Now:      time.Now,
	}
}

// Evaluate runs the whale rules on a 60-minute series.
func (w *Whale) Evaluate(bars []broker.Bar, symbol string) Signal {
	now := w.Now()
	w.mu.Lock()
	if last, ok := w.lastFire[symbol]; ok && now.Sub(last) < w.Debounce {
		w.mu.Unlock()
		return Hold("debounced")
	}
	w.mu.Unlock()

	if len(bars) < whaleMinBars {
		return Hold("insufficient_bars")
	}

	n := len(bars)
	start := 0
	if n > whaleLookback {
		start = n - whaleLookback
	}
	var volSum float64
	count := 0
	for _, b := range bars[start:] {
		volSum += float64(b.Volume)
		count++
	}
	avgVol := volSum / float64(count)
	lastClose := bars[n-1].Close
	lastVol := float64(bars[n-1].Volume)

	volGate := avgVol
	if volGate == 0 {
		volGate = 1
	}

	sig := Hold("no_breakout")
	// the last bar is part of the window, so the breakout test compares it
	// against the range of everything before it
	prevHigh, prevLow := rangeExcludingLast(bars[start:])
	if lastClose > prevHigh && lastVol > whaleVolFactor*volGate {
		strength := 0.0
		if prevHigh != 0 {
			strength = (lastClose - prevHigh) / prevHigh
		}
		volScore := math.Min(1, lastVol/volGate)
		sig = Signal{
			Action:     ActionBuyCall,
			Confidence: round3(math.Min(1, 0.6*math.Min(1, strength*5)+0.4*volScore)),
			Reason:     fmt.Sprintf("breakout above %.2f on %.1fx volume", prevHigh, lastVol/volGate),
		}
	} else if lastClose < prevLow && lastVol > whaleVolFactor*volGate {
		denom := prevLow
		if denom == 0 {
			denom = 1
		}
		strength := (prevLow - lastClose) / denom
		volScore := math.Min(1, lastVol/volGate)
		sig = Signal{
			Action:     ActionBuyPut,
			Confidence: round3(math.Min(1, 0.6*math.Min(1, strength*5)+0.4*volScore)),
			Reason:     fmt.Sprintf("breakdown below %.2f on %.1fx volume", prevLow, lastVol/volGate),
		}
	}

	if sig.Action != ActionHold {
		w.mu.Lock()
		w.lastFire[symbol] = now
		w.mu.Unlock()
	}
	return sig
}

// rangeExcludingLast returns the close-price high and low of the window
// with the final bar excluded, so the breakout bar cannot mask itself.
func rangeExcludingLast(bars []broker.Bar) (float64, float64) {
	high := math.Inf(-1)
	low := math.Inf(1)
	for _, b := range bars[:len(bars)-1] {
		if b.Close > high {
			high = b.Close
		}
		if b.Close < low {
			low = b.Close
		}
	}
	return high, low
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
