// Package execution holds the order-side helpers: bracket price math, the
// liquidity test, and the client-side OCO emulation monitor.
package execution

import "optionsbot/internal/broker"

// Bracket carries the exit prices computed from an entry premium. A zero
// value means that leg is absent.
type Bracket struct {
	TakeProfit float64
	StopLoss   float64
}

// Present reports whether the bracket has at least one exit leg.
func (b Bracket) Present() bool {
	return b.TakeProfit > 0 || b.StopLoss > 0
}

// BuildBracket computes take-profit and stop-loss prices from a premium and
// percentage targets. A pct <= 0 leaves that leg absent. Pure function.
func BuildBracket(premium, takeProfitPct, stopLossPct float64) Bracket {
	var b Bracket
	if takeProfitPct > 0 {
		b.TakeProfit = premium * (1 + takeProfitPct)
	}
	if stopLossPct > 0 {
		b.StopLoss = premium * (1 - stopLossPct)
	}
	return b
}

// IsLiquid applies the contract liquidity gate. A quote with a missing bid
// or ask is always rejected, as is one below the volume floor. The spread
// check accepts either a percentage bound or a small absolute bound: a
// tight absolute spread on a cheap contract is genuinely liquid even when
// the percentage looks wide.
func IsLiquid(q broker.Quote, maxSpreadPct float64, minVolume int64, maxSpreadAbs float64) bool {
	if q.Bid <= 0 || q.Ask <= 0 {
		return false
	}
	if q.Volume < minVolume {
		return false
	}
	spread := q.Ask - q.Bid
	if q.SpreadPct() <= maxSpreadPct {
		return true
	}
	return spread <= maxSpreadAbs
}

// ClosingAction reverses an order side for the exit leg.
func ClosingAction(side string) string {
	if side == "BUY" {
		return "SELL"
	}
	return "BUY"
}
