package risk

import "math"

// PositionSize returns the number of option contracts to buy for a given
// account equity and risk budget:
//
//	contracts = floor((equity * maxRiskPct) / (premium * stopLossPct))
//
// clamped to at least 1 when equity, premium, and stopLossPct are all
// strictly positive. Invalid inputs return 0, never a negative or
// fractional size.
func PositionSize(equity, maxRiskPct, stopLossPct, premium float64) int {
	if equity <= 0 || premium <= 0 || stopLossPct <= 0 {
		return 0
	}
	raw := (equity * maxRiskPct) / (premium * stopLossPct)
	n := int(math.Floor(raw))
	if n < 1 {
		return 1
	}
	return n
}

// CashCappedSize applies the secondary cash cap: total notional
// (contracts * premium * multiplier) must not exceed cashCapPct of equity.
// Returns the lesser of size and the cash-based maximum.
func CashCappedSize(size int, premium float64, multiplier int, equity, cashCapPct float64) int {
	if size <= 0 {
		return 0
	}
	if premium <= 0 || multiplier <= 0 || equity <= 0 || cashCapPct <= 0 {
		return size
	}
	maxByCash := int(math.Floor((equity * cashCapPct) / (premium * float64(multiplier))))
	if maxByCash < size {
		return maxByCash
	}
	return size
}

// GuardDailyLoss reports whether the daily loss kill switch should trip:
// true iff (start - current) / start >= |maxDailyLossPct|.
//
// When start <= 0 there is no reference point and the guard fails OPEN
// (permits trading). Callers must log loudly when they hit this branch.
func GuardDailyLoss(start, current, maxDailyLossPct float64) bool {
	if start <= 0 {
		return false
	}
	lossPct := (start - current) / start
	return lossPct >= math.Abs(maxDailyLossPct)
}
