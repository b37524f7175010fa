package strategy

import "math"

// EMA returns the final exponential moving average over values using a
// span-style smoothing factor alpha = 2/(span+1), seeded from the first
// value. Returns NaN for empty input.
func EMA(values []float64, span int) float64 {
	if len(values) == 0 || span < 1 {
		return math.NaN()
	}
	alpha := 2.0 / (float64(span) + 1.0)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// SMA returns the arithmetic mean of the last period values, or NaN when
// there are fewer than period values.
func SMA(values []float64, period int) float64 {
	if period < 1 || len(values) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// RSI returns the final Wilder relative strength index over closes. When
// there has been no downward movement in the window the RSI saturates at
// 100. Returns 50 (neutral) when there is not enough data to compute one.
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return 50
	}
	alpha := 1.0 / float64(period)
	var avgUp, avgDown float64
	first := true
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		up := math.Max(delta, 0)
		down := math.Max(-delta, 0)
		if first {
			avgUp, avgDown = up, down
			first = false
			continue
		}
		avgUp = alpha*up + (1-alpha)*avgUp
		avgDown = alpha*down + (1-alpha)*avgDown
	}
	if avgDown == 0 {
		if avgUp == 0 {
			return 50
		}
		return 100
	}
	rs := avgUp / avgDown
	return 100 - 100/(1+rs)
}
