package strategy

import (
	"sort"
	"time"

	"optionsbot/internal/broker"
)

// Resample aggregates a fine-grained bar series into coarser buckets of
// width window, labeled by the right edge of each bucket. Input must be
// time-ascending; output is too.
func Resample(bars []broker.Bar, window time.Duration) []broker.Bar {
	if len(bars) == 0 || window <= 0 {
		return nil
	}
	buckets := map[time.Time]*broker.Bar{}
	for _, b := range bars {
		end := b.Time.Truncate(window)
		if !b.Time.Equal(end) {
			end = end.Add(window)
		}
		agg, ok := buckets[end]
		if !ok {
			nb := b
			nb.Time = end
			buckets[end] = &nb
			continue
		}
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume += b.Volume
	}
	out := make([]broker.Bar, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
