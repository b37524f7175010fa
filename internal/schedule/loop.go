// Package schedule runs the outer trading loop: one engine pass per
// interval during regular trading hours, an end-of-day marker when the
// session closes, and prompt exit on cancellation.
package schedule

import (
	"context"
	"time"

	"optionsbot/internal/engine"
	"optionsbot/internal/notify"
	"optionsbot/internal/observ"
)

// Regular trading hours, minutes from midnight exchange time.
const (
	sessionOpenMinute  = 9*60 + 30
	sessionCloseMinute = 16 * 60
)

type Loop struct {
	Engine   *engine.Engine
	Notifier *notify.Notifier
	Interval time.Duration
	Loc      *time.Location

	// Now is overridable for tests.
	Now func() time.Time

	activeDay string
}

// InSession reports whether t falls inside regular trading hours in the
// loop's exchange timezone. Both boundaries are inclusive.
func (l *Loop) InSession(t time.Time) bool {
	local := t.In(l.Loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= sessionOpenMinute && minute <= sessionCloseMinute
}

// Run loops until ctx is cancelled. Cancellation is observed both before
// starting a cycle and during the inter-cycle sleep, so shutdown completes
// within one interval.
func (l *Loop) Run(ctx context.Context) {
	if l.Now == nil {
		l.Now = time.Now
	}
	observ.Log("scheduler_start", map[string]any{"interval_seconds": l.Interval.Seconds()})

	for {
		select {
		case <-ctx.Done():
			observ.Log("scheduler_stop", nil)
			return
		default:
		}

		now := l.Now()
		if l.InSession(now) {
			l.activeDay = now.In(l.Loc).Format("2006-01-02")
			l.Notifier.Heartbeat()

			summary := l.Engine.RunCycle(ctx)
			observ.Log("cycle_complete", map[string]any{
				"symbols":     summary.Symbols,
				"traded":      summary.Traded,
				"held":        summary.Held,
				"skipped":     summary.Skipped,
				"errors":      summary.Errors,
				"halted":      summary.Halted,
				"duration_ms": summary.Duration.Milliseconds(),
				"breaker":     string(summary.Breaker),
			})
			observ.IncCounter("cycles_total", nil)
		} else if l.activeDay != "" {
			observ.Log("session_end", map[string]any{"date": l.activeDay})
			l.Engine.ResetDailyAlert()
			l.activeDay = ""
		} else {
			observ.Log("outside_session", map[string]any{"local": now.In(l.Loc).Format(time.RFC3339)})
		}

		select {
		case <-ctx.Done():
			observ.Log("scheduler_stop", nil)
			return
		case <-time.After(l.Interval):
		}
	}
}
