package execution

import (
	"context"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/observ"
)

// heartbeatEvery is the poll-iteration interval between liveness log lines.
const heartbeatEvery = 100

// OCOMonitor emulates a one-cancels-other exit pair client-side. The
// Gateway cannot be trusted to honor native linked exit orders in every
// configuration, so the monitor polls the contract's quote and races the
// take-profit and stop-loss conditions itself. Exactly one branch can win:
// the loop exits immediately after submitting a closing order.
type OCOMonitor struct {
	Gateway       broker.Broker
	Contract      broker.OptionContract
	ParentOrderID string
	TakeProfit    float64 // <= 0 disables the take-profit leg
	StopLoss      float64 // <= 0 disables the stop-loss leg
	Side          string  // side of the entry order; exits are reversed
	Quantity      int
	PollInterval  time.Duration
	MaxDuration   time.Duration // safety bound, defaults to 8h
}

// Run blocks, polling until an exit triggers, the max duration passes, or
// ctx is cancelled. Run is meant to be spawned on its own goroutine, one
// per open position. Submission failures inside the loop are logged and the
// loop keeps polling: a failed take-profit submission must not block a
// later stop-loss trigger.
func (m *OCOMonitor) Run(ctx context.Context) {
	poll := m.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	maxDur := m.MaxDuration
	if maxDur <= 0 {
		maxDur = 8 * time.Hour
	}
	deadline := time.Now().Add(maxDur)

	observ.Log("oco_started", map[string]any{
		"parent_order_id": m.ParentOrderID,
		"contract":        m.Contract.LocalSymbol(),
		"take_profit":     m.TakeProfit,
		"stop_loss":       m.StopLoss,
	})
	observ.IncCounter("oco_monitors_started_total", nil)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	iterations := 0
	for {
		select {
		case <-ctx.Done():
			observ.Log("oco_cancelled", map[string]any{"parent_order_id": m.ParentOrderID})
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			observ.Log("oco_max_duration_reached", map[string]any{
				"parent_order_id": m.ParentOrderID,
				"contract":        m.Contract.LocalSymbol(),
			})
			observ.IncCounter("oco_expired_total", nil)
			return
		}

		iterations++
		if iterations%heartbeatEvery == 0 {
			observ.Log("oco_heartbeat", map[string]any{
				"parent_order_id": m.ParentOrderID,
				"iterations":      iterations,
			})
		}

		q, err := m.Gateway.MarketData(ctx, broker.Option{Contract: m.Contract})
		if err != nil {
			observ.Log("oco_quote_error", map[string]any{
				"parent_order_id": m.ParentOrderID,
				"error":           err.Error(),
			})
			continue
		}
		last := q.Last
		if last <= 0 {
			last = q.Mid()
		}
		if last <= 0 {
			continue
		}

		if m.TakeProfit > 0 && last >= m.TakeProfit {
			if m.submitClose(ctx, "LMT", m.TakeProfit, last, "take_profit") {
				return
			}
			continue
		}
		if m.StopLoss > 0 && last <= m.StopLoss {
			if m.submitClose(ctx, "MKT", 0, last, "stop_loss") {
				return
			}
			continue
		}
	}
}

// submitClose places the closing order for a triggered leg. Returns true
// when the order was handed to the Gateway, which ends the monitor; a
// submission failure keeps the loop alive so the other leg can still fire.
func (m *OCOMonitor) submitClose(ctx context.Context, orderType string, limitPrice, last float64, leg string) bool {
	ticket := broker.OrderTicket{
		Instrument: broker.Option{Contract: m.Contract},
		Action:     ClosingAction(m.Side),
		Quantity:   m.Quantity,
		OrderType:  orderType,
		LimitPrice: limitPrice,
		TIF:        "DAY",
		Transmit:   true,
	}
	orderID, err := m.Gateway.PlaceOrder(ctx, ticket)
	if err != nil {
		observ.Log("oco_close_submit_error", map[string]any{
			"parent_order_id": m.ParentOrderID,
			"leg":             leg,
			"error":           err.Error(),
		})
		observ.IncCounter("oco_close_failures_total", map[string]string{"leg": leg})
		return false
	}
	observ.Log("oco_triggered", map[string]any{
		"parent_order_id": m.ParentOrderID,
		"leg":             leg,
		"last":            last,
		"close_order_id":  orderID,
	})
	observ.IncCounter("oco_triggers_total", map[string]string{"leg": leg})
	return true
}
