// Package options picks a concrete contract for a directional signal:
// nearest weekly expiry, strike by configured moneyness, and a liquidity
// pre-filter on the contract's own quote.
package options

import (
	"context"
	"math"
	"sort"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/config"
	"optionsbot/internal/execution"
	"optionsbot/internal/observ"
)

type Selector struct {
	Gateway broker.Broker
	Cfg     config.Options
}

// NewSelector wires a selector against the shared Gateway gate.
func NewSelector(gateway broker.Broker, cfg config.Options) *Selector {
	return &Selector{Gateway: gateway, Cfg: cfg}
}

// Pick returns a viable contract and its current quote for the requested
// direction, or ok=false when nothing in the chain passes the filters.
// A Gateway failure is returned as an error; an empty or illiquid chain is
// a normal no-pick outcome.
func (s *Selector) Pick(ctx context.Context, underlying, right string, lastPrice float64) (broker.OptionContract, broker.Quote, bool, error) {
	var none broker.OptionContract
	if lastPrice <= 0 {
		return none, broker.Quote{}, false, nil
	}

	chain, err := s.Gateway.OptionChain(ctx, underlying, s.Cfg.ExpiryHint)
	if err != nil {
		return none, broker.Quote{}, false, err
	}

	strikes := candidateStrikes(chain, right, lastPrice, s.Cfg.StrikeWindowPct)
	if len(strikes) == 0 {
		observ.Log("option_no_candidates", map[string]any{"symbol": underlying, "right": right})
		return none, broker.Quote{}, false, nil
	}

	strike, ok := pickStrike(strikes, lastPrice, right, s.Cfg.Moneyness)
	if !ok {
		return none, broker.Quote{}, false, nil
	}

	contract, ok := contractAt(chain, right, strike)
	if !ok {
		return none, broker.Quote{}, false, nil
	}

	q, err := s.Gateway.MarketData(ctx, broker.Option{Contract: contract})
	if err != nil {
		return none, broker.Quote{}, false, err
	}
	if !execution.IsLiquid(q, s.Cfg.MaxSpreadPct, s.Cfg.MinVolume, s.Cfg.MaxSpreadAbsCents/100) {
		observ.Log("option_illiquid", map[string]any{
			"contract": contract.LocalSymbol(),
			"bid":      q.Bid,
			"ask":      q.Ask,
			"volume":   q.Volume,
		})
		return none, broker.Quote{}, false, nil
	}
	return contract, q, true, nil
}

// candidateStrikes returns the sorted distinct strikes for the right within
// the configured window around the underlying price.
func candidateStrikes(chain []broker.OptionContract, right string, lastPrice, windowPct float64) []float64 {
	seen := map[float64]bool{}
	var strikes []float64
	for _, c := range chain {
		if c.Right != right || seen[c.Strike] {
			continue
		}
		if windowPct > 0 && math.Abs(c.Strike-lastPrice) > windowPct*lastPrice {
			continue
		}
		seen[c.Strike] = true
		strikes = append(strikes, c.Strike)
	}
	sort.Float64s(strikes)
	return strikes
}

// pickStrike maps the moneyness setting onto the strike ladder. itm1/otm1
// step one strike in or out of the money from ATM; for calls in-the-money
// is below spot, for puts above.
func pickStrike(strikes []float64, lastPrice float64, right, moneyness string) (float64, bool) {
	atmIdx := 0
	best := math.Inf(1)
	for i, s := range strikes {
		if d := math.Abs(s - lastPrice); d < best {
			best = d
			atmIdx = i
		}
	}

	idx := atmIdx
	switch moneyness {
	case "atm":
	case "itm1":
		if right == "C" {
			idx = atmIdx - 1
		} else {
			idx = atmIdx + 1
		}
	case "otm1":
		if right == "C" {
			idx = atmIdx + 1
		} else {
			idx = atmIdx - 1
		}
	default:
		return 0, false
	}
	if idx < 0 || idx >= len(strikes) {
		// ladder too short to step; fall back to ATM
		idx = atmIdx
	}
	return strikes[idx], true
}

func contractAt(chain []broker.OptionContract, right string, strike float64) (broker.OptionContract, bool) {
	for _, c := range chain {
		if c.Right == right && c.Strike == strike {
			return c, true
		}
	}
	return broker.OptionContract{}, false
}

// NearestFriday returns the YYYYMMDD date of the next Friday after t, the
// conventional weekly option expiry.
func NearestFriday(t time.Time) string {
	daysAhead := int(time.Friday) - int(t.Weekday())
	if daysAhead <= 0 {
		daysAhead += 7
	}
	return t.AddDate(0, 0, daysAhead).Format("20060102")
}
