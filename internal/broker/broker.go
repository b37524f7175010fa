// Package broker defines the contract the bot consumes from the brokerage
// Gateway. The Gateway client itself is an external collaborator; everything
// in the bot talks to it through the Broker interface, usually wrapped in a
// Gate that serializes access to the single logical connection.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Quote is a point-in-time market data snapshot. Created per request, never
// persisted.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the midpoint.
func (q Quote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 100
}

// OptionContract identifies a single listed option. Immutable value.
type OptionContract struct {
	Underlying string  `json:"underlying"`
	Right      string  `json:"right"`  // "C" or "P"
	Strike     float64 `json:"strike"`
	Expiry     string  `json:"expiry"` // YYYYMMDD
	Multiplier int     `json:"multiplier"`
}

// LocalSymbol renders a stable identifier for quoting and journaling.
func (c OptionContract) LocalSymbol() string {
	return fmt.Sprintf("%s %s %s %.2f", c.Underlying, c.Expiry, c.Right, c.Strike)
}

// Bar is one OHLCV candle. Series are time-ascending with unique timestamps.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// BarRequest describes a historical data fetch.
type BarRequest struct {
	Duration   string        // Gateway duration string, e.g. "60 M"
	BarSize    string        // e.g. "1 min"
	WhatToShow string        // e.g. "TRADES"
	UseRTH     bool
	Timeout    time.Duration // scaled to requested volume by callers
}

// OrderTicket is built per trade decision and not retained after submission
// except in the journal.
type OrderTicket struct {
	Instrument    Instrument
	Action        string // BUY or SELL
	Quantity      int
	OrderType     string  // MKT or LMT
	LimitPrice    float64 // used when OrderType is LMT
	TIF           string  // defaults to DAY
	TakeProfitPct float64 // <= 0 means no take-profit leg
	StopLossPct   float64 // <= 0 means no stop-loss leg
	Transmit      bool
}

// Position is a lightweight view of an open holding.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PnL carries account-level profit and loss figures.
type PnL struct {
	Net float64 `json:"net"`
}

// Instrument is a sealed union over the two things the bot quotes and
// trades: a stock by symbol, or a concrete option contract. Using a closed
// interface keeps the two cases structurally distinct instead of probing
// attributes at runtime.
type Instrument interface {
	instrument()
	// QuoteSymbol is the identifier handed to the Gateway's market data call.
	QuoteSymbol() string
}

// Stock identifies an underlying by ticker symbol.
type Stock struct {
	Symbol string
}

func (Stock) instrument()           {}
func (s Stock) QuoteSymbol() string { return s.Symbol }

// Option wraps a concrete contract.
type Option struct {
	Contract OptionContract
}

func (Option) instrument()           {}
func (o Option) QuoteSymbol() string { return o.Contract.LocalSymbol() }

// Broker is the consumed capability set of the Gateway connection. Any call
// may fail with a *GatewayError; callers treat retryable kinds as
// circuit-breaker-reportable failures.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	MarketData(ctx context.Context, inst Instrument) (Quote, error)
	OptionChain(ctx context.Context, symbol, expiryHint string) ([]OptionContract, error)
	HistoricalPrices(ctx context.Context, symbol string, req BarRequest) ([]Bar, error)
	PlaceOrder(ctx context.Context, ticket OrderTicket) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	Positions(ctx context.Context) ([]Position, error)
	PnL(ctx context.Context) (PnL, error)
	Account(ctx context.Context) (map[string]string, error)
	Disconnect() error
}
