package broker

import (
	"context"
	"sync"
)

// Gate serializes access to a Broker. The Gateway connection is a single
// logical session that is not safely reentrant across goroutines, so every
// call holds the lock for the duration of the call itself and nothing more.
// No caller may hold the gate across a sleep or poll interval.
type Gate struct {
	mu    sync.Mutex
	inner Broker
}

// NewGate wraps inner with connection-level mutual exclusion.
func NewGate(inner Broker) *Gate {
	return &Gate{inner: inner}
}

func (g *Gate) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Connect(ctx)
}

func (g *Gate) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.IsConnected()
}

func (g *Gate) MarketData(ctx context.Context, inst Instrument) (Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.MarketData(ctx, inst)
}

func (g *Gate) OptionChain(ctx context.Context, symbol, expiryHint string) ([]OptionContract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.OptionChain(ctx, symbol, expiryHint)
}

func (g *Gate) HistoricalPrices(ctx context.Context, symbol string, req BarRequest) ([]Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.HistoricalPrices(ctx, symbol, req)
}

func (g *Gate) PlaceOrder(ctx context.Context, ticket OrderTicket) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.PlaceOrder(ctx, ticket)
}

func (g *Gate) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.CancelOrder(ctx, orderID)
}

func (g *Gate) Positions(ctx context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Positions(ctx)
}

func (g *Gate) PnL(ctx context.Context) (PnL, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.PnL(ctx)
}

func (g *Gate) Account(ctx context.Context) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Account(ctx)
}

func (g *Gate) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Disconnect()
}
