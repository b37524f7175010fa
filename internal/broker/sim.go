package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimBroker is a deterministic in-process Gateway used for dry runs and
// tests. Quotes and bar series are scripted; failures can be injected per
// symbol to exercise retry, backoff, and circuit-breaker paths.
type SimBroker struct {
	mu        sync.Mutex
	connected bool

	quotes map[string]Quote // keyed by Instrument.QuoteSymbol()
	bars   map[string][]Bar
	chains map[string][]OptionContract
	net    float64

	// failHistorical[symbol] > 0 makes the next N historical fetches fail
	// with a connectivity error.
	failHistorical map[string]int
	failConnect    int
	failPlace      int
	histCalls      map[string]int

	orders      []OrderTicket
	nextOrderID int
}

// NewSimBroker returns an empty, disconnected sim with 100k net liquidation.
func NewSimBroker() *SimBroker {
	return &SimBroker{
		quotes:         map[string]Quote{},
		bars:           map[string][]Bar{},
		chains:         map[string][]OptionContract{},
		failHistorical: map[string]int{},
		histCalls:      map[string]int{},
		net:            100000,
	}
}

// SetQuote scripts the quote returned for an instrument key.
func (s *SimBroker) SetQuote(key string, q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[key] = q
}

// SetBars scripts the historical series for a symbol.
func (s *SimBroker) SetBars(symbol string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

// SetChain scripts the option chain for an underlying.
func (s *SimBroker) SetChain(symbol string, contracts []OptionContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[symbol] = contracts
}

// SetNet scripts the account net liquidation value.
func (s *SimBroker) SetNet(net float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.net = net
}

// FailHistorical makes the next n historical fetches for symbol fail.
func (s *SimBroker) FailHistorical(symbol string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHistorical[symbol] = n
}

// FailConnect makes the next n Connect calls fail.
func (s *SimBroker) FailConnect(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConnect = n
}

// FailPlaceOrder makes the next n order submissions fail.
func (s *SimBroker) FailPlaceOrder(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPlace = n
}

// Orders returns a copy of every ticket placed so far.
func (s *SimBroker) Orders() []OrderTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderTicket, len(s.orders))
	copy(out, s.orders)
	return out
}

// HistoricalCalls reports how many historical fetches were attempted for
// symbol, including failed ones.
func (s *SimBroker) HistoricalCalls(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histCalls[symbol]
}

func (s *SimBroker) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConnect > 0 {
		s.failConnect--
		return NewConnectivityError("connect", "", errors.New("sim: connect refused"))
	}
	s.connected = true
	return nil
}

func (s *SimBroker) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimBroker) MarketData(ctx context.Context, inst Instrument) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Quote{}, NewConnectivityError("market_data", inst.QuoteSymbol(), errors.New("sim: not connected"))
	}
	q, ok := s.quotes[inst.QuoteSymbol()]
	if !ok {
		return Quote{}, NewDataError("market_data", inst.QuoteSymbol(), errors.New("sim: no quote scripted"))
	}
	return q, nil
}

func (s *SimBroker) OptionChain(ctx context.Context, symbol, expiryHint string) ([]OptionContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, NewConnectivityError("option_chain", symbol, errors.New("sim: not connected"))
	}
	chain := make([]OptionContract, len(s.chains[symbol]))
	copy(chain, s.chains[symbol])
	return chain, nil
}

func (s *SimBroker) HistoricalPrices(ctx context.Context, symbol string, req BarRequest) ([]Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histCalls[symbol]++
	if !s.connected {
		return nil, NewConnectivityError("historical_prices", symbol, errors.New("sim: not connected"))
	}
	if s.failHistorical[symbol] > 0 {
		s.failHistorical[symbol]--
		return nil, NewTimeoutError("historical_prices", symbol, errors.New("sim: injected timeout"))
	}
	bars := make([]Bar, len(s.bars[symbol]))
	copy(bars, s.bars[symbol])
	return bars, nil
}

func (s *SimBroker) PlaceOrder(ctx context.Context, ticket OrderTicket) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", NewConnectivityError("place_order", ticket.Instrument.QuoteSymbol(), errors.New("sim: not connected"))
	}
	if s.failPlace > 0 {
		s.failPlace--
		return "", NewRejectedError("place_order", ticket.Instrument.QuoteSymbol(), errors.New("sim: injected rejection"))
	}
	s.orders = append(s.orders, ticket)
	s.nextOrderID++
	return fmt.Sprintf("sim-%d", s.nextOrderID), nil
}

func (s *SimBroker) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

func (s *SimBroker) Positions(ctx context.Context) ([]Position, error) {
	return nil, nil
}

func (s *SimBroker) PnL(ctx context.Context) (PnL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return PnL{}, NewConnectivityError("pnl", "", errors.New("sim: not connected"))
	}
	return PnL{Net: s.net}, nil
}

func (s *SimBroker) Account(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{"NetLiquidation": fmt.Sprintf("%.2f", s.net)}, nil
}

func (s *SimBroker) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// SeedTrendingBars generates a deterministic upward-drifting 1-minute series
// useful for demos and tests that need a BUY setup. Every third bar pulls
// back, so the series trends up while momentum stays out of the overbought
// band.
func SeedTrendingBars(start time.Time, n int, base float64) []Bar {
	rng := rand.New(rand.NewSource(42))
	bars := make([]Bar, 0, n)
	px := base
	for i := 0; i < n; i++ {
		drift := 0.05
		if i%3 == 2 {
			drift = -0.05
		}
		open := px
		px += drift
		high := math.Max(open, px) + 0.03
		low := math.Min(open, px) - 0.03
		bars = append(bars, Bar{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  px,
			Volume: 10000 + int64(rng.Intn(5000)),
		})
	}
	return bars
}
