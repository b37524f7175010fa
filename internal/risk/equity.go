package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/observ"
)

// EquityStore persists start-of-day equity keyed by local calendar date in a
// single JSON file. The mapping survives restarts so a crash cannot reset
// the daily loss guard's reference point.
type EquityStore struct {
	mu     sync.Mutex
	path   string
	loc    *time.Location
	state  map[string]float64
	loaded bool
}

// NewEquityStore creates a store persisting to path, with dates interpreted
// in loc (nil means UTC).
func NewEquityStore(path string, loc *time.Location) *EquityStore {
	if loc == nil {
		loc = time.UTC
	}
	return &EquityStore{path: path, loc: loc, state: map[string]float64{}}
}

// StartOfDay returns the persisted start-of-day equity for now's calendar
// date. On the first observation of a new day it calls fetch exactly once,
// persists the result, and returns it. Repeated calls on the same day are
// idempotent and never re-invoke fetch.
func (s *EquityStore) StartOfDay(now time.Time, fetch func() (float64, error)) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}

	day := now.In(s.loc).Format("2006-01-02")
	if v, ok := s.state[day]; ok {
		return v, nil
	}

	equity, err := fetch()
	if err != nil {
		return 0, fmt.Errorf("capture start-of-day equity: %w", err)
	}
	s.state[day] = equity
	if err := s.saveLocked(); err != nil {
		// keep the in-memory value; a persist failure must not block trading
		observ.Log("equity_state_save_error", map[string]any{"error": err.Error(), "path": s.path})
	}
	observ.Log("equity_state_day_initialized", map[string]any{"date": day, "equity": equity})
	return equity, nil
}

func (s *EquityStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.state); err != nil {
		return fmt.Errorf("parse equity state %s: %w", s.path, err)
	}
	s.loaded = true
	return nil
}

// saveLocked writes the state atomically: a uniquely named temp file in the
// target directory, fsync, then rename over the target. A reader never sees
// a half-written file.
func (s *EquityStore) saveLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".equity-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Guard composes the equity store, the Gateway account feed, and the loss
// threshold into the per-cycle kill-switch check.
type Guard struct {
	store           *EquityStore
	gateway         broker.Broker
	maxDailyLossPct float64
}

// NewGuard wires a Guard. gateway is expected to be the shared Gate.
func NewGuard(store *EquityStore, gateway broker.Broker, maxDailyLossPct float64) *Guard {
	return &Guard{store: store, gateway: gateway, maxDailyLossPct: maxDailyLossPct}
}

// ShouldStopTrading fetches current equity, lazily initializes today's
// start-of-day reference, and evaluates the loss guard. Called once per
// cycle; correctness depends on the check being fresh rather than cached.
func (g *Guard) ShouldStopTrading(ctx context.Context, now time.Time) (bool, error) {
	pnl, err := g.gateway.PnL(ctx)
	if err != nil {
		return false, err
	}
	start, err := g.store.StartOfDay(now, func() (float64, error) { return pnl.Net, nil })
	if err != nil {
		return false, err
	}
	if start <= 0 {
		// no reference point: fail open, but say so
		observ.Log("daily_loss_guard_no_reference", map[string]any{"start_equity": start})
		return false, nil
	}
	tripped := GuardDailyLoss(start, pnl.Net, g.maxDailyLossPct)
	observ.SetGauge("daily_loss_pct", (start-pnl.Net)/start*100, nil)
	return tripped, nil
}
