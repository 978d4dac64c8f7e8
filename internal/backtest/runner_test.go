package backtest

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/feed"
	"gridbot/internal/grid"
	"gridbot/internal/journal"
	"gridbot/internal/store"
)

type sliceFeed struct {
	obs []feed.Observation
	pos int
}

func (f *sliceFeed) Next() (feed.Observation, error) {
	if f.pos >= len(f.obs) {
		return feed.Observation{}, io.EOF
	}
	obs := f.obs[f.pos]
	f.pos++
	return obs, nil
}

func (f *sliceFeed) Close() error { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tickObs(price string, minute int) feed.Observation {
	return feed.Observation{
		Time:  time.Date(2025, 6, 1, 12, minute, 0, 0, time.UTC),
		Price: dec(price),
	}
}

func newTestEngine(t *testing.T, takeProfit string) *engine.Engine {
	t.Helper()
	levels, err := grid.Compute(dec("95000"), dec("105000"), 11, core.SpacingArithmetic)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	tp := decimal.Zero
	if takeProfit != "" {
		tp = dec(takeProfit)
	}
	eng, err := engine.New(engine.Config{
		Levels:     levels,
		Qty:        dec("1"),
		FeeRate:    decimal.Zero,
		TakeProfit: tp,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return eng
}

func TestRunReplaysFeedAndStopsNormally(t *testing.T) {
	eng := newTestEngine(t, "")
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	defer j.Close()

	runner := &Runner{
		Symbol: "BTCUSDT",
		Feed: &sliceFeed{obs: []feed.Observation{
			tickObs("100000", 0), // seeds the grid
			tickObs("98500", 1),  // buy fill at 99000
			tickObs("100200", 2), // sell fill at 100000 closes the pair
		}},
		Engine:  eng,
		Store:   st,
		Journal: j,
	}

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Summary.State != engine.StateStoppedNormal {
		t.Fatalf("state = %s, want %s", result.Summary.State, engine.StateStoppedNormal)
	}
	if result.Observations != 3 {
		t.Fatalf("observations = %d, want 3", result.Observations)
	}
	if !result.StartPrice.Equal(dec("100000")) || !result.EndPrice.Equal(dec("100200")) {
		t.Fatalf("price span = %s..%s, want 100000..100200", result.StartPrice, result.EndPrice)
	}
	if got := result.Summary.Performance.TotalTrades; got != 2 {
		t.Fatalf("trades = %d, want 2", got)
	}
	if !result.Summary.Performance.RealizedPnL.Equal(dec("1000")) {
		t.Fatalf("realized pnl = %s, want 1000", result.Summary.Performance.RealizedPnL)
	}

	records, err := st.ReadTrades()
	if err != nil {
		t.Fatalf("ReadTrades() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("trade log rows = %d, want 2", len(records))
	}
	snapshot, ok, err := st.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = (%v, %v), want a snapshot", ok, err)
	}
	if snapshot.State != string(engine.StateStoppedNormal) || snapshot.Trades != 2 {
		t.Fatalf("snapshot = %+v, want stopped_normal with 2 trades", snapshot)
	}

	entries, err := j.Fills(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Fills() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal rows = %d, want 2", len(entries))
	}
	if entries[0].RealizedPnL != nil || entries[1].RealizedPnL == nil {
		t.Fatalf("journal pnl shape wrong: opening fill carries no pnl, closing fill must")
	}
}

func TestRunEndsEarlyOnTakeProfit(t *testing.T) {
	eng := newTestEngine(t, "104000")
	runner := &Runner{
		Symbol: "BTCUSDT",
		Engine: eng,
		Feed: &sliceFeed{obs: []feed.Observation{
			tickObs("100000", 0),
			tickObs("104500", 1), // trips take profit
			tickObs("90000", 2),  // never reached
		}},
	}

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Summary.State != engine.StateStoppedTakeProfit {
		t.Fatalf("state = %s, want %s", result.Summary.State, engine.StateStoppedTakeProfit)
	}
	if result.Observations != 2 {
		t.Fatalf("observations = %d, want 2 (feed abandoned after the exit)", result.Observations)
	}
	if result.Summary.OpenOrders != 0 {
		t.Fatalf("open orders = %d, want 0 after exit", result.Summary.OpenOrders)
	}
}

func TestRunCountsDroppedObservations(t *testing.T) {
	eng := newTestEngine(t, "")
	runner := &Runner{
		Symbol: "BTCUSDT",
		Engine: eng,
		Feed: &sliceFeed{obs: []feed.Observation{
			tickObs("100000", 0),
			tickObs("-5", 1), // invalid, dropped
			tickObs("100200", 2),
		}},
	}

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", result.Dropped)
	}
	if result.Summary.State != engine.StateStoppedNormal {
		t.Fatalf("state = %s, want %s", result.Summary.State, engine.StateStoppedNormal)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newTestEngine(t, "")
	runner := &Runner{
		Symbol: "BTCUSDT",
		Engine: eng,
		Feed:   &sliceFeed{obs: []feed.Observation{tickObs("100000", 0)}},
	}
	if _, err := runner.Run(ctx); err == nil {
		t.Fatalf("Run() with canceled context should fail")
	}
	if !eng.State().Terminal() {
		t.Fatalf("engine should be stopped after cancellation, state = %s", eng.State())
	}
}
