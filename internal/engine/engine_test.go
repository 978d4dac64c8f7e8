package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/grid"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ladder: 95000..105000, 11 levels, step 1000.
func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	levels, err := grid.Compute(dec("95000"), dec("105000"), 11, core.SpacingArithmetic)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	cfg := Config{
		Levels:  levels,
		Qty:     decimal.NewFromInt(1),
		FeeRate: dec("0.001"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func tickAt(t *testing.T, e *Engine, price string, offset time.Duration) []core.TradeEvent {
	t.Helper()
	events, err := e.OnTick(core.Tick{Time: t0.Add(offset), Price: dec(price)})
	if err != nil {
		t.Fatalf("OnTick(%s) error = %v", price, err)
	}
	return events
}

func TestFirstTickInitializesLadder(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.State() != StateInitializing {
		t.Fatalf("state = %s, want initializing", e.State())
	}

	events := tickAt(t, e, "100000", 0)
	if len(events) != 0 {
		t.Fatalf("first tick produced %d events, want 0", len(events))
	}
	if e.State() != StateRunning {
		t.Fatalf("state = %s, want running", e.State())
	}
	// Anchor stays idle: 11 levels, 10 orders.
	if got := len(e.OpenOrders()); got != 10 {
		t.Fatalf("open orders = %d, want 10", got)
	}
}

func TestUpMoveFillsOneSellAndArmsBuyBelow(t *testing.T) {
	e := newTestEngine(t, nil)
	tickAt(t, e, "100000", 0)

	events := tickAt(t, e, "101500", time.Minute)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Side != core.Sell || events[0].LevelIndex != 6 {
		t.Fatalf("event = %+v, want sell at level 6", events[0])
	}
	if !events[0].Price.Equal(dec("101000")) {
		t.Fatalf("fill price = %s, want level price 101000", events[0].Price)
	}

	// The counter buy re-arms the level below the fill.
	var buyBelow bool
	for _, ord := range e.OpenOrders() {
		if ord.Side == core.Buy && ord.LevelIndex == 5 {
			buyBelow = true
		}
	}
	if !buyBelow {
		t.Fatalf("no buy order at level 5 after sell fill at level 6")
	}
}

func TestRoundTripRealizesPnl(t *testing.T) {
	e := newTestEngine(t, nil)
	tickAt(t, e, "100000", 0)
	tickAt(t, e, "98500", time.Minute) // fills buy at 99000, arms sell at 100000

	events := tickAt(t, e, "100200", 2*time.Minute)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].RealizedPnL == nil {
		t.Fatalf("round trip fill must realize pnl")
	}
	// (100000-99000)*1 minus 0.1% fee on both legs.
	if !events[0].RealizedPnL.Equal(dec("801")) {
		t.Fatalf("realized pnl = %s, want 801", events[0].RealizedPnL)
	}

	snap := e.Summary().Performance
	if snap.TotalTrades != 2 {
		t.Fatalf("total trades = %d, want 2", snap.TotalTrades)
	}
	if !snap.RealizedPnL.Equal(dec("801")) {
		t.Fatalf("tracked pnl = %s, want 801", snap.RealizedPnL)
	}
}

func TestBarSweepsBothDirectionsInPriceOrder(t *testing.T) {
	e := newTestEngine(t, nil)
	tickAt(t, e, "100000", 0)

	events, err := e.OnBar(core.Bar{
		Time:  t0.Add(time.Minute),
		Open:  dec("100000"),
		High:  dec("102000"),
		Low:   dec("99000"),
		Close: dec("101500"),
	})
	if err != nil {
		t.Fatalf("OnBar() error = %v", err)
	}

	// Downswing first: buy at 99000, then the upswing lifts 100000, 101000,
	// 102000 in ascending order.
	wantLevels := []int{4, 5, 6, 7}
	wantSides := []core.Side{core.Buy, core.Sell, core.Sell, core.Sell}
	if len(events) != len(wantLevels) {
		t.Fatalf("events = %d, want %d", len(events), len(wantLevels))
	}
	for i, event := range events {
		if event.LevelIndex != wantLevels[i] || event.Side != wantSides[i] {
			t.Fatalf("event %d = %s at level %d, want %s at level %d",
				i, event.Side, event.LevelIndex, wantSides[i], wantLevels[i])
		}
	}
	// The sell at 100000 closed the 99000 buy.
	if events[1].RealizedPnL == nil {
		t.Fatalf("sell at level 5 should close the level 4 buy")
	}
}

func TestTakeProfitCancelsEverything(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) { cfg.TakeProfit = dec("104000") })
	tickAt(t, e, "100000", 0)

	events := tickAt(t, e, "104500", time.Minute)
	if len(events) != 0 {
		t.Fatalf("take profit tick produced %d fills, want 0", len(events))
	}
	if e.State() != StateStoppedTakeProfit {
		t.Fatalf("state = %s, want stopped_take_profit", e.State())
	}
	sum := e.Summary()
	if sum.OpenOrders != 0 {
		t.Fatalf("open orders after take profit = %d, want 0", sum.OpenOrders)
	}
	if sum.CanceledOrders != 10 {
		t.Fatalf("canceled orders = %d, want 10", sum.CanceledOrders)
	}
}

func TestStopLossCancelsEverything(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) { cfg.StopLoss = dec("94000") })
	tickAt(t, e, "100000", 0)

	if _, err := e.OnTick(core.Tick{Time: t0.Add(time.Minute), Price: dec("93500")}); err != nil {
		t.Fatalf("stop loss tick error = %v", err)
	}
	if e.State() != StateStoppedStopLoss {
		t.Fatalf("state = %s, want stopped_stop_loss", e.State())
	}
	if got := len(e.OpenOrders()); got != 0 {
		t.Fatalf("open orders = %d, want 0", got)
	}

	// Terminal state rejects everything afterwards.
	if _, err := e.OnTick(core.Tick{Time: t0.Add(2 * time.Minute), Price: dec("100000")}); !errors.Is(err, core.ErrEngineStopped) {
		t.Fatalf("post-stop tick error = %v, want ErrEngineStopped", err)
	}
	if _, err := e.OnBar(core.Bar{Time: t0, Open: dec("1"), High: dec("1"), Low: dec("1"), Close: dec("1")}); !errors.Is(err, core.ErrEngineStopped) {
		t.Fatalf("post-stop bar error = %v, want ErrEngineStopped", err)
	}
}

func TestTakeProfitWinsWhenBarHitsBothExits(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.TakeProfit = dec("104000")
		cfg.StopLoss = dec("94000")
	})
	tickAt(t, e, "100000", 0)

	_, err := e.OnBar(core.Bar{
		Time:  t0.Add(time.Minute),
		Open:  dec("100000"),
		High:  dec("104500"),
		Low:   dec("93500"),
		Close: dec("100000"),
	})
	if err != nil {
		t.Fatalf("OnBar() error = %v", err)
	}
	if e.State() != StateStoppedTakeProfit {
		t.Fatalf("state = %s, want stopped_take_profit", e.State())
	}
}

func TestUserStopLandsInStoppedNormal(t *testing.T) {
	e := newTestEngine(t, nil)
	tickAt(t, e, "100000", 0)

	sum, err := e.Stop(t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sum.State != StateStoppedNormal {
		t.Fatalf("state = %s, want stopped_normal", sum.State)
	}
	if sum.OpenOrders != 0 || sum.CanceledOrders != 10 {
		t.Fatalf("summary = %+v, want everything canceled", sum)
	}

	if _, err := e.Stop(t0.Add(2 * time.Minute)); !errors.Is(err, core.ErrEngineStopped) {
		t.Fatalf("second Stop() error = %v, want ErrEngineStopped", err)
	}
}

func TestInvalidObservationsDropThenTrip(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) { cfg.MaxBadObservations = 3 })
	tickAt(t, e, "100000", 0)

	for i := 0; i < 2; i++ {
		_, err := e.OnTick(core.Tick{Time: t0.Add(time.Minute), Price: dec("-1")})
		if !errors.Is(err, core.ErrInvalidPrice) {
			t.Fatalf("bad tick %d error = %v, want ErrInvalidPrice", i, err)
		}
		if e.State() != StateRunning {
			t.Fatalf("bad tick %d state = %s, want running", i, e.State())
		}
	}

	// A valid observation resets the consecutive counter.
	tickAt(t, e, "100100", 2*time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := e.OnTick(core.Tick{Time: t0.Add(3 * time.Minute), Price: decimal.Zero}); !errors.Is(err, core.ErrInvalidPrice) {
			t.Fatalf("bad tick error = %v, want ErrInvalidPrice", err)
		}
	}
	if e.State() != StateRunning {
		t.Fatalf("counter did not reset: state = %s", e.State())
	}

	// Third consecutive drop trips the breaker.
	if _, err := e.OnTick(core.Tick{Time: t0.Add(4 * time.Minute), Price: decimal.Zero}); !errors.Is(err, core.ErrInvalidPrice) {
		t.Fatalf("tripping tick error = %v, want ErrInvalidPrice", err)
	}
	if e.State() != StateStoppedError {
		t.Fatalf("state = %s, want stopped_error", e.State())
	}
	if got := len(e.OpenOrders()); got != 0 {
		t.Fatalf("open orders after trip = %d, want 0", got)
	}
}

func TestMalformedBarIsDropped(t *testing.T) {
	e := newTestEngine(t, nil)
	tickAt(t, e, "100000", 0)

	_, err := e.OnBar(core.Bar{
		Time:  t0.Add(time.Minute),
		Open:  dec("100000"),
		High:  dec("99000"), // high below low
		Low:   dec("100000"),
		Close: dec("99500"),
	})
	if !errors.Is(err, core.ErrInvalidPrice) {
		t.Fatalf("malformed bar error = %v, want ErrInvalidPrice", err)
	}
	if e.State() != StateRunning {
		t.Fatalf("state = %s, want running", e.State())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	levels, err := grid.Compute(dec("95000"), dec("105000"), 11, core.SpacingArithmetic)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero qty", Config{Levels: levels}},
		{"negative fee", Config{Levels: levels, Qty: decimal.NewFromInt(1), FeeRate: dec("-0.001")}},
		{"tp below sl", Config{Levels: levels, Qty: decimal.NewFromInt(1), TakeProfit: dec("90000"), StopLoss: dec("94000")}},
		{"no levels", Config{Qty: decimal.NewFromInt(1)}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Fatalf("%s: New() should fail", tc.name)
		}
	}
}
