package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/internal/core"
	"gridbot/internal/grid"
	"gridbot/internal/orderbook"
	"gridbot/internal/perf"
)

// State is the engine lifecycle. The three stopped_* states and
// stopped_normal are terminal: once entered, every observation is rejected
// with ErrEngineStopped.
type State string

const (
	StateInitializing      State = "initializing"
	StateRunning           State = "running"
	StateStoppedNormal     State = "stopped_normal"
	StateStoppedTakeProfit State = "stopped_take_profit"
	StateStoppedStopLoss   State = "stopped_stop_loss"
	StateStoppedError      State = "stopped_error"
)

// Terminal reports whether the state accepts no further observations.
func (s State) Terminal() bool {
	switch s {
	case StateStoppedNormal, StateStoppedTakeProfit, StateStoppedStopLoss, StateStoppedError:
		return true
	default:
		return false
	}
}

const defaultMaxBadObservations = 5

type Config struct {
	Levels  grid.LevelSet
	Qty     decimal.Decimal
	FeeRate decimal.Decimal

	// TakeProfit and StopLoss are disabled when zero.
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal

	// MaxBadObservations is the number of consecutive invalid observations
	// tolerated before the engine trips stopped_error. Zero means the default.
	MaxBadObservations int

	Log *zap.SugaredLogger
}

// Summary is the terminal report: where the engine ended up and what the run
// produced. It is also available mid-run for status display.
type Summary struct {
	State          State
	LastPrice      decimal.Decimal
	StoppedAt      time.Time
	OpenOrders     int
	CanceledOrders int
	Performance    perf.Snapshot
}

// Engine drives one grid strategy run. It decides fills from observed prices;
// it never initiates order I/O itself. Not safe for concurrent use.
type Engine struct {
	levels    grid.LevelSet
	book      *orderbook.Book
	tracker   *perf.Tracker
	log       *zap.SugaredLogger
	state     State
	tp        decimal.Decimal
	sl        decimal.Decimal
	maxBadObs int
	badObs    int
	lastPrice decimal.Decimal
	stoppedAt time.Time
	canceled  int
}

func New(cfg Config) (*Engine, error) {
	if cfg.Levels.Count() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 levels", core.ErrInvalidRange)
	}
	if cfg.Qty.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("order qty must be > 0, got %s", cfg.Qty)
	}
	if cfg.FeeRate.Cmp(decimal.Zero) < 0 {
		return nil, fmt.Errorf("fee rate must be >= 0, got %s", cfg.FeeRate)
	}
	if cfg.TakeProfit.Cmp(decimal.Zero) > 0 && cfg.StopLoss.Cmp(decimal.Zero) > 0 &&
		cfg.TakeProfit.Cmp(cfg.StopLoss) <= 0 {
		return nil, fmt.Errorf("%w: take profit %s must be above stop loss %s",
			core.ErrInvalidRange, cfg.TakeProfit, cfg.StopLoss)
	}
	maxBad := cfg.MaxBadObservations
	if maxBad <= 0 {
		maxBad = defaultMaxBadObservations
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		levels:    cfg.Levels,
		book:      orderbook.New(cfg.Levels, cfg.Qty, cfg.FeeRate),
		tracker:   perf.NewTracker(),
		log:       log,
		state:     StateInitializing,
		tp:        cfg.TakeProfit,
		sl:        cfg.StopLoss,
		maxBadObs: maxBad,
	}, nil
}

func (e *Engine) State() State { return e.state }

func (e *Engine) LastPrice() decimal.Decimal { return e.lastPrice }

// OnTick applies one price observation: exit checks first, then fills for
// every level the move from the previous price crossed, in price order.
func (e *Engine) OnTick(tick core.Tick) ([]core.TradeEvent, error) {
	if e.terminal() {
		return nil, core.ErrEngineStopped
	}
	if err := core.ValidatePrice(tick.Price); err != nil {
		return nil, e.observeBad(tick.Time, fmt.Errorf("%w: tick price %s", err, tick.Price))
	}
	e.badObs = 0

	if e.checkExits(tick.Price, tick.Price, tick.Time) {
		return nil, nil
	}
	if e.state == StateInitializing {
		e.start(tick.Price, tick.Time)
		return nil, nil
	}
	return e.sweep(tick.Price, tick.Time)
}

// OnBar applies one OHLC observation. The intra-bar path is decomposed into
// prev→low, low→high, high→close so a bar that swings both ways fills both
// sides, each segment in strict price order.
func (e *Engine) OnBar(bar core.Bar) ([]core.TradeEvent, error) {
	if e.terminal() {
		return nil, core.ErrEngineStopped
	}
	if err := validateBar(bar); err != nil {
		return nil, e.observeBad(bar.Time, err)
	}
	e.badObs = 0

	if e.checkExits(bar.High, bar.Low, bar.Time) {
		return nil, nil
	}
	if e.state == StateInitializing {
		e.start(bar.Open, bar.Time)
	}

	var events []core.TradeEvent
	for _, target := range []decimal.Decimal{bar.Low, bar.High, bar.Close} {
		segment, err := e.sweep(target, bar.Time)
		events = append(events, segment...)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// Stop is the user-initiated shutdown: cancel everything and land in
// stopped_normal.
func (e *Engine) Stop(ts time.Time) (Summary, error) {
	if e.terminal() {
		return e.Summary(), core.ErrEngineStopped
	}
	e.shutdown(StateStoppedNormal, ts)
	return e.Summary(), nil
}

func (e *Engine) Summary() Summary {
	return Summary{
		State:          e.state,
		LastPrice:      e.lastPrice,
		StoppedAt:      e.stoppedAt,
		OpenOrders:     len(e.book.OpenOrders()),
		CanceledOrders: e.canceled,
		Performance:    e.tracker.Snapshot(),
	}
}

// ClosedOrders exposes the book's fill and cancel history for reports.
func (e *Engine) ClosedOrders() []core.Order {
	return e.book.ClosedOrders()
}

func (e *Engine) OpenOrders() []core.Order {
	return e.book.OpenOrders()
}

func (e *Engine) terminal() bool { return e.state.Terminal() }

func (e *Engine) start(price decimal.Decimal, ts time.Time) {
	// Initialize cannot fail here: the engine owns the book and this is the
	// only call site.
	if err := e.book.Initialize(price, ts); err != nil {
		e.log.Errorw("order book bootstrap failed", "err", err)
	}
	e.lastPrice = price
	e.state = StateRunning
	e.log.Infow("grid initialized",
		"price", price,
		"levels", e.levels.Count(),
		"open_orders", len(e.book.OpenOrders()),
	)
}

// checkExits returns true when a protective exit fired. Take profit is
// checked before stop loss.
func (e *Engine) checkExits(high, low decimal.Decimal, ts time.Time) bool {
	if e.tp.Cmp(decimal.Zero) > 0 && high.Cmp(e.tp) >= 0 {
		e.lastPrice = high
		e.shutdown(StateStoppedTakeProfit, ts)
		return true
	}
	if e.sl.Cmp(decimal.Zero) > 0 && low.Cmp(e.sl) <= 0 {
		e.lastPrice = low
		e.shutdown(StateStoppedStopLoss, ts)
		return true
	}
	return false
}

// sweep fills every order_open level between the previous price and target,
// in traversal order. Levels without an open order (the anchor, levels
// already pending their counter) are passed over.
func (e *Engine) sweep(target decimal.Decimal, ts time.Time) ([]core.TradeEvent, error) {
	crossed := e.levels.CrossedBetween(e.lastPrice, target)
	e.lastPrice = target
	var events []core.TradeEvent
	for _, idx := range crossed {
		level, ok := e.book.LevelAt(idx)
		if !ok || level.Status != core.LevelOrderOpen {
			continue
		}
		event, err := e.book.RecordFill(idx, level.Price, ts)
		if err != nil {
			e.shutdown(StateStoppedError, ts)
			return events, fmt.Errorf("fill at level %d: %w", idx, err)
		}
		e.tracker.Record(event)
		events = append(events, event)
		e.logFill(event)
	}
	return events, nil
}

func (e *Engine) logFill(event core.TradeEvent) {
	if event.RealizedPnL != nil {
		e.log.Infow("grid fill",
			"side", event.Side,
			"level", event.LevelIndex,
			"price", event.Price,
			"qty", event.Qty,
			"realized_pnl", event.RealizedPnL,
		)
		return
	}
	e.log.Infow("grid fill",
		"side", event.Side,
		"level", event.LevelIndex,
		"price", event.Price,
		"qty", event.Qty,
	)
}

func (e *Engine) observeBad(ts time.Time, cause error) error {
	e.badObs++
	e.log.Warnw("observation dropped", "err", cause, "consecutive", e.badObs)
	if e.badObs >= e.maxBadObs {
		e.shutdown(StateStoppedError, ts)
		return fmt.Errorf("%d consecutive invalid observations: %w", e.badObs, cause)
	}
	return cause
}

func (e *Engine) shutdown(state State, ts time.Time) {
	canceled := e.book.CancelAll(ts)
	e.canceled += len(canceled)
	e.state = state
	e.stoppedAt = ts
	snap := e.tracker.Snapshot()
	e.log.Infow("engine stopped",
		"state", state,
		"last_price", e.lastPrice,
		"canceled_orders", len(canceled),
		"trades", snap.TotalTrades,
		"realized_pnl", snap.RealizedPnL,
		"max_drawdown", snap.MaxDrawdown,
		"open_positions", snap.OpenPositions,
	)
}

func validateBar(bar core.Bar) error {
	for _, p := range []decimal.Decimal{bar.Open, bar.High, bar.Low, bar.Close} {
		if err := core.ValidatePrice(p); err != nil {
			return fmt.Errorf("%w: bar %s", err, bar.Time.Format(time.RFC3339))
		}
	}
	if bar.Low.Cmp(bar.High) > 0 {
		return fmt.Errorf("%w: bar low %s above high %s", core.ErrInvalidPrice, bar.Low, bar.High)
	}
	if bar.Open.Cmp(bar.Low) < 0 || bar.Open.Cmp(bar.High) > 0 ||
		bar.Close.Cmp(bar.Low) < 0 || bar.Close.Cmp(bar.High) > 0 {
		return fmt.Errorf("%w: bar open/close outside low/high", core.ErrInvalidPrice)
	}
	return nil
}
