package orderbook

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/grid"
)

// Level is one slot of the ladder. The book never creates or destroys levels,
// it only moves them between idle, order_open and filled_pending_counter.
type Level struct {
	Index  int
	Price  decimal.Decimal
	Status core.LevelStatus
	Order  *core.Order
}

// Book owns all order records for one strategy run. Exactly one goroutine may
// drive it; fills must be recorded in the order prices actually moved.
type Book struct {
	levels      []Level
	anchor      int
	qty         decimal.Decimal
	feeRate     decimal.Decimal
	initialized bool
	closed      []core.Order
}

func New(levels grid.LevelSet, qty, feeRate decimal.Decimal) *Book {
	slots := make([]Level, levels.Count())
	for i := range slots {
		slots[i] = Level{Index: i, Price: levels.PriceAt(i), Status: core.LevelIdle}
	}
	return &Book{
		levels:  slots,
		anchor:  -1,
		qty:     qty,
		feeRate: feeRate,
	}
}

// Initialize opens the starting ladder around the first observed price: buys
// below, sells above. The level nearest the price is the anchor and stays
// idle, so market open never produces an instant fill.
func (b *Book) Initialize(currentPrice decimal.Decimal, ts time.Time) error {
	if b.initialized {
		return fmt.Errorf("order book already initialized")
	}
	nearest := b.nearestIndex(currentPrice)
	b.anchor = nearest
	for i := range b.levels {
		if i == nearest {
			continue
		}
		side := core.Buy
		if b.levels[i].Price.Cmp(currentPrice) > 0 {
			side = core.Sell
		}
		b.open(i, side, -1, decimal.Zero, ts)
	}
	b.initialized = true
	return nil
}

func (b *Book) Anchor() int { return b.anchor }

// RecordFill transitions a level's open order to filled, realizes pnl when the
// order closes a paired position, and opens the counter order at the adjacent
// level when that level is idle.
func (b *Book) RecordFill(levelIndex int, fillPrice decimal.Decimal, ts time.Time) (core.TradeEvent, error) {
	if levelIndex < 0 || levelIndex >= len(b.levels) {
		return core.TradeEvent{}, fmt.Errorf("%w: level %d out of range", core.ErrLevelNotPending, levelIndex)
	}
	level := &b.levels[levelIndex]
	if level.Status != core.LevelOrderOpen || level.Order == nil {
		return core.TradeEvent{}, fmt.Errorf("%w: level %d is %s", core.ErrLevelNotPending, levelIndex, level.Status)
	}

	ord := level.Order
	ord.Status = core.OrderFilled
	closedAt := ts
	ord.ClosedAt = &closedAt
	level.Order = nil
	level.Status = core.LevelFilledPendingCounter

	event := core.TradeEvent{
		LevelIndex: levelIndex,
		Side:       ord.Side,
		Price:      fillPrice,
		Qty:        ord.Qty,
		Time:       ts,
	}

	// A fill with a cost basis closes the pair: realize the spread net of
	// fees on both legs and release the entry level for the next cycle.
	if ord.EntryIndex >= 0 {
		pnl := b.realize(ord, fillPrice)
		event.RealizedPnL = &pnl
		entry := &b.levels[ord.EntryIndex]
		if entry.Status == core.LevelFilledPendingCounter {
			entry.Status = core.LevelIdle
		}
	}

	b.closed = append(b.closed, *ord)

	switch ord.Side {
	case core.Buy:
		if next := levelIndex + 1; next < len(b.levels) && b.levels[next].Status == core.LevelIdle {
			b.open(next, core.Sell, levelIndex, fillPrice, ts)
		}
	case core.Sell:
		if next := levelIndex - 1; next >= 0 && b.levels[next].Status == core.LevelIdle {
			b.open(next, core.Buy, levelIndex, fillPrice, ts)
		}
	}
	return event, nil
}

func (b *Book) realize(ord *core.Order, fillPrice decimal.Decimal) decimal.Decimal {
	var gross decimal.Decimal
	if ord.Side == core.Sell {
		gross = fillPrice.Sub(ord.EntryPrice).Mul(ord.Qty)
	} else {
		gross = ord.EntryPrice.Sub(fillPrice).Mul(ord.Qty)
	}
	fees := ord.EntryPrice.Add(fillPrice).Mul(ord.Qty).Mul(b.feeRate)
	return gross.Sub(fees)
}

// CancelAll closes every open order and returns the canceled records.
// Calling it again is a no-op: no level is order_open after the first pass.
func (b *Book) CancelAll(ts time.Time) []core.Order {
	canceled := make([]core.Order, 0)
	for i := range b.levels {
		level := &b.levels[i]
		if level.Status != core.LevelOrderOpen || level.Order == nil {
			continue
		}
		ord := level.Order
		ord.Status = core.OrderCanceled
		closedAt := ts
		ord.ClosedAt = &closedAt
		canceled = append(canceled, *ord)
		b.closed = append(b.closed, *ord)
		level.Order = nil
		level.Status = core.LevelIdle
	}
	return canceled
}

func (b *Book) open(index int, side core.Side, entryIndex int, entryPrice decimal.Decimal, ts time.Time) {
	level := &b.levels[index]
	ord := &core.Order{
		ID:         uuid.NewString(),
		LevelIndex: index,
		Side:       side,
		Price:      level.Price,
		Qty:        b.qty,
		Status:     core.OrderOpen,
		EntryIndex: entryIndex,
		EntryPrice: entryPrice,
		OpenedAt:   ts,
	}
	level.Order = ord
	level.Status = core.LevelOrderOpen
}

// LevelAt returns a copy of the slot, order included.
func (b *Book) LevelAt(index int) (Level, bool) {
	if index < 0 || index >= len(b.levels) {
		return Level{}, false
	}
	level := b.levels[index]
	if level.Order != nil {
		ord := *level.Order
		level.Order = &ord
	}
	return level, true
}

func (b *Book) Count() int { return len(b.levels) }

func (b *Book) OpenOrders() []core.Order {
	out := make([]core.Order, 0)
	for i := range b.levels {
		if b.levels[i].Status == core.LevelOrderOpen && b.levels[i].Order != nil {
			out = append(out, *b.levels[i].Order)
		}
	}
	return out
}

// ClosedOrders returns filled and canceled records in the order they closed.
func (b *Book) ClosedOrders() []core.Order {
	out := make([]core.Order, len(b.closed))
	copy(out, b.closed)
	return out
}

// CheckInvariants verifies the partition: every level is in exactly one
// status, order_open levels hold exactly one open order and no other level
// holds any.
func (b *Book) CheckInvariants() error {
	for i := range b.levels {
		level := &b.levels[i]
		switch level.Status {
		case core.LevelOrderOpen:
			if level.Order == nil {
				return fmt.Errorf("level %d is order_open without an order", i)
			}
			if level.Order.Status != core.OrderOpen {
				return fmt.Errorf("level %d holds a %s order", i, level.Order.Status)
			}
			if level.Order.LevelIndex != i {
				return fmt.Errorf("level %d holds an order for level %d", i, level.Order.LevelIndex)
			}
		case core.LevelIdle, core.LevelFilledPendingCounter:
			if level.Order != nil {
				return fmt.Errorf("level %d is %s but holds an order", i, level.Status)
			}
		default:
			return fmt.Errorf("level %d has unknown status %q", i, level.Status)
		}
	}
	return nil
}

func (b *Book) nearestIndex(price decimal.Decimal) int {
	best := 0
	bestDist := b.levels[0].Price.Sub(price).Abs()
	for i := 1; i < len(b.levels); i++ {
		dist := b.levels[i].Price.Sub(price).Abs()
		if dist.Cmp(bestDist) < 0 {
			best = i
			bestDist = dist
		}
	}
	return best
}
