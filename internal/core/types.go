package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type SpacingMode string

type OrderStatus string

type LevelStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	SpacingArithmetic SpacingMode = "arithmetic"
	SpacingGeometric  SpacingMode = "geometric"
)

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
)

const (
	LevelIdle                 LevelStatus = "idle"
	LevelOrderOpen            LevelStatus = "order_open"
	LevelFilledPendingCounter LevelStatus = "filled_pending_counter"
)

// Order is one resting grid order. EntryIndex/EntryPrice carry the cost basis
// of the paired fill that spawned it; EntryIndex is -1 for unpaired orders
// (the initial ladder placed at startup).
type Order struct {
	ID         string          `json:"id"`
	LevelIndex int             `json:"level_index"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	Status     OrderStatus     `json:"status"`
	EntryIndex int             `json:"entry_index"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
}

// TradeEvent is emitted once per fill. RealizedPnL is set only when the fill
// closes a position opened by a paired fill at an adjacent level.
type TradeEvent struct {
	LevelIndex  int
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Time        time.Time
	RealizedPnL *decimal.Decimal
}

type Tick struct {
	Time  time.Time
	Price decimal.Decimal
}

// Bar is one OHLCV candle. Low/High bound the price path inside the bar;
// Close is the last observation.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

type Rules struct {
	PriceTick decimal.Decimal `json:"price_tick"`
	QtyStep   decimal.Decimal `json:"qty_step"`
}
