package perf

import (
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// Tracker accumulates trade events from a single engine run. It is not safe
// for concurrent use; the engine loop is the only writer.
type Tracker struct {
	trades        int
	realized      decimal.Decimal
	peak          decimal.Decimal
	maxDrawdown   decimal.Decimal
	openPositions int
	wins          int
	losses        int
}

// Snapshot is the point-in-time view handed to reports and the engine's final
// summary. MaxDrawdown is the largest peak-to-trough fall of cumulative
// realized pnl, reported as a non-negative number.
type Snapshot struct {
	TotalTrades   int
	RealizedPnL   decimal.Decimal
	MaxDrawdown   decimal.Decimal
	OpenPositions int
	Wins          int
	Losses        int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record folds one fill into the running totals. A fill without realized pnl
// opens a position; a fill that carries pnl closes the paired one.
func (t *Tracker) Record(event core.TradeEvent) {
	t.trades++
	if event.RealizedPnL == nil {
		t.openPositions++
		return
	}
	if t.openPositions > 0 {
		t.openPositions--
	}
	pnl := *event.RealizedPnL
	t.realized = t.realized.Add(pnl)
	switch pnl.Sign() {
	case 1:
		t.wins++
	case -1:
		t.losses++
	}
	if t.realized.Cmp(t.peak) > 0 {
		t.peak = t.realized
	}
	if dd := t.peak.Sub(t.realized); dd.Cmp(t.maxDrawdown) > 0 {
		t.maxDrawdown = dd
	}
}

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		TotalTrades:   t.trades,
		RealizedPnL:   t.realized,
		MaxDrawdown:   t.maxDrawdown,
		OpenPositions: t.openPositions,
		Wins:          t.wins,
		Losses:        t.losses,
	}
}
