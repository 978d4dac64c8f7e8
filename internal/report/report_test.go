package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/journal"
	"gridbot/internal/perf"
)

func TestRenderIncludesSummaryAndFills(t *testing.T) {
	pnl := decimal.RequireFromString("801")
	var buf bytes.Buffer
	Render(&buf, RunReport{
		Symbol:     "BTCUSDT",
		StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		StartPrice: decimal.RequireFromString("100000"),
		EndPrice:   decimal.RequireFromString("100200"),
		Summary: engine.Summary{
			State:          engine.StateStoppedNormal,
			CanceledOrders: 10,
			Performance: perf.Snapshot{
				TotalTrades: 2,
				RealizedPnL: pnl,
				Wins:        1,
			},
		},
	}, []journal.Entry{
		{
			Symbol:     "BTCUSDT",
			LevelIndex: 4,
			Side:       core.Buy,
			Price:      decimal.RequireFromString("99000"),
			Qty:        decimal.RequireFromString("0.01"),
			Time:       time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		},
		{
			Symbol:      "BTCUSDT",
			LevelIndex:  5,
			Side:        core.Sell,
			Price:       decimal.RequireFromString("100000"),
			Qty:         decimal.RequireFromString("0.01"),
			RealizedPnL: &pnl,
			Time:        time.Date(2025, 6, 1, 12, 20, 0, 0, time.UTC),
		},
	})

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, string(engine.StateStoppedNormal))
	assert.Contains(t, out, "801")
	assert.Contains(t, out, "99000")
	assert.Contains(t, out, "1 / 0")
}

func TestRenderSkipsEmptyFillTable(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, RunReport{Symbol: "ETHUSDT", Summary: engine.Summary{State: engine.StateStoppedNormal}}, nil)

	assert.Contains(t, buf.String(), "ETHUSDT")
	assert.NotContains(t, buf.String(), "QTY", "fill table header should be absent with no fills")
}
