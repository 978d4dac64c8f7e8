package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"gridbot/internal/engine"
	"gridbot/internal/journal"
)

// RunReport is everything the summary tables need about one finished run.
type RunReport struct {
	Symbol     string
	StartedAt  time.Time
	FinishedAt time.Time
	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
	Summary    engine.Summary
}

// Render writes the run summary table followed by the closed-trade table.
func Render(w io.Writer, report RunReport, fills []journal.Entry) {
	renderSummary(w, report)
	renderFills(w, fills)
}

func renderSummary(w io.Writer, report RunReport) {
	snap := report.Summary.Performance

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Run summary %s", report.Symbol)
	t.AppendRows([]table.Row{
		{"Final state", string(report.Summary.State)},
		{"Window", formatWindow(report.StartedAt, report.FinishedAt)},
		{"Start price", report.StartPrice.String()},
		{"End price", report.EndPrice.String()},
		{"Total trades", snap.TotalTrades},
		{"Wins / losses", formatWinLoss(snap.Wins, snap.Losses)},
		{"Realized pnl", snap.RealizedPnL.String()},
		{"Max drawdown", snap.MaxDrawdown.String()},
		{"Open positions", snap.OpenPositions},
		{"Canceled orders", report.Summary.CanceledOrders},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

func renderFills(w io.Writer, fills []journal.Entry) {
	if len(fills) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Time", "Side", "Level", "Price", "Qty", "Realized PnL"})
	for i, fill := range fills {
		pnl := ""
		if fill.RealizedPnL != nil {
			pnl = fill.RealizedPnL.String()
		}
		t.AppendRow(table.Row{
			i + 1,
			fill.Time.UTC().Format("2006-01-02 15:04:05"),
			string(fill.Side),
			fill.LevelIndex,
			fill.Price.String(),
			fill.Qty.String(),
			pnl,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
		{Name: "Qty", Align: text.AlignRight},
		{Name: "Realized PnL", Align: text.AlignRight},
	})
	t.Render()
}

func formatWindow(start, end time.Time) string {
	const layout = "2006-01-02 15:04"
	if start.IsZero() && end.IsZero() {
		return "-"
	}
	return start.UTC().Format(layout) + " .. " + end.UTC().Format(layout)
}

func formatWinLoss(wins, losses int) string {
	return fmt.Sprintf("%d / %d", wins, losses)
}
