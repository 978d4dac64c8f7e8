// Package backtest replays a recorded feed through the engine and fans the
// resulting fills out to the state store and the fill journal.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/feed"
	"gridbot/internal/journal"
	"gridbot/internal/metrics"
	"gridbot/internal/store"
)

// Result is what one completed replay produced.
type Result struct {
	Symbol       string
	StartedAt    time.Time
	FinishedAt   time.Time
	StartPrice   decimal.Decimal
	EndPrice     decimal.Decimal
	Observations int
	Dropped      int
	Summary      engine.Summary
}

// Runner drives one engine over one feed. Store and Journal are optional;
// when nil the corresponding sink is skipped.
type Runner struct {
	Symbol  string
	Feed    feed.Feed
	Engine  *engine.Engine
	Store   store.Persister
	Journal *journal.Journal
	Log     *zap.SugaredLogger
}

// Run consumes the feed until it is exhausted, the engine reaches a terminal
// state, or the context is canceled. A feed that runs dry with the engine
// still live ends the run with a normal stop.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Feed == nil || r.Engine == nil {
		return Result{}, errors.New("backtest runner needs a feed and an engine")
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var result Result
	result.Symbol = r.Symbol
	lastSeen := time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			r.finish(lastSeen)
			result.FinishedAt = lastSeen
			result.EndPrice = r.Engine.LastPrice()
			result.Summary = r.Engine.Summary()
			return result, ctx.Err()
		default:
		}

		obs, err := r.Feed.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read feed: %w", err)
		}

		result.Observations++
		lastSeen = obs.Time
		if result.StartedAt.IsZero() {
			result.StartedAt = obs.Time
			result.StartPrice = obs.Price
		}

		events, err := r.apply(obs)
		r.publish(events)
		if err != nil {
			if r.Engine.State().Terminal() {
				break
			}
			result.Dropped++
			metrics.IncDroppedObservation()
			log.Warnw("observation rejected", "time", obs.Time, "err", err)
			continue
		}
		if len(events) > 0 {
			r.saveSnapshot()
		}
		if r.Engine.State().Terminal() {
			break
		}
	}

	r.finish(lastSeen)
	result.FinishedAt = lastSeen
	result.EndPrice = r.Engine.LastPrice()
	result.Summary = r.Engine.Summary()

	log.Infow("backtest finished",
		"symbol", r.Symbol,
		"observations", result.Observations,
		"dropped", result.Dropped,
		"state", result.Summary.State,
		"trades", result.Summary.Performance.TotalTrades,
		"realized_pnl", result.Summary.Performance.RealizedPnL,
	)
	return result, nil
}

func (r *Runner) apply(obs feed.Observation) ([]core.TradeEvent, error) {
	if obs.Bar != nil {
		return r.Engine.OnBar(*obs.Bar)
	}
	return r.Engine.OnTick(core.Tick{Price: obs.Price, Time: obs.Time})
}

// publish pushes fills to the journal, the trade log and the metric series.
// Sink failures are logged, not fatal: the replay state lives in the engine.
func (r *Runner) publish(events []core.TradeEvent) {
	for _, event := range events {
		metrics.IncFill(string(event.Side))
		if r.Store != nil {
			if err := r.Store.AppendTrade(r.Symbol, event); err != nil {
				r.logSinkError("trade log append failed", err)
			}
		}
		if r.Journal != nil {
			if err := r.Journal.Append(context.Background(), r.Symbol, event); err != nil {
				r.logSinkError("journal append failed", err)
			}
		}
	}
	snap := r.Engine.Summary()
	metrics.SetRealizedPnL(snap.Performance.RealizedPnL.InexactFloat64())
	metrics.SetOpenOrders(snap.OpenOrders)
	metrics.SetEngineState(string(snap.State))
}

func (r *Runner) finish(ts time.Time) {
	if !r.Engine.State().Terminal() {
		if _, err := r.Engine.Stop(ts); err != nil {
			r.logSinkError("engine stop failed", err)
		}
	}
	metrics.SetEngineState(string(r.Engine.State()))
	r.saveSnapshot()
}

func (r *Runner) saveSnapshot() {
	if r.Store == nil {
		return
	}
	snap := r.Engine.Summary()
	err := r.Store.SaveSnapshot(store.EngineSnapshot{
		Symbol:         r.Symbol,
		State:          string(snap.State),
		LastPrice:      snap.LastPrice,
		OpenOrders:     r.Engine.OpenOrders(),
		CanceledOrders: snap.CanceledOrders,
		Trades:         snap.Performance.TotalTrades,
		RealizedPnL:    snap.Performance.RealizedPnL,
	})
	if err != nil {
		r.logSinkError("snapshot save failed", err)
	}
}

func (r *Runner) logSinkError(msg string, err error) {
	if r.Log != nil {
		r.Log.Warnw(msg, "symbol", r.Symbol, "err", err)
	}
}
