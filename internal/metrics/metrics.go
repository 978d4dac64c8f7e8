// Package metrics exposes the engine's Prometheus series:
//   - grid_fills_total{side}          – fills recorded by the engine
//   - grid_realized_pnl               – cumulative realized pnl (gauge)
//   - grid_open_orders                – resting orders on the ladder (gauge)
//   - grid_dropped_observations_total – invalid observations dropped
//   - grid_engine_state{state}        – engine lifecycle indicator (0/1 per state)
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridbot/internal/logger"
)

var (
	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_fills_total",
			Help: "Fills recorded by the engine",
		},
		[]string{"side"}, // BUY|SELL
	)

	realizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_realized_pnl",
			Help: "Cumulative realized pnl in quote units",
		},
	)

	openOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_open_orders",
			Help: "Resting orders currently on the ladder",
		},
	)

	droppedObservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grid_dropped_observations_total",
			Help: "Price observations dropped as invalid",
		},
	)

	// One labeled series per state, flipped between 0/1 to keep dashboards
	// simple.
	engineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_engine_state",
			Help: "Engine lifecycle indicator (one labeled series per state)",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(fills, realizedPnL, openOrders)
	prometheus.MustRegister(droppedObservations, engineState)
}

func IncFill(side string)      { fills.WithLabelValues(side).Inc() }
func SetRealizedPnL(v float64) { realizedPnL.Set(v) }
func SetOpenOrders(n int)      { openOrders.Set(float64(n)) }
func IncDroppedObservation()   { droppedObservations.Inc() }

var knownStates = []string{
	"initializing", "running",
	"stopped_normal", "stopped_take_profit", "stopped_stop_loss", "stopped_error",
}

func SetEngineState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		engineState.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr in a background goroutine. An empty addr
// disables the listener.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.S().Warnw("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
}
