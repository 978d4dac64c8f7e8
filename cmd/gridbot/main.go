package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"gridbot/internal/backtest"
	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/feed"
	"gridbot/internal/grid"
	"gridbot/internal/journal"
	"gridbot/internal/logger"
	"gridbot/internal/metrics"
	"gridbot/internal/report"
	"gridbot/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger.Init(cfg.Log)
	log := logger.S()
	metrics.Serve(cfg.Metrics.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, strings.ToLower(string(cfg.Mode)), cfg.Symbol)
	st, err := store.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	var fillJournal *journal.Journal
	if cfg.Journal.Path != "" {
		fillJournal, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			fatal(err.Error())
		}
		defer fillJournal.Close()
	}

	src, err := openFeed(cfg)
	if err != nil {
		fatal(err.Error())
	}
	defer src.Close()

	// Per-order quantity sizing may need the first traded price, so peek it
	// and replay it through the runner.
	first, err := src.Next()
	if err != nil {
		fatal(fmt.Sprintf("read first observation: %v", err))
	}
	qty := cfg.OrderQty(first.Price)
	if qty.Cmp(decimal.Zero) <= 0 {
		fatal(fmt.Sprintf("derived order qty %s at price %s is not positive", qty, first.Price))
	}

	eng, err := buildEngine(cfg, qty)
	if err != nil {
		fatal(err.Error())
	}
	log.Infow("starting",
		"mode", cfg.Mode,
		"symbol", cfg.Symbol,
		"levels", cfg.Grid.Levels,
		"spacing", cfg.Grid.Spacing,
		"order_qty", qty,
	)

	runner := &backtest.Runner{
		Symbol:  cfg.Symbol,
		Feed:    feed.Prepend(first, src),
		Engine:  eng,
		Store:   st,
		Journal: fillJournal,
		Log:     log,
	}
	result, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infow("run canceled", "symbol", cfg.Symbol, "state", eng.State())
		} else {
			fatal(err.Error())
		}
	}

	var fills []journal.Entry
	if fillJournal != nil {
		if fills, err = fillJournal.Fills(context.Background(), cfg.Symbol); err != nil {
			log.Warnw("journal read failed", "err", err)
		}
	}
	report.Render(os.Stdout, report.RunReport{
		Symbol:     cfg.Symbol,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		StartPrice: result.StartPrice,
		EndPrice:   result.EndPrice,
		Summary:    result.Summary,
	}, fills)
}

func openFeed(cfg config.Config) (feed.Feed, error) {
	switch cfg.Feed.Source {
	case config.FeedJSONL:
		return feed.NewJSONLFeed(cfg.Feed.DataPath)
	case config.FeedBinance:
		return feed.NewBinanceFeed(cfg.Feed.WSURL, cfg.Symbol)
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}

func buildEngine(cfg config.Config, qty decimal.Decimal) (*engine.Engine, error) {
	levels, err := grid.Compute(cfg.Grid.Bottom.Decimal, cfg.Grid.Top.Decimal, cfg.Grid.Levels, cfg.Grid.Spacing)
	if err != nil {
		return nil, err
	}
	levels, err = levels.Normalize(cfg.Rules.PriceTick.Decimal)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Levels:             levels,
		Qty:                qty,
		FeeRate:            cfg.Account.FeeRate.Decimal,
		TakeProfit:         cfg.Risk.TakeProfitPrice.Decimal,
		StopLoss:           cfg.Risk.StopLossPrice.Decimal,
		MaxBadObservations: cfg.Risk.MaxBadObservations,
		Log:                logger.S(),
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
