// fetchklines downloads historical klines and writes them as per-day JSONL
// replay files compatible with the jsonl feed source.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gridbot/internal/core"
	"gridbot/internal/feed"
)

const (
	defaultRestURL = "https://api.binance.com"
	defaultOutDir  = "data/binance"
)

type barLine struct {
	Time     string `json:"time"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

func main() {
	var (
		restURL  string
		symbol   string
		interval string
		months   int
		startRaw string
		endRaw   string
		outDir   string
	)
	flag.StringVar(&restURL, "rest-url", defaultRestURL, "exchange REST base url")
	flag.StringVar(&symbol, "symbol", "BTCUSDT", "symbol, e.g. BTCUSDT")
	flag.StringVar(&interval, "interval", "1m", "kline interval, e.g. 1m/5m/15m/1h")
	flag.IntVar(&months, "months", 6, "how many months to fetch back from now")
	flag.StringVar(&startRaw, "start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	flag.StringVar(&endRaw, "end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.Parse()

	_ = godotenv.Load()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.TrimSpace(interval)
	if symbol == "" || interval == "" {
		fatal("symbol and interval are required")
	}
	start, end, err := resolveWindow(months, startRaw, endRaw)
	if err != nil {
		fatal(err.Error())
	}

	client := feed.NewHistoryClient(restURL, os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
	fmt.Printf("fetching symbol=%s interval=%s from=%s to=%s\n",
		symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339))

	bars, err := client.KlinesRange(context.Background(), symbol, interval, start, end)
	if err != nil {
		fatal(err.Error())
	}
	if len(bars) == 0 {
		fatal("no klines in the requested window")
	}

	targetDir := filepath.Join(outDir, symbol, interval)
	written, err := writeBars(targetDir, symbol, interval, bars)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("done: records=%d output=%s\n", written, targetDir)
}

// writeBars splits the bars into per-day files so replays can start at any
// date boundary.
func writeBars(root, symbol, interval string, bars []core.Bar) (int, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}
	var (
		current     *os.File
		currentDate string
		written     int
	)
	closeCurrent := func() error {
		if current == nil {
			return nil
		}
		if err := current.Sync(); err != nil {
			_ = current.Close()
			return err
		}
		err := current.Close()
		current = nil
		return err
	}
	defer closeCurrent()

	for _, bar := range bars {
		ts := bar.Time.UTC()
		date := ts.Format("2006-01-02")
		if date != currentDate {
			if err := closeCurrent(); err != nil {
				return written, err
			}
			f, err := os.OpenFile(filepath.Join(root, date+".jsonl"),
				os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return written, err
			}
			current = f
			currentDate = date
		}
		line, err := json.Marshal(barLine{
			Time:     ts.Format(time.RFC3339),
			Symbol:   symbol,
			Interval: interval,
			Open:     bar.Open.String(),
			High:     bar.High.String(),
			Low:      bar.Low.String(),
			Close:    bar.Close.String(),
			Volume:   bar.Volume.String(),
		})
		if err != nil {
			return written, err
		}
		if _, err := current.Write(append(line, '\n')); err != nil {
			return written, err
		}
		written++
	}
	return written, closeCurrent()
}

func resolveWindow(months int, startRaw, endRaw string) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		if months < 1 {
			return time.Time{}, time.Time{}, errors.New("months must be >= 1")
		}
		end := time.Now().UTC()
		return end.AddDate(0, -months, 0), end, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be provided together")
	}
	start, startDateOnly, err := parseRangeTime(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, endDateOnly, err := parseRangeTime(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if startDateOnly {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}
	if endDateOnly {
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start.UTC(), end.UTC(), nil
}

func parseRangeTime(raw string) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, errors.New("empty")
	}
	if len(raw) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
