package feed

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// JSONLFeed replays observations from newline-delimited JSON files. A path
// may be a single file or a directory of .jsonl files consumed in name order.
// Rows with open/high/low/close become bars; rows with just a price become
// ticks; rows that parse to neither are skipped.
type JSONLFeed struct {
	paths   []string
	index   int
	file    *os.File
	scanner *bufio.Scanner
}

func NewJSONLFeed(path string) (*JSONLFeed, error) {
	paths, err := resolveJSONLPaths(path)
	if err != nil {
		return nil, err
	}
	feed := &JSONLFeed{paths: paths}
	if err := feed.openCurrent(); err != nil {
		return nil, err
	}
	return feed, nil
}

func (f *JSONLFeed) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.scanner = nil
	return err
}

func (f *JSONLFeed) Next() (Observation, error) {
	for {
		if f.scanner == nil {
			if err := f.openCurrent(); err != nil {
				return Observation{}, err
			}
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return Observation{}, err
			}
			_ = f.Close()
			f.index++
			if f.index >= len(f.paths) {
				return Observation{}, io.EOF
			}
			continue
		}
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" {
			continue
		}
		obs, ok := parseLine(line)
		if !ok {
			continue
		}
		return obs, nil
	}
}

func parseLine(line string) (Observation, bool) {
	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Observation{}, false
	}

	ts, ok := timeField(raw, "time", "timestamp", "ts", "t")
	if !ok {
		return Observation{}, false
	}

	open, hasOpen := decimalField(raw, "open", "o")
	high, hasHigh := decimalField(raw, "high", "h")
	low, hasLow := decimalField(raw, "low", "l")
	closePrice, hasClose := decimalField(raw, "close", "c")
	if hasOpen && hasHigh && hasLow && hasClose {
		bar := &core.Bar{
			Time:  ts,
			Open:  open,
			High:  high,
			Low:   low,
			Close: closePrice,
		}
		if volume, hasVolume := decimalField(raw, "volume", "v"); hasVolume {
			bar.Volume = volume
		}
		return Observation{Time: ts, Price: closePrice, Bar: bar}, true
	}

	price, hasPrice := decimalField(raw, "price", "close", "p")
	if !hasPrice {
		return Observation{}, false
	}
	return Observation{Time: ts, Price: price}, true
}

func (f *JSONLFeed) openCurrent() error {
	if f.index >= len(f.paths) {
		return io.EOF
	}
	file, err := os.Open(f.paths[f.index])
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)
	f.file = file
	f.scanner = scanner
	return nil
}

func resolveJSONLPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(path, name))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.New("no jsonl files found in directory")
	}
	return paths, nil
}

func timeField(m map[string]interface{}, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return parseTimeString(t)
		case json.Number:
			if iv, err := t.Int64(); err == nil {
				return parseTimeNumber(iv), true
			}
			if fv, err := t.Float64(); err == nil {
				return parseTimeNumber(int64(fv)), true
			}
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

func parseTimeString(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if allDigits(raw) {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return parseTimeNumber(v), true
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTimeNumber(v int64) time.Time {
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

func decimalField(m map[string]interface{}, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			dec, err := decimal.NewFromString(t.String())
			if err != nil {
				return decimal.Zero, false
			}
			return dec, true
		case string:
			trimmed := strings.TrimSpace(t)
			if trimmed == "" {
				return decimal.Zero, false
			}
			dec, err := decimal.NewFromString(trimmed)
			if err != nil {
				return decimal.Zero, false
			}
			return dec, true
		}
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var _ Feed = (*JSONLFeed)(nil)
