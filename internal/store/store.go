package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/logger"
)

// EngineSnapshot is the persisted view of one engine run, written after every
// batch of fills and on shutdown.
type EngineSnapshot struct {
	Symbol         string          `json:"symbol"`
	State          string          `json:"state"`
	LastPrice      decimal.Decimal `json:"last_price"`
	OpenOrders     []core.Order    `json:"open_orders"`
	CanceledOrders int             `json:"canceled_orders"`
	Trades         int             `json:"trades"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TradeRecord is the JSONL row for one fill.
type TradeRecord struct {
	Symbol      string           `json:"symbol"`
	LevelIndex  int              `json:"level_index"`
	Side        core.Side        `json:"side"`
	Price       decimal.Decimal  `json:"price"`
	Qty         decimal.Decimal  `json:"qty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	Time        time.Time        `json:"time"`
}

type Persister interface {
	SaveSnapshot(snapshot EngineSnapshot) error
	AppendTrade(symbol string, event core.TradeEvent) error
}

// Store keeps engine state under a single directory: a snapshot JSON that is
// replaced atomically, and per-day trade JSONL files that are only appended.
type Store struct {
	root string
	mu   sync.Mutex
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) SaveSnapshot(snapshot EngineSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	if snapshot.OpenOrders == nil {
		snapshot.OpenOrders = make([]core.Order, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.snapshotPath(), snapshot)
}

func (s *Store) LoadSnapshot() (EngineSnapshot, bool, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return EngineSnapshot{}, false, nil
		}
		return EngineSnapshot{}, false, err
	}
	var snapshot EngineSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

// AppendTrade writes one fill to the dated JSONL file for its day.
func (s *Store) AppendTrade(symbol string, event core.TradeEvent) error {
	ts := event.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	record := TradeRecord{
		Symbol:      symbol,
		LevelIndex:  event.LevelIndex,
		Side:        event.Side,
		Price:       event.Price,
		Qty:         event.Qty,
		RealizedPnL: event.RealizedPnL,
		Time:        ts,
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, "trades")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, ts.UTC().Format("2006-01-02")+".jsonl")
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadTrades returns all recorded fills across the dated files, oldest file
// first.
func (s *Store) ReadTrades() ([]TradeRecord, error) {
	dir := filepath.Join(s.root, "trades")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []TradeRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		for dec.More() {
			var record TradeRecord
			if err := dec.Decode(&record); err != nil {
				break
			}
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.root, "engine.json")
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	fsyncDirBestEffort(dir)
	return nil
}

// Best-effort directory fsync to improve rename durability across crashes.
func fsyncDirBestEffort(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		logger.S().Warnw("state dir fsync skipped", "dir", dir, "err", err)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.S().Warnw("state dir fsync failed", "dir", dir, "err", err)
	}
}
