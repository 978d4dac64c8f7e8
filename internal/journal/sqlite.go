package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"gridbot/internal/core"
)

// Journal is the durable fill log. Prices are stored as strings to keep the
// decimal values exact.
type Journal struct {
	db *sql.DB
}

// Entry is one journaled fill as read back for reports.
type Entry struct {
	ID          int64
	Symbol      string
	LevelIndex  int
	Side        core.Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	RealizedPnL *decimal.Decimal
	Time        time.Time
}

func Open(dbPath string) (*Journal, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal at %s: %w", dbPath, err)
	}
	// The sqlite driver serializes access anyway; one connection avoids
	// SQLITE_BUSY churn under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		level_index INTEGER NOT NULL,
		side TEXT NOT NULL,
		price TEXT NOT NULL,
		qty TEXT NOT NULL,
		realized_pnl TEXT DEFAULT NULL,
		filled_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol_filled_at ON fills (symbol, filled_at);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one fill.
func (j *Journal) Append(ctx context.Context, symbol string, event core.TradeEvent) error {
	const query = `
	INSERT INTO fills (symbol, level_index, side, price, qty, realized_pnl, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var pnl sql.NullString
	if event.RealizedPnL != nil {
		pnl = sql.NullString{String: event.RealizedPnL.String(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, query,
		symbol, event.LevelIndex, string(event.Side),
		event.Price.String(), event.Qty.String(), pnl, event.Time.UTC())
	if err != nil {
		return fmt.Errorf("journal fill for %s: %w", symbol, err)
	}
	return nil
}

// Fills returns all journaled fills for a symbol in fill order.
func (j *Journal) Fills(ctx context.Context, symbol string) ([]Entry, error) {
	const query = `
	SELECT id, symbol, level_index, side, price, qty, realized_pnl, filled_at
	FROM fills WHERE symbol = ? ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query fills for %s: %w", symbol, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fills for %s: %w", symbol, err)
	}
	return entries, nil
}

// RealizedPnL sums the realized pnl of all journaled fills for a symbol.
func (j *Journal) RealizedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	entries, err := j.Fills(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, entry := range entries {
		if entry.RealizedPnL != nil {
			total = total.Add(*entry.RealizedPnL)
		}
	}
	return total, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry     Entry
		side      string
		price     string
		qty       string
		pnl       sql.NullString
		filledAt  time.Time
	)
	if err := rows.Scan(&entry.ID, &entry.Symbol, &entry.LevelIndex, &side, &price, &qty, &pnl, &filledAt); err != nil {
		return Entry{}, fmt.Errorf("scan fill: %w", err)
	}
	entry.Side = core.Side(side)
	entry.Time = filledAt

	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Entry{}, fmt.Errorf("fill price %q: %w", price, err)
	}
	entry.Price = parsed
	parsed, err = decimal.NewFromString(qty)
	if err != nil {
		return Entry{}, fmt.Errorf("fill qty %q: %w", qty, err)
	}
	entry.Qty = parsed
	if pnl.Valid {
		parsed, err = decimal.NewFromString(pnl.String)
		if err != nil {
			return Entry{}, fmt.Errorf("fill pnl %q: %w", pnl.String, err)
		}
		entry.RealizedPnL = &parsed
	}
	return entry, nil
}
