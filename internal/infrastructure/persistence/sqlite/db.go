package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is a sqlite database holding orders, trades and positions
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers, which makes Update transactions safe
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Orders returns the order repository
func (d *DB) Orders() *OrderRepository { return &OrderRepository{db: d.db} }

// Trades returns the trade repository
func (d *DB) Trades() *TradeRepository { return &TradeRepository{db: d.db} }

// Positions returns the position repository
func (d *DB) Positions() *PositionRepository { return &PositionRepository{db: d.db} }

func (d *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  client_order_id TEXT NOT NULL UNIQUE,
  exchange_order_id TEXT,
  instrument TEXT NOT NULL,
  side TEXT NOT NULL,
  type TEXT NOT NULL,
  trade_mode TEXT NOT NULL,
  position_side TEXT NOT NULL DEFAULT '',
  reduce_only INTEGER NOT NULL DEFAULT 0,
  price TEXT NOT NULL,
  size TEXT NOT NULL,
  filled_size TEXT NOT NULL,
  avg_fill_price TEXT NOT NULL,
  status TEXT NOT NULL,
  strategy_id TEXT NOT NULL DEFAULT '',
  signal_id TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  error_code TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  filled_at TEXT,
  cancelled_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_exchange_id ON orders(exchange_order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  instrument TEXT NOT NULL,
  side TEXT NOT NULL,
  price TEXT NOT NULL,
  size TEXT NOT NULL,
  fee TEXT NOT NULL,
  fee_currency TEXT NOT NULL DEFAULT '',
  strategy_id TEXT NOT NULL DEFAULT '',
  executed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  instrument TEXT NOT NULL,
  side TEXT NOT NULL,
  size TEXT NOT NULL,
  entry_price TEXT NOT NULL,
  avg_price TEXT NOT NULL,
  current_price TEXT NOT NULL,
  unrealized_pnl TEXT NOT NULL,
  realized_pnl TEXT NOT NULL,
  margin TEXT NOT NULL,
  leverage TEXT NOT NULL,
  strategy_id TEXT NOT NULL DEFAULT '',
  opened_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  closed_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_instrument ON positions(instrument, closed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// decoder parses text columns, keeping the first error
type decoder struct {
	err error
}

func (d *decoder) decimal(s string) decimal.Decimal {
	if d.err != nil || s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v
}

func (d *decoder) time(s string) time.Time {
	if d.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		d.err = fmt.Errorf("parse time %q: %w", s, err)
	}
	return t
}

func (d *decoder) timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := d.time(s.String)
	if d.err != nil {
		return nil
	}
	return &t
}

func (d *decoder) metadata(s string) map[string]string {
	m := map[string]string{}
	if d.err != nil || s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		d.err = fmt.Errorf("parse metadata: %w", err)
	}
	return m
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// where accumulates SQL conditions and their arguments
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func paging(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
