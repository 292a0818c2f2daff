package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/chidi150c/tradeguard/internal/trade"
)

// Entry is one journaled trade leg.
type Entry struct {
	ID         int64            `json:"id"`
	OrderID    string           `json:"order_id"`
	Action     trade.Action     `json:"action"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	Amount     decimal.Decimal  `json:"amount"`
	Cost       decimal.Decimal  `json:"cost"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
	Unmatched  bool             `json:"unmatched"`
	TS         time.Time        `json:"ts"`
}

// Journal is an append-only SQLite log of executed trades, read by the ops
// server. Decimals are stored as TEXT so nothing is rounded.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "journal dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	// one writer; also keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  action TEXT NOT NULL,
  entry_price TEXT NOT NULL,
  amount TEXT NOT NULL,
  cost TEXT NOT NULL,
  profit TEXT,
  unmatched INTEGER NOT NULL DEFAULT 0,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts DESC);`,
	}
	for _, s := range stmts {
		if _, err := j.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "migrate journal")
		}
	}
	return nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Append stores one executed leg.
func (j *Journal) Append(ctx context.Context, r trade.Record, unmatched bool) error {
	var profit sql.NullString
	if r.Profit != nil {
		profit = sql.NullString{String: r.Profit.String(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (order_id, action, entry_price, amount, cost, profit, unmatched, ts)
VALUES (?,?,?,?,?,?,?,?)
`, r.OrderID, string(r.Action), r.EntryPrice.String(), r.Amount.String(), r.Cost.String(),
		profit, unmatched, r.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "insert trade")
	}
	return nil
}

// SetProfit records the profit attributed to a BUY once a SELL closes it.
func (j *Journal) SetProfit(ctx context.Context, orderID string, profit decimal.Decimal) error {
	_, err := j.db.ExecContext(ctx, `UPDATE trades SET profit=? WHERE order_id=? AND action=?`,
		profit.String(), orderID, string(trade.Buy))
	return errors.Wrap(err, "update profit")
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, order_id, action, entry_price, amount, cost, profit, unmatched, ts
FROM trades
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                               Entry
			action, price, amount, cost, ts string
			profit                          sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &action, &price, &amount, &cost, &profit, &e.Unmatched, &ts); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		e.Action = trade.Action(action)
		e.EntryPrice, _ = decimal.NewFromString(price)
		e.Amount, _ = decimal.NewFromString(amount)
		e.Cost, _ = decimal.NewFromString(cost)
		if profit.Valid {
			p, err := decimal.NewFromString(profit.String)
			if err == nil {
				e.Profit = &p
			}
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate trades")
}

// RealizedProfit sums every recorded profit.
func (j *Journal) RealizedProfit(ctx context.Context) (decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT profit FROM trades WHERE profit IS NOT NULL`)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query profit")
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, errors.Wrap(err, "scan profit")
		}
		if p, err := decimal.NewFromString(s); err == nil {
			total = total.Add(p)
		}
	}
	return total, errors.Wrap(rows.Err(), "iterate profit")
}
