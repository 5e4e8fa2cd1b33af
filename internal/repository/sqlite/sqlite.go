// Package sqlite stores trading transactions and the algorithm registry in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// DB is the shared handle for the sqlite repositories.
type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer keeps sqlite free of SQLITE_BUSY
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ping(ctx context.Context) bool {
	return d.db.PingContext(ctx) == nil
}

func (d *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS algorithms (
  trading_contract_address TEXT PRIMARY KEY,
  controller_wallet_address TEXT NOT NULL,
  trading_contract_version TEXT NOT NULL,
  chain_id TEXT NOT NULL,
  disabled INTEGER NOT NULL DEFAULT 0,
  hashed_password TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_algorithms_controller ON algorithms(controller_wallet_address);`,
		`
CREATE TABLE IF NOT EXISTS trading_transactions (
  transaction_hash TEXT PRIMARY KEY,
  trading_contract_address TEXT NOT NULL,
  slippage_amount TEXT NOT NULL,
  relative_amount TEXT NOT NULL,
  symbol TEXT,
  status TEXT NOT NULL,
  trade_type TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trading_transactions_contract_created ON trading_transactions(trading_contract_address, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
