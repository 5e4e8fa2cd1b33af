package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

type TransactionRepository struct {
	d *DB
}

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

func NewTransactionRepository(d *DB) *TransactionRepository {
	return &TransactionRepository{d: d}
}

const txColumns = `transaction_hash,trading_contract_address,slippage_amount,relative_amount,symbol,status,trade_type,created_at,updated_at`

func (r *TransactionRepository) PersistTransaction(ctx context.Context, tx domain.TradingTransaction) error {
	_, err := r.d.db.ExecContext(ctx, `
INSERT INTO trading_transactions (`+txColumns+`)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(transaction_hash) DO UPDATE SET
  trading_contract_address=excluded.trading_contract_address,
  slippage_amount=excluded.slippage_amount,
  relative_amount=excluded.relative_amount,
  symbol=excluded.symbol,
  status=excluded.status,
  trade_type=excluded.trade_type,
  created_at=excluded.created_at,
  updated_at=excluded.updated_at
`, txArgs(tx)...)
	if err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.TransactionHash, err)
	}
	return nil
}

func (r *TransactionRepository) UpdateTransaction(ctx context.Context, tx domain.TradingTransaction) error {
	_, err := r.d.db.ExecContext(ctx, `
INSERT INTO trading_transactions (`+txColumns+`)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(transaction_hash) DO UPDATE SET
  trading_contract_address=excluded.trading_contract_address,
  slippage_amount=excluded.slippage_amount,
  relative_amount=excluded.relative_amount,
  symbol=excluded.symbol,
  status=excluded.status,
  trade_type=excluded.trade_type,
  updated_at=excluded.updated_at
`, txArgs(tx)...)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.TransactionHash, err)
	}
	return nil
}

func (r *TransactionRepository) UpdateTransactionStatus(ctx context.Context, hash domain.TransactionHash, status domain.TradeStatus, at time.Time) error {
	_, err := r.d.db.ExecContext(ctx, `
UPDATE trading_transactions SET status=?, updated_at=? WHERE transaction_hash=?
`, string(status), formatTime(at), hash.Value)
	if err != nil {
		return fmt.Errorf("update transaction status %s: %w", hash.Value, err)
	}
	return nil
}

func (r *TransactionRepository) GetTradingTransactions(ctx context.Context, id domain.AlgorithmID) ([]domain.TradingTransaction, error) {
	rows, err := r.d.db.QueryContext(ctx, `
SELECT `+txColumns+` FROM trading_transactions
WHERE trading_contract_address=? ORDER BY created_at DESC, transaction_hash DESC
`, id.PublicAddress)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (r *TransactionRepository) GetTransactionsPaginated(ctx context.Context, id domain.AlgorithmID, skip, limit int) ([]domain.TradingTransaction, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := r.d.db.QueryContext(ctx, `
SELECT `+txColumns+` FROM trading_transactions
WHERE trading_contract_address=? ORDER BY created_at DESC, transaction_hash DESC
LIMIT ? OFFSET ?
`, id.PublicAddress, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("page transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (r *TransactionRepository) GetTransactionCount(ctx context.Context, id domain.AlgorithmID) (int, error) {
	var n int
	err := r.d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trading_transactions WHERE trading_contract_address=?`, id.PublicAddress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *TransactionRepository) IsHealthy(ctx context.Context) bool {
	return r.d.ping(ctx)
}

func txArgs(tx domain.TradingTransaction) []any {
	var symbol sql.NullString
	if tx.Symbol != nil {
		symbol = sql.NullString{String: *tx.Symbol, Valid: true}
	}
	return []any{
		tx.TransactionHash, tx.TradingContractAddress,
		tx.SlippageAmount.String(), tx.RelativeAmount.String(),
		symbol, string(tx.Status), string(tx.TradeType),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	}
}

func scanTransactions(rows *sql.Rows) ([]domain.TradingTransaction, error) {
	defer rows.Close()

	out := []domain.TradingTransaction{}
	for rows.Next() {
		var (
			tx                 domain.TradingTransaction
			slippage, relative string
			symbol             sql.NullString
			status, tradeType  string
			created, updated   string
		)
		if err := rows.Scan(&tx.TransactionHash, &tx.TradingContractAddress, &slippage, &relative,
			&symbol, &status, &tradeType, &created, &updated); err != nil {
			return nil, err
		}
		var err error
		if tx.SlippageAmount, err = decimal.NewFromString(slippage); err != nil {
			return nil, fmt.Errorf("slippage of %s: %w", tx.TransactionHash, err)
		}
		if tx.RelativeAmount, err = decimal.NewFromString(relative); err != nil {
			return nil, fmt.Errorf("relative amount of %s: %w", tx.TransactionHash, err)
		}
		if symbol.Valid {
			s := symbol.String
			tx.Symbol = &s
		}
		tx.Status = domain.TradeStatus(status)
		tx.TradeType = domain.TradeType(tradeType)
		tx.CreatedAt = parseTime(created)
		tx.UpdatedAt = parseTime(updated)
		out = append(out, tx)
	}
	return out, rows.Err()
}
