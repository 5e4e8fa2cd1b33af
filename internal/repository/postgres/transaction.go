package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

// TransactionStore implements repository.TransactionRepository.
type TransactionStore struct {
	pool *Pool
}

var _ repository.TransactionRepository = (*TransactionStore)(nil)

func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const selectTransactions = `
	SELECT transaction_hash, trading_contract_address, slippage_amount::text, relative_amount::text,
	       symbol, status, trade_type, created_at, updated_at
	FROM trading_transactions
	WHERE trading_contract_address = $1
	ORDER BY created_at DESC, transaction_hash DESC
`

func (s *TransactionStore) PersistTransaction(ctx context.Context, t domain.TradingTransaction) error {
	query := `
		INSERT INTO trading_transactions (
			transaction_hash, trading_contract_address, slippage_amount, relative_amount,
			symbol, status, trade_type, created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_hash) DO UPDATE SET
			trading_contract_address = EXCLUDED.trading_contract_address,
			slippage_amount = EXCLUDED.slippage_amount,
			relative_amount = EXCLUDED.relative_amount,
			symbol = EXCLUDED.symbol,
			status = EXCLUDED.status,
			trade_type = EXCLUDED.trade_type,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, txArgs(t)...); err != nil {
		return fmt.Errorf("persist transaction %s: %w", t.TransactionHash, err)
	}
	return nil
}

func (s *TransactionStore) UpdateTransaction(ctx context.Context, t domain.TradingTransaction) error {
	query := `
		INSERT INTO trading_transactions (
			transaction_hash, trading_contract_address, slippage_amount, relative_amount,
			symbol, status, trade_type, created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_hash) DO UPDATE SET
			trading_contract_address = EXCLUDED.trading_contract_address,
			slippage_amount = EXCLUDED.slippage_amount,
			relative_amount = EXCLUDED.relative_amount,
			symbol = EXCLUDED.symbol,
			status = EXCLUDED.status,
			trade_type = EXCLUDED.trade_type,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, txArgs(t)...); err != nil {
		return fmt.Errorf("update transaction %s: %w", t.TransactionHash, err)
	}
	return nil
}

func (s *TransactionStore) UpdateTransactionStatus(ctx context.Context, hash domain.TransactionHash, status domain.TradeStatus, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trading_transactions SET status = $2, updated_at = $3 WHERE transaction_hash = $1
	`, hash.Value, string(status), at)
	if err != nil {
		return fmt.Errorf("update transaction status %s: %w", hash.Value, err)
	}
	return nil
}

func (s *TransactionStore) GetTradingTransactions(ctx context.Context, id domain.AlgorithmID) ([]domain.TradingTransaction, error) {
	rows, err := s.pool.Query(ctx, selectTransactions, id.PublicAddress)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (s *TransactionStore) GetTransactionsPaginated(ctx context.Context, id domain.AlgorithmID, skip, limit int) ([]domain.TradingTransaction, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, selectTransactions+` LIMIT $2 OFFSET $3`, id.PublicAddress, limitArg, skip)
	if err != nil {
		return nil, fmt.Errorf("page transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (s *TransactionStore) GetTransactionCount(ctx context.Context, id domain.AlgorithmID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trading_transactions WHERE trading_contract_address = $1`, id.PublicAddress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *TransactionStore) IsHealthy(ctx context.Context) bool {
	return s.pool.healthy(ctx)
}

func txArgs(t domain.TradingTransaction) []any {
	return []any{
		t.TransactionHash, t.TradingContractAddress,
		t.SlippageAmount.String(), t.RelativeAmount.String(),
		t.Symbol, string(t.Status), string(t.TradeType),
		t.CreatedAt, t.UpdatedAt,
	}
}

func scanTransactions(rows pgx.Rows) ([]domain.TradingTransaction, error) {
	defer rows.Close()

	out := []domain.TradingTransaction{}
	for rows.Next() {
		var (
			t                  domain.TradingTransaction
			slippage, relative string
			status, tradeType  string
		)
		if err := rows.Scan(&t.TransactionHash, &t.TradingContractAddress, &slippage, &relative,
			&t.Symbol, &status, &tradeType, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		var err error
		if t.SlippageAmount, err = decimal.NewFromString(slippage); err != nil {
			return nil, fmt.Errorf("slippage of %s: %w", t.TransactionHash, err)
		}
		if t.RelativeAmount, err = decimal.NewFromString(relative); err != nil {
			return nil, fmt.Errorf("relative amount of %s: %w", t.TransactionHash, err)
		}
		t.Status = domain.TradeStatus(status)
		t.TradeType = domain.TradeType(tradeType)
		out = append(out, t)
	}
	return out, rows.Err()
}
