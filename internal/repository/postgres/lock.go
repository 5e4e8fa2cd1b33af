package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

// LockStore implements repository.LockRepository with lease rows.
type LockStore struct {
	pool *Pool
	ttl  time.Duration
}

var _ repository.LockRepository = (*LockStore)(nil)

func NewLockStore(pool *Pool, ttl time.Duration) *LockStore {
	return &LockStore{pool: pool, ttl: ttl}
}

func (s *LockStore) ttlMillis() float64 {
	return float64(s.ttl.Milliseconds())
}

// GetAlgorithmLock inserts the lease row, or takes over an expired one. Zero returned rows
// means a live lease exists. Taking a fresh lease clears the previous holder's transaction
// row in the same transaction.
func (s *LockStore) GetAlgorithmLock(ctx context.Context, id domain.AlgorithmID, symbol string) (domain.LockResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO algorithm_locks (lock_key, expires_at)
		VALUES ($1, now() + $2::double precision * interval '1 millisecond')
		ON CONFLICT (lock_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE algorithm_locks.expires_at <= now()
		RETURNING lock_key
	`
	txKey := repository.TransactionKey(id, symbol)
	var key string
	err = tx.QueryRow(ctx, query, repository.LockKey(id, symbol), s.ttlMillis()).Scan(&key)
	if err == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM algorithm_transactions WHERE tx_key = $1`, txKey); err != nil {
			return domain.LockResult{}, fmt.Errorf("clear algorithm transaction %s/%s: %w", id, symbol, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.LockResult{}, fmt.Errorf("commit algorithm lock %s/%s: %w", id, symbol, err)
		}
		return domain.NewLock(id, symbol), nil
	}
	if !isNotFoundError(err) {
		return domain.LockResult{}, fmt.Errorf("get algorithm lock %s/%s: %w", id, symbol, err)
	}

	var hash string
	err = tx.QueryRow(ctx, `
		SELECT transaction_hash FROM algorithm_transactions
		WHERE tx_key = $1 AND expires_at > now()
	`, txKey).Scan(&hash)
	switch {
	case err == nil:
		return domain.HeldLock(id, symbol, &domain.TransactionHash{Value: hash}), nil
	case isNotFoundError(err):
		return domain.HeldLock(id, symbol, nil), nil
	default:
		return domain.LockResult{}, fmt.Errorf("get algorithm transaction %s/%s: %w", id, symbol, err)
	}
}

func (s *LockStore) PersistAlgorithmTransaction(ctx context.Context, tx domain.AlgorithmTransaction, symbol string) (domain.AlgorithmIsLocked, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO algorithm_transactions (tx_key, transaction_hash, expires_at)
		VALUES ($1, $2, now() + $3::double precision * interval '1 millisecond')
		ON CONFLICT (tx_key) DO UPDATE
		SET transaction_hash = EXCLUDED.transaction_hash, expires_at = EXCLUDED.expires_at
	`, repository.TransactionKey(tx.AlgorithmID, symbol), tx.TransactionHash.Value, s.ttlMillis())
	if err != nil {
		return domain.AlgorithmIsLocked{}, fmt.Errorf("persist algorithm transaction %s/%s: %w", tx.AlgorithmID, symbol, err)
	}
	lock := domain.AlgorithmLock{AlgorithmID: tx.AlgorithmID, Symbol: symbol}
	return domain.NewAlgorithmIsLocked(lock, tx.TransactionHash), nil
}

func (s *LockStore) RemoveAlgorithmLock(ctx context.Context, id domain.AlgorithmID, symbol string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM algorithm_locks WHERE lock_key = $1`, repository.LockKey(id, symbol)); err != nil {
		return fmt.Errorf("remove algorithm lock %s/%s: %w", id, symbol, err)
	}
	return nil
}

func (s *LockStore) ForceUnlock(ctx context.Context, id domain.AlgorithmID, symbol string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM algorithm_locks WHERE lock_key = $1`, repository.LockKey(id, symbol)); err != nil {
		return fmt.Errorf("force unlock %s/%s: %w", id, symbol, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM algorithm_transactions WHERE tx_key = $1`, repository.TransactionKey(id, symbol)); err != nil {
		return fmt.Errorf("force unlock %s/%s: %w", id, symbol, err)
	}
	return tx.Commit(ctx)
}

func (s *LockStore) IsHealthy(ctx context.Context) bool {
	return s.pool.healthy(ctx)
}
