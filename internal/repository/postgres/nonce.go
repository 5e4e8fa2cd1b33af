package postgres

import (
	"context"
	"fmt"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

// NonceStore serializes counter updates with a transaction-scoped advisory lock keyed by
// algorithm, so every host sees one counter.
type NonceStore struct {
	pool *Pool
}

var _ repository.NonceRepository = (*NonceStore)(nil)

func NewNonceStore(pool *Pool) *NonceStore {
	return &NonceStore{pool: pool}
}

func (s *NonceStore) GetNonce(ctx context.Context, id domain.AlgorithmID, chainNonce uint64) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, repository.NonceLockKey(id)); err != nil {
		return 0, fmt.Errorf("obtain nonce lock %s: %w", id, err)
	}

	key := repository.NonceCounterKey(id)
	nonce := int64(chainNonce)
	var stored int64
	err = tx.QueryRow(ctx, `SELECT counter FROM nonce_counters WHERE counter_key = $1`, key).Scan(&stored)
	switch {
	case err == nil:
		nonce = stored
	case isNotFoundError(err):
	default:
		return 0, fmt.Errorf("read nonce %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO nonce_counters (counter_key, counter) VALUES ($1, $2)
		ON CONFLICT (counter_key) DO UPDATE SET counter = EXCLUDED.counter
	`, key, nonce+1); err != nil {
		return 0, fmt.Errorf("write nonce %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit nonce %s: %w", id, err)
	}
	return uint64(nonce), nil
}

func (s *NonceStore) ResetNonce(ctx context.Context, id domain.AlgorithmID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM nonce_counters WHERE counter_key = $1`, repository.NonceCounterKey(id)); err != nil {
		return fmt.Errorf("reset nonce %s: %w", id, err)
	}
	return nil
}
