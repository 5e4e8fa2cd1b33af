// Package badgerstore keeps algorithm locks and nonce counters in a local Badger database.
// It is safe for any number of goroutines in one process; it does not coordinate hosts.
package badgerstore

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/kvstore"
)

type LockRepository struct {
	store *kvstore.Store
	ttl   time.Duration
}

var _ repository.LockRepository = (*LockRepository)(nil)

func NewLockRepository(store *kvstore.Store, ttl time.Duration) *LockRepository {
	return &LockRepository{store: store, ttl: ttl}
}

func (r *LockRepository) GetAlgorithmLock(_ context.Context, id domain.AlgorithmID, symbol string) (domain.LockResult, error) {
	var res domain.LockResult
	err := r.store.Update(func(tx *kvstore.Txn) error {
		key := repository.LockKey(id, symbol)
		_, held, err := tx.Get(key)
		if err != nil {
			return err
		}
		if !held {
			res = domain.NewLock(id, symbol)
			if err := tx.Delete(repository.TransactionKey(id, symbol)); err != nil {
				return err
			}
			return tx.Set(key, []byte(repository.LockedValue), r.ttl)
		}
		v, ok, err := tx.Get(repository.TransactionKey(id, symbol))
		if err != nil {
			return err
		}
		var hash *domain.TransactionHash
		if ok {
			hash = &domain.TransactionHash{Value: string(v)}
		}
		res = domain.HeldLock(id, symbol, hash)
		return nil
	})
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("get algorithm lock %s/%s: %w", id, symbol, err)
	}
	return res, nil
}

func (r *LockRepository) PersistAlgorithmTransaction(_ context.Context, tx domain.AlgorithmTransaction, symbol string) (domain.AlgorithmIsLocked, error) {
	key := repository.TransactionKey(tx.AlgorithmID, symbol)
	if err := r.store.Set(key, []byte(tx.TransactionHash.Value), r.ttl); err != nil {
		return domain.AlgorithmIsLocked{}, fmt.Errorf("persist algorithm transaction %s: %w", key, err)
	}
	lock := domain.AlgorithmLock{AlgorithmID: tx.AlgorithmID, Symbol: symbol}
	return domain.NewAlgorithmIsLocked(lock, tx.TransactionHash), nil
}

func (r *LockRepository) RemoveAlgorithmLock(_ context.Context, id domain.AlgorithmID, symbol string) error {
	if err := r.store.Delete(repository.LockKey(id, symbol)); err != nil {
		return fmt.Errorf("remove algorithm lock %s/%s: %w", id, symbol, err)
	}
	return nil
}

func (r *LockRepository) ForceUnlock(_ context.Context, id domain.AlgorithmID, symbol string) error {
	if err := r.store.Delete(repository.LockKey(id, symbol), repository.TransactionKey(id, symbol)); err != nil {
		return fmt.Errorf("force unlock %s/%s: %w", id, symbol, err)
	}
	return nil
}

func (r *LockRepository) IsHealthy(context.Context) bool {
	return r.store.Ping() == nil
}
