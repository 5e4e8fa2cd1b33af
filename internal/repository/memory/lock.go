package memory

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

type lease struct {
	value     string
	expiresAt time.Time
}

func (l lease) live(now time.Time) bool {
	return l.expiresAt.IsZero() || now.Before(l.expiresAt)
}

// LockRepository keeps leases in process memory.
type LockRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]lease
}

var _ repository.LockRepository = (*LockRepository)(nil)

func NewLockRepository(ttl time.Duration) *LockRepository {
	return &LockRepository{ttl: ttl, now: time.Now, entries: map[string]lease{}}
}

func (r *LockRepository) get(key string) (string, bool) {
	e, ok := r.entries[key]
	if !ok {
		return "", false
	}
	if !e.live(r.now()) {
		delete(r.entries, key)
		return "", false
	}
	return e.value, true
}

func (r *LockRepository) GetAlgorithmLock(_ context.Context, id domain.AlgorithmID, symbol string) (domain.LockResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := repository.LockKey(id, symbol)
	if _, held := r.get(key); !held {
		// A fresh lease has no outstanding transaction.
		delete(r.entries, repository.TransactionKey(id, symbol))
		r.entries[key] = lease{value: repository.LockedValue, expiresAt: r.now().Add(r.ttl)}
		return domain.NewLock(id, symbol), nil
	}
	var hash *domain.TransactionHash
	if v, ok := r.get(repository.TransactionKey(id, symbol)); ok {
		hash = &domain.TransactionHash{Value: v}
	}
	return domain.HeldLock(id, symbol, hash), nil
}

func (r *LockRepository) PersistAlgorithmTransaction(_ context.Context, tx domain.AlgorithmTransaction, symbol string) (domain.AlgorithmIsLocked, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[repository.TransactionKey(tx.AlgorithmID, symbol)] = lease{
		value:     tx.TransactionHash.Value,
		expiresAt: r.now().Add(r.ttl),
	}
	lock := domain.AlgorithmLock{AlgorithmID: tx.AlgorithmID, Symbol: symbol}
	return domain.NewAlgorithmIsLocked(lock, tx.TransactionHash), nil
}

func (r *LockRepository) RemoveAlgorithmLock(_ context.Context, id domain.AlgorithmID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repository.LockKey(id, symbol))
	return nil
}

func (r *LockRepository) ForceUnlock(_ context.Context, id domain.AlgorithmID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repository.LockKey(id, symbol))
	delete(r.entries, repository.TransactionKey(id, symbol))
	return nil
}

func (r *LockRepository) IsHealthy(context.Context) bool { return true }
