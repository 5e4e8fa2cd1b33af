package memory

import (
	"context"
	"sync"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

// NonceRepository serializes counters with a process mutex.
type NonceRepository struct {
	mu       sync.Mutex
	counters map[string]uint64
}

var _ repository.NonceRepository = (*NonceRepository)(nil)

func NewNonceRepository() *NonceRepository {
	return &NonceRepository{counters: map[string]uint64{}}
}

func (r *NonceRepository) GetNonce(_ context.Context, id domain.AlgorithmID, chainNonce uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := repository.NonceCounterKey(id)
	nonce, ok := r.counters[key]
	if !ok {
		nonce = chainNonce
	}
	r.counters[key] = nonce + 1
	return nonce, nil
}

func (r *NonceRepository) ResetNonce(_ context.Context, id domain.AlgorithmID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, repository.NonceCounterKey(id))
	return nil
}
