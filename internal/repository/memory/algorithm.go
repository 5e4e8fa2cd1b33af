package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

type AlgorithmRepository struct {
	mu         sync.RWMutex
	algorithms map[string]domain.Algorithm
}

var _ repository.AlgorithmRepository = (*AlgorithmRepository)(nil)

func NewAlgorithmRepository() *AlgorithmRepository {
	return &AlgorithmRepository{algorithms: map[string]domain.Algorithm{}}
}

func (r *AlgorithmRepository) GetAlgorithm(_ context.Context, address string) (*domain.Algorithm, error) {
	addr, err := domain.ChecksumAddress(address)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algorithms[addr]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *AlgorithmRepository) UpsertAlgorithm(_ context.Context, a domain.Algorithm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.algorithms[a.TradingContractAddress]; ok && !prev.CreatedAt.IsZero() {
		a.CreatedAt = prev.CreatedAt
	}
	r.algorithms[a.TradingContractAddress] = a
	return nil
}

func (r *AlgorithmRepository) ListAlgorithms(context.Context) ([]domain.Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Algorithm, 0, len(r.algorithms))
	for _, a := range r.algorithms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradingContractAddress < out[j].TradingContractAddress })
	return out, nil
}

func (r *AlgorithmRepository) IsHealthy(context.Context) bool { return true }
