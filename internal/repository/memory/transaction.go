package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

type TransactionRepository struct {
	mu   sync.RWMutex
	byTx map[string]domain.TradingTransaction
}

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{byTx: map[string]domain.TradingTransaction{}}
}

func (r *TransactionRepository) PersistTransaction(_ context.Context, tx domain.TradingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTx[tx.TransactionHash] = tx
	return nil
}

func (r *TransactionRepository) UpdateTransaction(_ context.Context, tx domain.TradingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byTx[tx.TransactionHash]; ok {
		tx.CreatedAt = prev.CreatedAt
	}
	r.byTx[tx.TransactionHash] = tx
	return nil
}

func (r *TransactionRepository) UpdateTransactionStatus(_ context.Context, hash domain.TransactionHash, status domain.TradeStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byTx[hash.Value]
	if !ok {
		return nil
	}
	tx.Status = status
	tx.UpdatedAt = at
	r.byTx[hash.Value] = tx
	return nil
}

// Get returns the record for hash.
func (r *TransactionRepository) Get(hash string) (domain.TradingTransaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.byTx[hash]
	return tx, ok
}

func (r *TransactionRepository) list(id domain.AlgorithmID) []domain.TradingTransaction {
	var out []domain.TradingTransaction
	for _, tx := range r.byTx {
		if tx.TradingContractAddress == id.PublicAddress {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TransactionHash > out[j].TransactionHash
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *TransactionRepository) GetTradingTransactions(_ context.Context, id domain.AlgorithmID) ([]domain.TradingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(id), nil
}

func (r *TransactionRepository) GetTransactionsPaginated(_ context.Context, id domain.AlgorithmID, skip, limit int) ([]domain.TradingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.list(id)
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) {
		return []domain.TradingTransaction{}, nil
	}
	end := len(all)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return all[skip:end], nil
}

func (r *TransactionRepository) GetTransactionCount(_ context.Context, id domain.AlgorithmID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, tx := range r.byTx {
		if tx.TradingContractAddress == id.PublicAddress {
			n++
		}
	}
	return n, nil
}

func (r *TransactionRepository) IsHealthy(context.Context) bool { return true }
