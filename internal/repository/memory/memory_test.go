package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/repository/repotest"
)

func TestLockRepository(t *testing.T) {
	repotest.LockRepository(t, func(t *testing.T) repository.LockRepository {
		return NewLockRepository(time.Minute)
	})
}

func TestLockRepository_LeaseExpires(t *testing.T) {
	repo := NewLockRepository(100 * time.Second)
	now := time.Now()
	repo.now = func() time.Time { return now }

	ctx := context.Background()
	res, err := repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	now = now.Add(99 * time.Second)
	res, err = repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	assert.False(t, res.Acquired)

	now = now.Add(2 * time.Second)
	res, err = repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestLockRepository_FreshLeaseDropsOldHash(t *testing.T) {
	repo := NewLockRepository(100 * time.Second)
	now := time.Now()
	repo.now = func() time.Time { return now }

	ctx := context.Background()
	res, err := repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	now = now.Add(2 * time.Second)
	_, err = repo.PersistAlgorithmTransaction(ctx, domain.AlgorithmTransaction{
		AlgorithmID: repotest.Algo1, TransactionHash: domain.TransactionHash{Value: "0xold"},
	}, domain.SymbolV1)
	require.NoError(t, err)

	now = now.Add(99 * time.Second)
	res, err = repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	res, err = repo.GetAlgorithmLock(ctx, repotest.Algo1, domain.SymbolV1)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Nil(t, res.TransactionHash)
}

func TestNonceRepository(t *testing.T) {
	repotest.NonceRepository(t, func(t *testing.T) repository.NonceRepository {
		return NewNonceRepository()
	})
}

func TestTransactionRepository(t *testing.T) {
	repotest.TransactionRepository(t, func(t *testing.T) repository.TransactionRepository {
		return NewTransactionRepository()
	})
}

func TestAlgorithmRepository(t *testing.T) {
	repotest.AlgorithmRepository(t, func(t *testing.T) repository.AlgorithmRepository {
		return NewAlgorithmRepository()
	})
}
