// Package repotest holds behaviour tests every repository implementation must pass.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

var (
	Algo1 = domain.AlgorithmID{PublicAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}
	Algo2 = domain.AlgorithmID{PublicAddress: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}
)

// LockRepository runs the lock behaviour tests against a fresh repository from newRepo.
func LockRepository(t *testing.T, newRepo func(t *testing.T) repository.LockRepository) {
	ctx := context.Background()

	t.Run("scenario A relock without transaction", func(t *testing.T) {
		repo := newRepo(t)
		first, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
		require.NoError(t, err)
		assert.True(t, first.Acquired)

		second, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
		require.NoError(t, err)
		assert.False(t, second.Acquired)
		assert.Equal(t, first.Lock, second.Lock)
		assert.Nil(t, second.TransactionHash)
	})

	t.Run("scenario B relock reports transaction", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
		require.NoError(t, err)

		locked, err := repo.PersistAlgorithmTransaction(ctx, domain.AlgorithmTransaction{
			AlgorithmID:     Algo1,
			TransactionHash: domain.TransactionHash{Value: "0x7b"},
		}, domain.SymbolV1)
		require.NoError(t, err)
		assert.Equal(t, domain.LockTypeNowLocked, locked.LockType)
		assert.Equal(t, "0x7b", locked.TransactionHash.Value)
		assert.Equal(t, domain.SymbolV1, locked.Lock.Symbol)

		again, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
		require.NoError(t, err)
		assert.False(t, again.Acquired)
		require.NotNil(t, again.TransactionHash)
		assert.Equal(t, "0x7b", again.TransactionHash.Value)
	})

	t.Run("remove releases lock", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAlgorithmLock(ctx, Algo1, "BTC")
		require.NoError(t, err)
		require.NoError(t, repo.RemoveAlgorithmLock(ctx, Algo1, "BTC"))

		res, err := repo.GetAlgorithmLock(ctx, Algo1, "BTC")
		require.NoError(t, err)
		assert.True(t, res.Acquired)

		// Removing an absent lock is not an error.
		require.NoError(t, repo.RemoveAlgorithmLock(ctx, Algo2, "BTC"))
	})

	t.Run("force unlock drops transaction", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAlgorithmLock(ctx, Algo1, "ETH")
		require.NoError(t, err)
		_, err = repo.PersistAlgorithmTransaction(ctx, domain.AlgorithmTransaction{
			AlgorithmID: Algo1, TransactionHash: domain.TransactionHash{Value: "0xaa"},
		}, "ETH")
		require.NoError(t, err)

		require.NoError(t, repo.ForceUnlock(ctx, Algo1, "ETH"))
		res, err := repo.GetAlgorithmLock(ctx, Algo1, "ETH")
		require.NoError(t, err)
		assert.True(t, res.Acquired)

		res, err = repo.GetAlgorithmLock(ctx, Algo1, "ETH")
		require.NoError(t, err)
		assert.False(t, res.Acquired)
		assert.Nil(t, res.TransactionHash)
	})

	t.Run("per symbol isolation", func(t *testing.T) {
		repo := newRepo(t)
		for _, tc := range []struct {
			id     domain.AlgorithmID
			symbol string
		}{
			{Algo1, "BTC"}, {Algo1, "ETH"}, {Algo2, "BTC"}, {Algo1, domain.SymbolV1},
		} {
			res, err := repo.GetAlgorithmLock(ctx, tc.id, tc.symbol)
			require.NoError(t, err)
			assert.True(t, res.Acquired, "%s/%s", tc.id, tc.symbol)
		}
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		repo := newRepo(t)
		const n = 16
		var (
			mu       sync.Mutex
			acquired int
		)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				res, err := repo.GetAlgorithmLock(gctx, Algo1, "BTC")
				if err != nil {
					return err
				}
				if res.Acquired {
					mu.Lock()
					acquired++
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, 1, acquired)
	})

	t.Run("healthy", func(t *testing.T) {
		assert.True(t, newRepo(t).IsHealthy(ctx))
	})
}

// LockLease checks that a lock lapses after its lease. newRepo must use lease as TTL.
func LockLease(t *testing.T, lease time.Duration, newRepo func(t *testing.T) repository.LockRepository) {
	ctx := context.Background()
	repo := newRepo(t)

	res, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// The hash is written after the lock, so its own lease outlives the lock's.
	time.Sleep(lease / 2)
	_, err = repo.PersistAlgorithmTransaction(ctx, domain.AlgorithmTransaction{
		AlgorithmID: Algo1, TransactionHash: domain.TransactionHash{Value: "0x01d"},
	}, domain.SymbolV1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		res, err := repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
		return err == nil && res.Acquired
	}, lease*20, lease/4)

	res, err = repo.GetAlgorithmLock(ctx, Algo1, domain.SymbolV1)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Nil(t, res.TransactionHash, "a fresh lease must not report the previous holder's hash")
}

// NonceRepository runs the nonce behaviour tests.
func NonceRepository(t *testing.T, newRepo func(t *testing.T) repository.NonceRepository) {
	ctx := context.Background()

	t.Run("scenario C cached counter", func(t *testing.T) {
		repo := newRepo(t)
		n, err := repo.GetNonce(ctx, Algo1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)

		n, err = repo.GetNonce(ctx, Algo1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		require.NoError(t, repo.ResetNonce(ctx, Algo1))
		n, err = repo.GetNonce(ctx, Algo1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("counter is authoritative over chain", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetNonce(ctx, Algo1, 5)
		require.NoError(t, err)
		n, err := repo.GetNonce(ctx, Algo1, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), n)
	})

	t.Run("reset re-anchors on chain", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 3; i++ {
			_, err := repo.GetNonce(ctx, Algo1, 10)
			require.NoError(t, err)
		}
		require.NoError(t, repo.ResetNonce(ctx, Algo1))
		n, err := repo.GetNonce(ctx, Algo1, 11)
		require.NoError(t, err)
		assert.Equal(t, uint64(11), n)

		// Resetting an unknown algorithm is fine.
		require.NoError(t, repo.ResetNonce(ctx, Algo2))
	})

	t.Run("algorithms are independent", func(t *testing.T) {
		repo := newRepo(t)
		a, err := repo.GetNonce(ctx, Algo1, 4)
		require.NoError(t, err)
		b, err := repo.GetNonce(ctx, Algo2, 9)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), a)
		assert.Equal(t, uint64(9), b)
	})

	t.Run("monotonic under concurrency", func(t *testing.T) {
		repo := newRepo(t)
		const (
			n = 12
			k = uint64(7)
		)
		var (
			mu  sync.Mutex
			got []uint64
		)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				v, err := repo.GetNonce(gctx, Algo1, k)
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		want := make([]uint64, n)
		for i := range want {
			want[i] = k + uint64(i)
		}
		assert.Equal(t, want, got)
	})
}

// NewTransaction builds a record for tests.
func NewTransaction(id domain.AlgorithmID, hash string, createdAt time.Time) domain.TradingTransaction {
	sym := "BTC"
	return domain.TradingTransaction{
		TransactionHash:        hash,
		TradingContractAddress: id.PublicAddress,
		SlippageAmount:         decimal.RequireFromString("0.005"),
		RelativeAmount:         decimal.RequireFromString("0.5"),
		Symbol:                 &sym,
		Status:                 domain.StatusInProgressOrNotFound,
		TradeType:              domain.TradeBuy,
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}
}

// TransactionRepository runs the transaction store behaviour tests.
func TransactionRepository(t *testing.T, newRepo func(t *testing.T) repository.TransactionRepository) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("persist and list newest first", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 5; i++ {
			tx := NewTransaction(Algo1, fmt.Sprintf("0x%02d", i), base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, repo.PersistTransaction(ctx, tx))
		}
		require.NoError(t, repo.PersistTransaction(ctx, NewTransaction(Algo2, "0xother", base)))

		all, err := repo.GetTradingTransactions(ctx, Algo1)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "0x04", all[0].TransactionHash)
		assert.Equal(t, "0x00", all[4].TransactionHash)
		assert.True(t, all[0].SlippageAmount.Equal(decimal.RequireFromString("0.005")))
		require.NotNil(t, all[0].Symbol)
		assert.Equal(t, "BTC", *all[0].Symbol)

		count, err := repo.GetTransactionCount(ctx, Algo1)
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		page, err := repo.GetTransactionsPaginated(ctx, Algo1, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "0x02", page[0].TransactionHash)
		assert.Equal(t, "0x01", page[1].TransactionHash)

		tail, err := repo.GetTransactionsPaginated(ctx, Algo1, 4, 10)
		require.NoError(t, err)
		require.Len(t, tail, 1)
	})

	t.Run("persist is an upsert", func(t *testing.T) {
		repo := newRepo(t)
		tx := NewTransaction(Algo1, "0xdup", base)
		require.NoError(t, repo.PersistTransaction(ctx, tx))
		tx.Status = domain.StatusFailed
		require.NoError(t, repo.PersistTransaction(ctx, tx))

		count, err := repo.GetTransactionCount(ctx, Algo1)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("update keeps created_at", func(t *testing.T) {
		repo := newRepo(t)
		tx := NewTransaction(Algo1, "0xupd", base)
		require.NoError(t, repo.PersistTransaction(ctx, tx))

		changed := tx
		changed.CreatedAt = base.Add(time.Hour)
		changed.UpdatedAt = base.Add(time.Hour)
		changed.Status = domain.StatusSuccessful
		require.NoError(t, repo.UpdateTransaction(ctx, changed))

		all, err := repo.GetTradingTransactions(ctx, Algo1)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, domain.StatusSuccessful, all[0].Status)
		assert.True(t, all[0].CreatedAt.Equal(base), "created_at=%s", all[0].CreatedAt)
		assert.True(t, all[0].UpdatedAt.Equal(base.Add(time.Hour)))
	})

	t.Run("status update", func(t *testing.T) {
		repo := newRepo(t)
		tx := NewTransaction(Algo1, "0xst", base)
		require.NoError(t, repo.PersistTransaction(ctx, tx))

		at := base.Add(2 * time.Minute)
		require.NoError(t, repo.UpdateTransactionStatus(ctx, domain.TransactionHash{Value: "0xst"}, domain.StatusFailed, at))
		all, err := repo.GetTradingTransactions(ctx, Algo1)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, domain.StatusFailed, all[0].Status)
		assert.True(t, all[0].UpdatedAt.Equal(at))

		// Unknown hashes are ignored and create nothing.
		require.NoError(t, repo.UpdateTransactionStatus(ctx, domain.TransactionHash{Value: "0xnone"}, domain.StatusFailed, at))
		count, err := repo.GetTransactionCount(ctx, Algo1)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("empty algorithm", func(t *testing.T) {
		repo := newRepo(t)
		all, err := repo.GetTradingTransactions(ctx, Algo2)
		require.NoError(t, err)
		assert.Empty(t, all)
		count, err := repo.GetTransactionCount(ctx, Algo2)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.True(t, repo.IsHealthy(ctx))
	})
}

// AlgorithmRepository runs the registry behaviour tests.
func AlgorithmRepository(t *testing.T, newRepo func(t *testing.T) repository.AlgorithmRepository) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAlgorithm(ctx, Algo1.PublicAddress)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("upsert get list", func(t *testing.T) {
		repo := newRepo(t)
		a := domain.Algorithm{
			TradingContractAddress:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			ControllerWalletAddress: Algo2.PublicAddress,
			ContractVersion:         domain.ContractV2_0,
			ChainID:                 domain.ChainBSC,
			HashedPassword:          "hash",
			CreatedAt:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, repo.UpsertAlgorithm(ctx, a))

		got, err := repo.GetAlgorithm(ctx, Algo1.PublicAddress)
		require.NoError(t, err)
		assert.Equal(t, Algo1.PublicAddress, got.TradingContractAddress)
		assert.Equal(t, domain.ContractV2_0, got.ContractVersion)
		assert.Equal(t, domain.ChainBSC, got.ChainID)
		assert.Equal(t, "hash", got.HashedPassword)
		assert.False(t, got.Disabled)

		got.Disabled = true
		got.UpdatedAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.UpsertAlgorithm(ctx, *got))

		again, err := repo.GetAlgorithm(ctx, Algo1.PublicAddress)
		require.NoError(t, err)
		assert.True(t, again.Disabled)

		list, err := repo.ListAlgorithms(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, repo.IsHealthy(ctx))
	})
}
