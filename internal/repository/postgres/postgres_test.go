package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/repository/repotest"
)

// setupPool starts one container per top-level test and returns a reset function that
// empties every table, so each sub-test starts clean.
func setupPool(t *testing.T) (*Pool, func(t *testing.T) *Pool) {
	t.Helper()
	if os.Getenv("TRADECORE_POSTGRES_TESTS") != "1" {
		t.Skip("set TRADECORE_POSTGRES_TESTS=1 to run postgres integration tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("tradecore"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// A second run must be a no-op.
	require.NoError(t, Migrate(ctx, pool))

	reset := func(t *testing.T) *Pool {
		t.Helper()
		_, err := pool.Exec(ctx, `TRUNCATE algorithms, trading_transactions, algorithm_locks, algorithm_transactions, nonce_counters`)
		require.NoError(t, err)
		return pool
	}
	return pool, reset
}

func TestPostgresRepositories(t *testing.T) {
	_, reset := setupPool(t)

	t.Run("locks", func(t *testing.T) {
		repotest.LockRepository(t, func(t *testing.T) repository.LockRepository {
			return NewLockStore(reset(t), time.Minute)
		})
	})

	t.Run("lock lease", func(t *testing.T) {
		lease := 500 * time.Millisecond
		repotest.LockLease(t, lease, func(t *testing.T) repository.LockRepository {
			return NewLockStore(reset(t), lease)
		})
	})

	t.Run("nonces", func(t *testing.T) {
		repotest.NonceRepository(t, func(t *testing.T) repository.NonceRepository {
			return NewNonceStore(reset(t))
		})
	})

	t.Run("transactions", func(t *testing.T) {
		repotest.TransactionRepository(t, func(t *testing.T) repository.TransactionRepository {
			return NewTransactionStore(reset(t))
		})
	})

	t.Run("algorithms", func(t *testing.T) {
		repotest.AlgorithmRepository(t, func(t *testing.T) repository.AlgorithmRepository {
			return NewAlgorithmStore(reset(t))
		})
	})
}
