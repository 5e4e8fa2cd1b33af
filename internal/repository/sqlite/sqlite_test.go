package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/repository/repotest"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "tradecore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestTransactionRepository(t *testing.T) {
	repotest.TransactionRepository(t, func(t *testing.T) repository.TransactionRepository {
		return NewTransactionRepository(openDB(t))
	})
}

func TestAlgorithmRepository(t *testing.T) {
	repotest.AlgorithmRepository(t, func(t *testing.T) repository.AlgorithmRepository {
		return NewAlgorithmRepository(openDB(t))
	})
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tradecore.db")
	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())
}
