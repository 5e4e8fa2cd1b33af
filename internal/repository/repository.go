// Package repository defines the stores the trading core depends on.
//
// Implementations live in sub-packages: memory (tests and development), badgerstore
// (single-host locks and nonces), sqlite (single-host records) and postgres (everything,
// safe across hosts).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/betbot/tradecore/internal/domain"
)

var ErrNotFound = errors.New("not found")

// NonceRepository hands out per-algorithm transaction nonces.
type NonceRepository interface {
	// GetNonce returns the stored counter, or chainNonce when none is stored, and persists
	// the returned value plus one. Concurrent callers never receive the same value.
	GetNonce(ctx context.Context, id domain.AlgorithmID, chainNonce uint64) (uint64, error)
	// ResetNonce drops the counter so the next GetNonce re-anchors on the chain nonce.
	ResetNonce(ctx context.Context, id domain.AlgorithmID) error
}

// LockRepository holds per-(algorithm, symbol) leases and their outstanding transaction.
type LockRepository interface {
	GetAlgorithmLock(ctx context.Context, id domain.AlgorithmID, symbol string) (domain.LockResult, error)
	PersistAlgorithmTransaction(ctx context.Context, tx domain.AlgorithmTransaction, symbol string) (domain.AlgorithmIsLocked, error)
	RemoveAlgorithmLock(ctx context.Context, id domain.AlgorithmID, symbol string) error
	// ForceUnlock removes the lock together with its recorded transaction.
	ForceUnlock(ctx context.Context, id domain.AlgorithmID, symbol string) error
	IsHealthy(ctx context.Context) bool
}

// TransactionRepository stores trading transactions keyed by hash.
type TransactionRepository interface {
	PersistTransaction(ctx context.Context, tx domain.TradingTransaction) error
	// UpdateTransaction upserts every field except created_at.
	UpdateTransaction(ctx context.Context, tx domain.TradingTransaction) error
	// UpdateTransactionStatus is a no-op for unknown hashes.
	UpdateTransactionStatus(ctx context.Context, hash domain.TransactionHash, status domain.TradeStatus, at time.Time) error
	GetTradingTransactions(ctx context.Context, id domain.AlgorithmID) ([]domain.TradingTransaction, error)
	GetTransactionsPaginated(ctx context.Context, id domain.AlgorithmID, skip, limit int) ([]domain.TradingTransaction, error)
	GetTransactionCount(ctx context.Context, id domain.AlgorithmID) (int, error)
	IsHealthy(ctx context.Context) bool
}

// AlgorithmRepository is the registry of algorithms.
type AlgorithmRepository interface {
	// GetAlgorithm returns ErrNotFound when no algorithm has the given trading contract address.
	GetAlgorithm(ctx context.Context, tradingContractAddress string) (*domain.Algorithm, error)
	UpsertAlgorithm(ctx context.Context, a domain.Algorithm) error
	ListAlgorithms(ctx context.Context) ([]domain.Algorithm, error)
	IsHealthy(ctx context.Context) bool
}

// Key layout shared by the key-value stores.
const (
	LockKeyPrefix        = "algorithm-locks:"
	TransactionKeyPrefix = "algorithm-transactions:"
	LockedValue          = "LOCKED"
)

func LockKey(id domain.AlgorithmID, symbol string) string {
	return LockKeyPrefix + id.PublicAddress + symbol
}

func TransactionKey(id domain.AlgorithmID, symbol string) string {
	return TransactionKeyPrefix + id.PublicAddress + symbol
}

func NonceLockKey(id domain.AlgorithmID) string {
	return "NONCE-LOCK-" + id.PublicAddress
}

func NonceCounterKey(id domain.AlgorithmID) string {
	return "NONCE-COUNTER-" + id.PublicAddress
}
