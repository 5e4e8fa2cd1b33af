// Package chain connects the trading core to EVM JSON-RPC nodes and the trading contracts.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/betbot/tradecore/pkg/ratelimit"
)

// Backend is the part of ethclient.Client the trading core uses. The go-ethereum simulated
// client satisfies it as well.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender

	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// IsNotFound reports whether err means the node does not know the receipt yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

// limitedBackend waits on a shared limiter before every RPC.
type limitedBackend struct {
	next    Backend
	limiter ratelimit.RateLimiter
}

// WithRateLimit wraps b so that every call first waits on limiter.
func WithRateLimit(b Backend, limiter ratelimit.RateLimiter) Backend {
	if limiter == nil {
		return b
	}
	return &limitedBackend{next: b, limiter: limiter}
}

func (b *limitedBackend) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rpc rate limit")
	}
	return nil
}

func (b *limitedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.CallContract(ctx, msg, blockNumber)
}

func (b *limitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	return b.next.EstimateGas(ctx, msg)
}

func (b *limitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.SuggestGasPrice(ctx)
}

func (b *limitedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return b.next.SendTransaction(ctx, tx)
}

func (b *limitedBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	return b.next.NonceAt(ctx, account, blockNumber)
}

func (b *limitedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.TransactionReceipt(ctx, txHash)
}

func (b *limitedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.ChainID(ctx)
}
