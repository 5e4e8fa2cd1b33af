// Package chaintest provides a scriptable chain backend for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is an in-memory chain.Backend. Zero values answer with sensible defaults; set the
// hooks to script failures.
type Backend struct {
	mu sync.Mutex

	ID       *big.Int
	Nonce    uint64
	Gas      uint64
	GasPrice *big.Int
	Receipts map[common.Hash]*types.Receipt
	Sent     []*types.Transaction
	Calls    []ethereum.CallMsg

	// CallResult answers CallContract.
	CallResult func(msg ethereum.CallMsg) ([]byte, error)
	// SendErr, when set, is consulted for each send before the transaction is recorded.
	SendErr    func(attempt int, tx *types.Transaction) error
	ReceiptErr error
	// ReceiptErrs is consumed one entry per receipt lookup before ReceiptErr applies.
	ReceiptErrs []error
	NonceErr    error

	sendAttempts int
	RPCs         int
}

func NewBackend() *Backend {
	return &Backend{
		ID:       big.NewInt(1337),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
		Receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *Backend) count() {
	b.mu.Lock()
	b.RPCs++
	b.mu.Unlock()
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.count()
	b.mu.Lock()
	b.Calls = append(b.Calls, msg)
	fn := b.CallResult
	b.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(msg)
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.count()
	return b.Gas, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.count()
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.count()
	b.mu.Lock()
	b.sendAttempts++
	attempt := b.sendAttempts
	fn := b.SendErr
	b.mu.Unlock()

	if fn != nil {
		if err := fn(attempt, tx); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.Sent = append(b.Sent, tx)
	b.mu.Unlock()
	return nil
}

func (b *Backend) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	b.count()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NonceErr != nil {
		return 0, b.NonceErr
	}
	return b.Nonce, nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.count()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ReceiptErrs) > 0 {
		err := b.ReceiptErrs[0]
		b.ReceiptErrs = b.ReceiptErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}
	r, ok := b.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	b.count()
	return b.ID, nil
}

// SetReceipt records a mined receipt with the given status for hash.
func (b *Backend) SetReceipt(hash common.Hash, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Receipts[hash] = &types.Receipt{TxHash: hash, Status: status}
}

// SentTransactions returns a copy of the transactions accepted so far.
func (b *Backend) SentTransactions() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.Sent...)
}

// SendAttempts counts every SendTransaction call, accepted or not.
func (b *Backend) SendAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendAttempts
}

// ReturnBool makes CallContract answer every call to method with v.
func (b *Backend) ReturnBool(parsed abi.ABI, method string, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallResult = func(ethereum.CallMsg) ([]byte, error) {
		return parsed.Methods[method].Outputs.Pack(v)
	}
}
