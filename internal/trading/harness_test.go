package trading

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/chain/chaintest"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/repository/memory"
	"github.com/betbot/tradecore/pkg/config"
)

var (
	algoID    = domain.AlgorithmID{PublicAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}
	toolsAddr = common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

// fakeKMS signs with one in-memory key.
type fakeKMS struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeKMS{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (k *fakeKMS) SignTransaction(_ context.Context, tx *types.Transaction, address common.Address, chainID *big.Int) (*types.Transaction, error) {
	if address != k.address {
		return nil, kms.ErrUnknownKey
	}
	return types.SignTx(tx, types.NewEIP155Signer(chainID), k.key)
}

func (k *fakeKMS) ListKeyAliases(context.Context) ([]string, error) { return []string{"key"}, nil }

func (k *fakeKMS) CreateNewKey(context.Context) (domain.KeyID, error) {
	return domain.KeyID{Internal: "key", Address: k.address.Hex()}, nil
}

func (k *fakeKMS) AddressToKeyAlias(context.Context, string) (string, error) { return "key", nil }

func (k *fakeKMS) KeyAliasToKeyInfo(context.Context, string) (kms.KeyInfo, error) {
	return kms.KeyInfo{Alias: "key", Address: k.address.Hex()}, nil
}

func (k *fakeKMS) AllKeyedAddresses(context.Context) ([]domain.AddressKeyPair, error) {
	return []domain.AddressKeyPair{{ControllerWalletAddress: k.address.Hex(), KeyAlias: "key"}}, nil
}

type harness struct {
	backend  *chaintest.Backend
	provider *chain.StaticProvider
	keys     *fakeKMS

	algos  *memory.AlgorithmRepository
	locks  *memory.LockRepository
	nonces *memory.NonceRepository
	txs    *memory.TransactionRepository

	checker    *StatusChecker
	reconciler *LockReconciler
	submitter  *Submitter
	executor   *Executor
	poller     *StatusPoller

	algo *domain.Algorithm
}

func newHarness(t *testing.T, version domain.ContractVersion) *harness {
	t.Helper()
	h := &harness{
		backend: chaintest.NewBackend(),
		keys:    newFakeKMS(t),
		algos:   memory.NewAlgorithmRepository(),
		locks:   memory.NewLockRepository(time.Minute),
		nonces:  memory.NewNonceRepository(),
		txs:     memory.NewTransactionRepository(),
	}
	h.provider = chain.NewStaticProvider(h.backend, big.NewInt(56), toolsAddr, chain.ABISource{})

	h.algo = &domain.Algorithm{
		TradingContractAddress:  algoID.PublicAddress,
		ControllerWalletAddress: h.keys.address.Hex(),
		ContractVersion:         version,
		ChainID:                 domain.ChainBSC,
		HashedPassword:          "x",
		CreatedAt:               time.Now().UTC(),
		UpdatedAt:               time.Now().UTC(),
	}
	require.NoError(t, h.algos.UpsertAlgorithm(context.Background(), *h.algo))

	h.checker = NewStatusChecker(h.algos, h.txs, h.provider, 10*time.Millisecond, nil)
	h.reconciler = NewLockReconciler(h.locks, h.txs, h.checker, nil)
	h.submitter = NewSubmitter(h.provider, h.keys, config.Default(), "ether", 3, nil)
	h.executor = NewExecutor(h.reconciler, h.locks, h.nonces, h.txs, h.provider, h.submitter, nil)
	h.poller = NewStatusPoller(h.checker, h.nonces, 7, 0, nil)
	return h
}

func buyV1() domain.Trade {
	return domain.NewBuyTrade(algoID, decimal.RequireFromString("0.01"), decimal.RequireFromString("0.5"))
}

func sellV2(symbol string) domain.Trade {
	return domain.NewSellTradeV2(algoID, decimal.RequireFromString("0.01"), decimal.RequireFromString("0.25"), symbol)
}

func buyV2(symbol string) domain.Trade {
	return domain.NewBuyTradeV2(algoID, decimal.RequireFromString("0.01"), decimal.RequireFromString("0.25"), symbol)
}

// feasible makes every tools check answer v.
func (h *harness) feasible(t *testing.T, v bool) {
	t.Helper()
	tools, err := h.provider.TradingContractTools(h.algo)
	require.NoError(t, err)
	h.backend.ReturnBool(tools.ABI, "buyCheck", v)
}

// counter reads the stored nonce counter without disturbing it beyond the read itself.
func (h *harness) counter(t *testing.T, chainNonce uint64) uint64 {
	t.Helper()
	n, err := h.nonces.GetNonce(context.Background(), algoID, chainNonce)
	require.NoError(t, err)
	return n
}
