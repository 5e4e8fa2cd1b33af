package system

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/repository/memory"
	"github.com/betbot/tradecore/pkg/kvstore"
)

const (
	testMnemonic = "tag volcano eight thank tide danger coast health above argue embrace heavy"
	trading      = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	controller   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type fixture struct {
	svc   *Service
	algos *memory.AlgorithmRepository
	txs   *memory.TransactionRepository
	locks *memory.LockRepository
	keys  *kms.LocalKeyManagementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	keys, err := kms.NewLocal(store, testMnemonic, "test", nil)
	require.NoError(t, err)

	f := &fixture{
		algos: memory.NewAlgorithmRepository(),
		txs:   memory.NewTransactionRepository(),
		locks: memory.NewLockRepository(time.Minute),
		keys:  keys,
	}
	f.svc = NewService(f.algos, f.txs, f.locks, keys, nil)
	f.svc.cost = bcrypt.MinCost
	return f
}

func registerRequest() RegisterRequest {
	return RegisterRequest{
		TradingContractAddress:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		ControllerWalletAddress: controller,
		TradingContractVersion:  "2.0",
		ChainID:                 "BSC",
		UnhashedPassword:        "s3cret",
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Register(ctx, registerRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)

	algo, err := f.svc.Algorithm(ctx, trading)
	require.NoError(t, err)
	assert.Equal(t, trading, algo.TradingContractAddress, "stored checksummed")
	assert.Equal(t, domain.ContractV2_0, algo.ContractVersion)
	assert.NotEqual(t, "s3cret", algo.HashedPassword)
	assert.True(t, VerifyPassword(algo.HashedPassword, "s3cret"))

	got, err := f.svc.Authenticate(ctx, trading, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, trading, got.TradingContractAddress)
	_, err = f.svc.Authenticate(ctx, trading, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegister_Invalid(t *testing.T) {
	f := newFixture(t)
	for name, mutate := range map[string]func(*RegisterRequest){
		"version":  func(r *RegisterRequest) { r.TradingContractVersion = "3.0" },
		"chain":    func(r *RegisterRequest) { r.ChainID = "ETH" },
		"address":  func(r *RegisterRequest) { r.TradingContractAddress = "0x123" },
		"password": func(r *RegisterRequest) { r.UnhashedPassword = "" },
	} {
		t.Run(name, func(t *testing.T) {
			req := registerRequest()
			mutate(&req)
			_, err := f.svc.Register(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDisable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.Equal(t, StatusFailed, f.svc.Disable(ctx, trading).Status)

	_, err := f.svc.Register(ctx, registerRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, f.svc.Disable(ctx, trading).Status)

	algo, err := f.svc.Algorithm(ctx, trading)
	require.NoError(t, err)
	assert.True(t, algo.Disabled)
}

func TestTransactions_Page(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := domain.AlgorithmID{PublicAddress: trading}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		trade := domain.NewBuyTrade(id, decimal.RequireFromString("0.01"), decimal.RequireFromString("1"))
		hash := domain.TransactionHash{Value: "0x" + string(rune('a'+i))}
		require.NoError(t, f.txs.PersistTransaction(ctx, domain.NewTradingTransaction(trade, hash, base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := f.svc.Transactions(ctx, trading, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, "0xc", page.Transactions[0].TransactionHash)

	_, err = f.svc.Transactions(ctx, trading, 0, 0)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWallets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateWallets(ctx, CreateWalletsRequest{Count: 2})
	require.NoError(t, err)
	require.Len(t, created.AddressPairs, 2)
	assert.Equal(t, "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947", created.AddressPairs[0].Pair.ControllerWalletAddress)
	assert.Nil(t, created.AddressPairs[0].Pair.TradingContractAddress)

	req := registerRequest()
	req.ControllerWalletAddress = created.AddressPairs[1].Pair.ControllerWalletAddress
	_, err = f.svc.Register(ctx, req)
	require.NoError(t, err)

	listed, err := f.svc.Wallets(ctx)
	require.NoError(t, err)
	require.Len(t, listed.AddressPairs, 2)
	paired := map[string]*string{}
	for _, p := range listed.AddressPairs {
		paired[p.Pair.ControllerWalletAddress] = p.Pair.TradingContractAddress
	}
	assert.Nil(t, paired[created.AddressPairs[0].Pair.ControllerWalletAddress])
	require.NotNil(t, paired[req.ControllerWalletAddress])
	assert.Equal(t, trading, *paired[req.ControllerWalletAddress])

	_, err = f.svc.CreateWallets(ctx, CreateWalletsRequest{Count: 0})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.CreateWallets(ctx, CreateWalletsRequest{Count: MaxWalletBatch + 1})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := domain.AlgorithmID{PublicAddress: trading}

	res, err := f.locks.GetAlgorithmLock(ctx, id, "BTC")
	require.NoError(t, err)
	require.True(t, res.Acquired)
	_, err = f.locks.PersistAlgorithmTransaction(ctx, domain.AlgorithmTransaction{AlgorithmID: id, TransactionHash: domain.TransactionHash{Value: "0xabc"}}, "BTC")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForceUnlock(ctx, trading, "BTC"))

	res, err = f.locks.GetAlgorithmLock(ctx, id, "BTC")
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	require.ErrorIs(t, f.svc.ForceUnlock(ctx, trading, " "), ErrInvalidRequest)
}

func TestSystemUser_Verify(t *testing.T) {
	u := SystemUser{Username: "ops", Password: "pw"}
	assert.True(t, u.Verify("ops", "pw"))
	assert.False(t, u.Verify("ops", "nope"))
	assert.False(t, u.Verify("other", "pw"))
	assert.False(t, SystemUser{}.Verify("", ""))
}
