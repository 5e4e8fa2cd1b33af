package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/chain/chaintest"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/repository/memory"
	"github.com/betbot/tradecore/internal/system"
	"github.com/betbot/tradecore/internal/trading"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/kvstore"
)

const (
	testMnemonic = "tag volcano eight thank tide danger coast health above argue embrace heavy"
	v2Address    = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	v1Address    = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	password     = "s3cret"
)

type dispatched struct {
	trade domain.Trade
	hash  domain.TransactionHash
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *recordingDispatcher) Dispatch(trade domain.Trade, _ domain.AlgorithmID, hash domain.TransactionHash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{trade: trade, hash: hash})
}

func (d *recordingDispatcher) Calls() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.calls...)
}

type fixture struct {
	backend    *chaintest.Backend
	provider   *chain.StaticProvider
	algos      *memory.AlgorithmRepository
	txs        *memory.TransactionRepository
	locks      *memory.LockRepository
	dispatcher *recordingDispatcher
	controller string
	unhealthy  []string
	handler    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	keys, err := kms.NewLocal(store, testMnemonic, "test", nil)
	require.NoError(t, err)
	key, err := keys.CreateNewKey(ctx)
	require.NoError(t, err)

	f := &fixture{
		backend:    chaintest.NewBackend(),
		algos:      memory.NewAlgorithmRepository(),
		txs:        memory.NewTransactionRepository(),
		locks:      memory.NewLockRepository(time.Minute),
		dispatcher: &recordingDispatcher{},
		controller: key.Address,
	}
	nonces := memory.NewNonceRepository()
	f.provider = chain.NewStaticProvider(f.backend, big.NewInt(56), common.HexToAddress(v1Address), chain.ABISource{})

	checker := trading.NewStatusChecker(f.algos, f.txs, f.provider, 10*time.Millisecond, nil)
	reconciler := trading.NewLockReconciler(f.locks, f.txs, checker, nil)
	submitter := trading.NewSubmitter(f.provider, keys, config.Default(), "ether", 3, nil)
	executor := trading.NewExecutor(reconciler, f.locks, nonces, f.txs, f.provider, submitter, nil)

	f.addAlgorithm(t, v2Address, domain.ContractV2_0, false)
	f.addAlgorithm(t, v1Address, domain.ContractV1_1, false)

	srv := NewServer(Options{
		Executor:   executor,
		Checker:    checker,
		Poller:     f.dispatcher,
		System:     system.NewService(f.algos, f.txs, f.locks, keys, nil),
		SystemUser: system.SystemUser{Username: "admin", Password: "admin-pw"},
		Health: func(context.Context) []string {
			return f.unhealthy
		},
	}, nil)
	f.handler = srv.Router()
	return f
}

func (f *fixture) addAlgorithm(t *testing.T, address string, version domain.ContractVersion, disabled bool) {
	t.Helper()
	hashed, err := system.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.algos.UpsertAlgorithm(context.Background(), domain.Algorithm{
		TradingContractAddress:  address,
		ControllerWalletAddress: f.controller,
		ContractVersion:         version,
		ChainID:                 domain.ChainBSC,
		Disabled:                disabled,
		HashedPassword:          hashed,
		CreatedAt:               now,
		UpdatedAt:               now,
	}))
}

// feasible makes every tools check answer v.
func (f *fixture) feasible(t *testing.T, v bool) {
	t.Helper()
	tools, err := f.provider.TradingContractTools(&domain.Algorithm{ContractVersion: domain.ContractV2_0})
	require.NoError(t, err)
	f.backend.ReturnBool(tools.ABI, "buyCheck", v)
}

type auth struct{ user, pass string }

func (f *fixture) do(t *testing.T, method, path string, creds *auth, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if creds != nil {
		req.SetBasicAuth(creds.user, creds.pass)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	algoV2 = &auth{v2Address, password}
	algoV1 = &auth{v1Address, password}
	admin  = &auth{"admin", "admin-pw"}
)

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.unhealthy = []string{"locks"}
	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Service is not healthy.", decode[map[string]any](t, rec)["detail"])
}

func TestRoot(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = f.do(t, http.MethodGet, "/", &auth{v2Address, "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/", algoV2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "To the moon!", body["message"])
	assert.Equal(t, Version, body["version"])
}

func TestTrade_Submitted(t *testing.T) {
	f := newFixture(t)
	f.feasible(t, true)

	rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "buy", "symbol": "CAKE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[domain.AlgorithmIsLocked](t, rec)
	assert.Equal(t, domain.LockTypeNowLocked, resp.LockType)
	assert.Equal(t, "CAKE", resp.Lock.Symbol)
	require.Len(t, f.backend.SentTransactions(), 1)
	assert.Equal(t, f.backend.SentTransactions()[0].Hash().Hex(), resp.TransactionHash.Value)

	calls := f.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, resp.TransactionHash, calls[0].hash)
	assert.Equal(t, domain.KindBuyV2, calls[0].trade.Kind)
	assert.True(t, decimal.RequireFromString("0.005").Equal(calls[0].trade.Slippage.Amount), "default slippage")
	assert.True(t, decimal.NewFromInt(1).Equal(calls[0].trade.RelativeAmount), "default relative amount")

	rec = f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "SELL", "symbol": "CAKE"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, domain.LockTypeWasLocked, decode[domain.AlgorithmWasLocked](t, rec).LockType)
	assert.Len(t, f.dispatcher.Calls(), 1)
}

func TestTrade_NotPossible(t *testing.T) {
	f := newFixture(t)
	f.feasible(t, false)

	rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "buy", "symbol": "CAKE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.dispatcher.Calls())
}

func TestTrade_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.feasible(t, true)
	f.backend.SendErr = func(int, *types.Transaction) error {
		return errors.New("execution reverted: Not enough funds to trade")
	}

	rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "buy", "symbol": "CAKE"})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Empty(t, f.dispatcher.Calls())
}

func TestTrade_Rejections(t *testing.T) {
	f := newFixture(t)
	f.addAlgorithm(t, "0x52908400098527886E0F7030069857D2E4169EE7", domain.ContractV2_0, true)
	trade := map[string]any{"trade_type": "buy", "symbol": "CAKE"}

	tests := []struct {
		name  string
		path  string
		creds *auth
		body  any
		code  int
	}{
		{"address mismatch", "/algorithms/" + v1Address + "/trade", algoV2, trade, http.StatusUnauthorized},
		{"single-token contract", "/algorithms/" + v1Address + "/trade", algoV1, trade, http.StatusConflict},
		{"disabled", "/algorithms/0x52908400098527886E0F7030069857D2E4169EE7/trade",
			&auth{"0x52908400098527886E0F7030069857D2E4169EE7", password}, trade, http.StatusForbidden},
		{"bad trade type", "/algorithms/" + v2Address + "/trade", algoV2,
			map[string]any{"trade_type": "hold", "symbol": "CAKE"}, http.StatusUnprocessableEntity},
		{"missing symbol", "/algorithms/" + v2Address + "/trade", algoV2,
			map[string]any{"trade_type": "buy"}, http.StatusUnprocessableEntity},
		{"slippage out of range", "/algorithms/" + v2Address + "/trade", algoV2,
			map[string]any{"trade_type": "buy", "symbol": "CAKE", "slippage_amount": 2}, http.StatusUnprocessableEntity},
		{"v1 route with multi-token contract", "/v1/algorithms/" + v2Address + "/buy", algoV2,
			map[string]any{}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.creds, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]any](t, rec)["detail"])
		})
	}
	assert.Empty(t, f.backend.SentTransactions())
}

func TestTradeV1(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/algorithms/"+v1Address+"/sell", algoV1,
		map[string]any{"slippage_amount": "0.02", "relative_amount": "0.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	calls := f.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.KindSellV1, calls[0].trade.Kind)
	assert.Equal(t, "0.02", calls[0].trade.Slippage.Amount.String())

	rec = f.do(t, http.MethodPost, "/v1/algorithms/"+v1Address+"/buy", algoV1, map[string]any{})
	assert.Equal(t, http.StatusLocked, rec.Code, "single-token trades share one lock")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	hashes := map[domain.TradeStatus]common.Hash{
		domain.StatusSuccessful:           common.HexToHash("0x01"),
		domain.StatusFailed:               common.HexToHash("0x02"),
		domain.StatusInProgressOrNotFound: common.HexToHash("0x03"),
	}
	for _, h := range hashes {
		require.NoError(t, f.txs.PersistTransaction(ctx, domain.TradingTransaction{
			TransactionHash:        h.Hex(),
			TradingContractAddress: v2Address,
			Status:                 domain.StatusInProgressOrNotFound,
			TradeType:              domain.TradeBuy,
			CreatedAt:              now,
			UpdatedAt:              now,
		}))
	}
	f.backend.SetReceipt(hashes[domain.StatusSuccessful], types.ReceiptStatusSuccessful)
	f.backend.SetReceipt(hashes[domain.StatusFailed], types.ReceiptStatusFailed)

	tests := []struct {
		status domain.TradeStatus
		code   int
	}{
		{domain.StatusSuccessful, http.StatusOK},
		{domain.StatusFailed, http.StatusConflict},
		{domain.StatusInProgressOrNotFound, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/status", algoV2,
				map[string]any{"transaction_hash": hashes[tt.status].Hex()})
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.status, decode[domain.StatusResponse](t, rec).Code)
		})
	}

	rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/status", algoV2,
		map[string]any{"transaction_hash": "0x01", "timeout_in_seconds": 500})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/algorithms/"+v1Address+"/status", algoV1,
		map[string]any{"transaction_hash": common.HexToHash("0x04").Hex()})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSystem_Auth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/system/wallets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/system/wallets", algoV2, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "algorithm credentials do not open system routes")
}

func TestSystem_RegisterAndDisable(t *testing.T) {
	f := newFixture(t)
	const address = "0x52908400098527886E0F7030069857D2E4169EE7"
	body := system.RegisterRequest{
		TradingContractAddress:  address,
		ControllerWalletAddress: f.controller,
		TradingContractVersion:  "2.0",
		ChainID:                 "BSC",
		UnhashedPassword:        "fresh",
	}

	rec := f.do(t, http.MethodPost, "/system/algorithms/"+v1Address, admin, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path and body must agree")

	rec = f.do(t, http.MethodPost, "/system/algorithms/"+address, admin, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, system.StatusOK, decode[system.StatusResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/system/algorithms/"+address, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, address, got["trading_contract_address"])
	assert.NotContains(t, got, "hashed_password")

	rec = f.do(t, http.MethodGet, "/", &auth{address, "fresh"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPatch, "/system/algorithms/"+address, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, system.StatusOK, decode[system.StatusResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/", &auth{address, "fresh"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/system/algorithms/0x0000000000000000000000000000000000000001", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystem_Transactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.txs.PersistTransaction(ctx, domain.TradingTransaction{
			TransactionHash:        common.BigToHash(big.NewInt(int64(i + 1))).Hex(),
			TradingContractAddress: v2Address,
			Status:                 domain.StatusInProgressOrNotFound,
			TradeType:              domain.TradeSell,
			CreatedAt:              at,
			UpdatedAt:              at,
		}))
	}

	rec := f.do(t, http.MethodGet, "/system/algorithms/"+v2Address+"/transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.TransactionPage](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 50, page.PageSize)
	assert.Len(t, page.Transactions, 3)

	rec = f.do(t, http.MethodGet, "/system/algorithms/"+v2Address+"/transactions?skip=2&limit=2", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[domain.TransactionPage](t, rec)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Transactions, 1)

	rec = f.do(t, http.MethodGet, "/system/algorithms/"+v2Address+"/transactions?limit=0", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/system/algorithms/"+v2Address+"/transactions?skip=x", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystem_Wallets(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/system/wallets", admin, system.CreateWalletsRequest{Count: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[domain.AddressListResponse](t, rec).AddressPairs, 2)

	rec = f.do(t, http.MethodPost, "/system/wallets", admin, system.CreateWalletsRequest{Count: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/system/wallets", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pairs := decode[domain.AddressListResponse](t, rec).AddressPairs
	require.Len(t, pairs, 3)
	paired := 0
	for _, p := range pairs {
		if p.Pair.TradingContractAddress != nil {
			paired++
			assert.Equal(t, f.controller, p.Pair.ControllerWalletAddress)
		}
	}
	assert.Equal(t, 1, paired, "the fixture's controller is paired")
}

func TestSystem_ForceUnlock(t *testing.T) {
	f := newFixture(t)
	f.feasible(t, true)

	rec := f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "buy", "symbol": "CAKE"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/system/algorithms/"+v2Address+"/locks/CAKE", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, system.StatusOK, decode[system.StatusResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/algorithms/"+v2Address+"/trade", algoV2,
		map[string]any{"trade_type": "buy", "symbol": "CAKE"})
	assert.Equal(t, http.StatusOK, rec.Code, "lock is free again")
}
