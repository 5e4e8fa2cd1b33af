package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/internal/domain"
)

const address = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestTrade_Responses(t *testing.T) {
	var got map[string]any
	code := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, address, user)
		assert.Equal(t, "pw", pass)
		assert.Equal(t, "/algorithms/"+address+"/trade", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		switch code {
		case http.StatusOK:
			writeJSON(w, code, domain.NewAlgorithmIsLocked(domain.AlgorithmLock{Symbol: "CAKE"}, domain.TransactionHash{Value: "0xabc"}))
		case http.StatusLocked:
			writeJSON(w, code, domain.HeldLock(domain.AlgorithmID{}, "CAKE", nil).WasLocked())
		case http.StatusNotAcceptable:
			writeJSON(w, code, domain.NewInsufficientFunds(domain.AlgorithmID{PublicAddress: address}))
		case http.StatusBadRequest:
			writeJSON(w, code, domain.NewBlockChainError(domain.AlgorithmID{PublicAddress: address}, nil))
		default:
			writeJSON(w, code, map[string]string{"detail": "Inactive algorithm"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithBasicAuth(address, "pw"))
	ctx := context.Background()
	slippage := decimal.RequireFromString("0.01")
	req := TradeRequest{TradeType: domain.TradeBuy, Symbol: "CAKE", SlippageAmount: &slippage}

	resp, err := c.Trade(ctx, address, req)
	require.NoError(t, err)
	locked, ok := resp.(domain.AlgorithmIsLocked)
	require.True(t, ok)
	assert.Equal(t, "0xabc", locked.TransactionHash.Value)
	assert.Equal(t, "BUY", got["trade_type"])
	assert.Equal(t, "0.01", got["slippage_amount"])
	assert.NotContains(t, got, "relative_amount")

	code = http.StatusLocked
	resp, err = c.Trade(ctx, address, req)
	require.NoError(t, err)
	assert.IsType(t, domain.AlgorithmWasLocked{}, resp)

	code = http.StatusNotAcceptable
	resp, err = c.Trade(ctx, address, req)
	require.NoError(t, err)
	assert.IsType(t, domain.InsufficientFunds{}, resp)

	code = http.StatusBadRequest
	resp, err = c.Trade(ctx, address, req)
	require.NoError(t, err)
	assert.IsType(t, domain.BlockChainError{}, resp)

	code = http.StatusForbidden
	_, err = c.Trade(ctx, address, req)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "Inactive algorithm", apiErr.Detail)
}

func TestStatus_AcceptsPendingAndFailed(t *testing.T) {
	status := domain.StatusFailed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/algorithms/"+address+"/status", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body["transaction_hash"])
		assert.EqualValues(t, 30, body["timeout_in_seconds"])
		code := http.StatusConflict
		if status == domain.StatusInProgressOrNotFound {
			code = http.StatusAccepted
		}
		writeJSON(w, code, domain.NewStatusResponse(status))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Status(context.Background(), address, "0xabc", 30*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Code)

	status = domain.StatusInProgressOrNotFound
	resp, err = c.Status(context.Background(), address, "0xabc", 30*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgressOrNotFound, resp.Code)
}

func TestSystemRoutes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /system/algorithms/{address}", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, r.PathValue("address"), req.TradingContractAddress)
		writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
	})
	mux.HandleFunc("PATCH /system/algorithms/{address}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "FAILED"})
	})
	mux.HandleFunc("GET /system/algorithms/{address}/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("skip"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, domain.NewTransactionPage(nil, 10, 5, 12))
	})
	mux.HandleFunc("POST /system/wallets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		pairs := make([]domain.KeyedAddressPair, body["count"])
		writeJSON(w, http.StatusOK, domain.AddressListResponse{AddressPairs: pairs})
	})
	mux.HandleFunc("DELETE /system/algorithms/{address}/locks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CAKE", r.PathValue("symbol"))
		writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
	})
	mux.HandleFunc("GET /system/algorithms/{address}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "algorithm not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, WithBasicAuth("admin", "pw"))
	ctx := context.Background()

	reg, err := c.Register(ctx, RegisterRequest{TradingContractAddress: address, ChainID: "BSC"})
	require.NoError(t, err)
	assert.Equal(t, "OK", reg.Status)

	dis, err := c.Disable(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", dis.Status)

	page, err := c.Transactions(ctx, address, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)

	wallets, err := c.CreateWallets(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, wallets.AddressPairs, 4)

	require.NoError(t, c.ForceUnlock(ctx, address, "CAKE"))

	_, err = c.Algorithm(ctx, address)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestWithRetries_RetriesReadsOnly(t *testing.T) {
	var gets, posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
		} else {
			posts++
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "slow down"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetries(2))
	require.Error(t, c.Health(context.Background()))
	_, err := c.Trade(context.Background(), address, TradeRequest{TradeType: domain.TradeBuy, Symbol: "CAKE"})
	require.Error(t, err)
	assert.Equal(t, 3, gets)
	assert.Equal(t, 1, posts)
}
