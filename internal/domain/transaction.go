package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the on-chain outcome of a trade transaction.
type TradeStatus string

const (
	StatusInProgressOrNotFound TradeStatus = "TRADE_IN_PROGRESS_OR_NOT_FOUND"
	StatusFailed               TradeStatus = "TRADE_FAILED"
	StatusSuccessful           TradeStatus = "TRADE_SUCCESSFUL"
)

// Terminal reports whether the status can no longer change.
func (s TradeStatus) Terminal() bool {
	return s == StatusFailed || s == StatusSuccessful
}

// StatusResponse is the answer to a status request.
type StatusResponse struct {
	Code    TradeStatus `json:"code"`
	Message string      `json:"message"`
}

func NewStatusResponse(s TradeStatus) StatusResponse {
	switch s {
	case StatusFailed:
		return StatusResponse{Code: s, Message: "Trade failed."}
	case StatusSuccessful:
		return StatusResponse{Code: s, Message: "Trade successful."}
	default:
		return StatusResponse{Code: StatusInProgressOrNotFound, Message: "Trade is in progress or cannot be found."}
	}
}

// MaxStatusTimeout bounds how long a status request may wait for a receipt.
const MaxStatusTimeout = 120

type StatusRequest struct {
	AlgorithmID      AlgorithmID     `json:"algorithm_id"`
	TransactionHash  TransactionHash `json:"transaction_hash"`
	TimeoutInSeconds int             `json:"timeout_in_seconds"`
}

func (r StatusRequest) Validate() error {
	if r.TimeoutInSeconds < 0 || r.TimeoutInSeconds > MaxStatusTimeout {
		return fmt.Errorf("timeout_in_seconds must be within [0,%d], got %d", MaxStatusTimeout, r.TimeoutInSeconds)
	}
	if r.TransactionHash.Value == "" {
		return fmt.Errorf("transaction_hash is required")
	}
	return nil
}

// TradingTransaction is the persisted record of a submitted trade.
type TradingTransaction struct {
	TransactionHash        string          `json:"transaction_hash"`
	TradingContractAddress string          `json:"trading_contract_address"`
	SlippageAmount         decimal.Decimal `json:"slippage_amount"`
	RelativeAmount         decimal.Decimal `json:"relative_amount"`
	Symbol                 *string         `json:"symbol"`
	Status                 TradeStatus     `json:"status"`
	TradeType              TradeType       `json:"trade_type"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// NewTradingTransaction builds the in-progress record for a freshly submitted trade.
func NewTradingTransaction(t Trade, hash TransactionHash, now time.Time) TradingTransaction {
	return TradingTransaction{
		TransactionHash:        hash.Value,
		TradingContractAddress: t.AlgorithmID.PublicAddress,
		SlippageAmount:         t.Slippage.Amount,
		RelativeAmount:         t.RelativeAmount,
		Symbol:                 t.TransactionSymbol(),
		Status:                 StatusInProgressOrNotFound,
		TradeType:              t.Type(),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// TransactionPage is one page of an algorithm's transactions.
type TransactionPage struct {
	Transactions []TradingTransaction `json:"transactions"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	TotalPages   int                  `json:"total_pages"`
	Total        int                  `json:"total"`
}

// NewTransactionPage computes page = floor(skip/limit) and total_pages = ceil(total/limit).
func NewTransactionPage(txs []TradingTransaction, skip, limit, total int) TransactionPage {
	if txs == nil {
		txs = []TradingTransaction{}
	}
	page := TransactionPage{Transactions: txs, PageSize: limit, Total: total}
	if limit > 0 {
		page.Page = skip / limit
		page.TotalPages = (total + limit - 1) / limit
	}
	return page
}
