// Package client talks to the trading service over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
)

// Error is a non-2xx answer that carries no domain result.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Detail)
}

type Client struct {
	client *resty.Client
}

type Option func(*resty.Client)

// WithBasicAuth authenticates every request, with algorithm or system credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *resty.Client) { c.SetBasicAuth(username, password) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetries retries reads that failed to connect or were rate limited. Trades are never
// retried since a resend could submit a second transaction.
func WithRetries(n int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(n).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
					return false
				}
				return err != nil || resp.StatusCode() == http.StatusTooManyRequests
			})
	}
}

func New(host string, opts ...Option) *Client {
	host = strings.TrimSuffix(host, "/")
	c := resty.New().
		SetBaseURL(host).
		SetTimeout(60*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return &Client{client: c}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	return r
}

// decode fills out when resp has one of the accepted codes and returns an *Error otherwise.
func decode(resp *resty.Response, err error, out any, accepted ...int) error {
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	for _, code := range accepted {
		if resp.StatusCode() != code {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "decode %d response", code)
		}
		return nil
	}
	var body struct {
		Detail any `json:"detail"`
	}
	detail := string(resp.Body())
	if json.Unmarshal(resp.Body(), &body) == nil && body.Detail != nil {
		detail = fmt.Sprint(body.Detail)
	}
	return &Error{StatusCode: resp.StatusCode(), Detail: detail}
}

// Health returns nil when the service reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.newRequest(ctx).Get("/health")
	return decode(resp, err, nil, http.StatusOK)
}

type RootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (c *Client) Root(ctx context.Context) (RootResponse, error) {
	var out RootResponse
	resp, err := c.newRequest(ctx).Get("/")
	return out, decode(resp, err, &out, http.StatusOK)
}

// TradeRequest leaves SlippageAmount and RelativeAmount to the server defaults when nil.
type TradeRequest struct {
	TradeType      domain.TradeType `json:"trade_type,omitempty"`
	SlippageAmount *decimal.Decimal `json:"slippage_amount,omitempty"`
	RelativeAmount *decimal.Decimal `json:"relative_amount,omitempty"`
	Symbol         string           `json:"symbol,omitempty"`
}

// Trade submits a multi-token trade.
func (c *Client) Trade(ctx context.Context, address string, req TradeRequest) (domain.TradeResponse, error) {
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		SetBody(req).
		Post("/algorithms/{address}/trade")
	return tradeResponse(resp, err)
}

// TradeV1 buys or sells with a single-token contract. TradeType and Symbol of req are ignored.
func (c *Client) TradeV1(ctx context.Context, address string, buy bool, req TradeRequest) (domain.TradeResponse, error) {
	path := "/v1/algorithms/{address}/sell"
	if buy {
		path = "/v1/algorithms/{address}/buy"
	}
	req.TradeType, req.Symbol = "", ""
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		SetBody(req).
		Post(path)
	return tradeResponse(resp, err)
}

func tradeResponse(resp *resty.Response, err error) (domain.TradeResponse, error) {
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		var out domain.AlgorithmIsLocked
		return out, decode(resp, nil, &out, http.StatusOK)
	case http.StatusLocked:
		var out domain.AlgorithmWasLocked
		return out, decode(resp, nil, &out, http.StatusLocked)
	case http.StatusNotAcceptable:
		var out domain.InsufficientFunds
		return out, decode(resp, nil, &out, http.StatusNotAcceptable)
	case http.StatusBadRequest:
		var out domain.BlockChainError
		if decode(resp, nil, &out, http.StatusBadRequest) == nil && out.Reason != "" {
			return out, nil
		}
	}
	return nil, decode(resp, nil, nil)
}

// Status asks for the outcome of a trade transaction, waiting up to timeout for its receipt.
func (c *Client) Status(ctx context.Context, address, hash string, timeout time.Duration, v1 bool) (domain.StatusResponse, error) {
	path := "/algorithms/{address}/status"
	if v1 {
		path = "/v1/algorithms/{address}/status"
	}
	var out domain.StatusResponse
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		SetBody(map[string]any{"transaction_hash": hash, "timeout_in_seconds": int(timeout / time.Second)}).
		Post(path)
	return out, decode(resp, err, &out, http.StatusOK, http.StatusAccepted, http.StatusConflict)
}

type RegisterRequest struct {
	TradingContractAddress  string `json:"trading_contract_address"`
	ControllerWalletAddress string `json:"controller_wallet_address"`
	TradingContractVersion  string `json:"trading_contract_version"`
	ChainID                 string `json:"chain_id"`
	Disabled                bool   `json:"disabled"`
	UnhashedPassword        string `json:"unhashed_password"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (StatusResponse, error) {
	var out StatusResponse
	resp, err := c.newRequest(ctx).
		SetPathParam("address", req.TradingContractAddress).
		SetBody(req).
		Post("/system/algorithms/{address}")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) Disable(ctx context.Context, address string) (StatusResponse, error) {
	var out StatusResponse
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		Patch("/system/algorithms/{address}")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) Algorithm(ctx context.Context, address string) (domain.Algorithm, error) {
	var out domain.Algorithm
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		Get("/system/algorithms/{address}")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) Transactions(ctx context.Context, address string, skip, limit int) (domain.TransactionPage, error) {
	var out domain.TransactionPage
	resp, err := c.newRequest(ctx).
		SetPathParam("address", address).
		SetQueryParam("skip", strconv.Itoa(skip)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get("/system/algorithms/{address}/transactions")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) Wallets(ctx context.Context) (domain.AddressListResponse, error) {
	var out domain.AddressListResponse
	resp, err := c.newRequest(ctx).Get("/system/wallets")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) CreateWallets(ctx context.Context, count int) (domain.AddressListResponse, error) {
	var out domain.AddressListResponse
	resp, err := c.newRequest(ctx).
		SetBody(map[string]int{"count": count}).
		Post("/system/wallets")
	return out, decode(resp, err, &out, http.StatusOK)
}

func (c *Client) ForceUnlock(ctx context.Context, address, symbol string) error {
	resp, err := c.newRequest(ctx).
		SetPathParams(map[string]string{"address": address, "symbol": symbol}).
		Delete("/system/algorithms/{address}/locks/{symbol}")
	return decode(resp, err, nil, http.StatusOK)
}
