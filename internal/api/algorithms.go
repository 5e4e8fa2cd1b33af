package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/trading"
)

var (
	defaultSlippage = decimal.RequireFromString("0.005")
	defaultRelative = decimal.NewFromInt(1)
)

// TradeRequest is the body of a multi-token trade.
type TradeRequest struct {
	TradeType      string           `json:"trade_type" binding:"required"`
	SlippageAmount *decimal.Decimal `json:"slippage_amount,omitempty"`
	RelativeAmount *decimal.Decimal `json:"relative_amount,omitempty"`
	Symbol         string           `json:"symbol" binding:"required"`
}

// TradeRequestV1 is the body of a single-token buy or sell.
type TradeRequestV1 struct {
	SlippageAmount *decimal.Decimal `json:"slippage_amount,omitempty"`
	RelativeAmount *decimal.Decimal `json:"relative_amount,omitempty"`
}

type StatusRequest struct {
	TransactionHash  string `json:"transaction_hash" binding:"required"`
	TimeoutInSeconds int    `json:"timeout_in_seconds"`
}

func amounts(slippage, relative *decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	s, r := defaultSlippage, defaultRelative
	if slippage != nil {
		s = *slippage
	}
	if relative != nil {
		r = *relative
	}
	return s, r
}

func (s *Server) handleTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	tradeType, err := domain.ParseTradeType(req.TradeType)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	algo := currentAlgorithm(c)
	slippage, relative := amounts(req.SlippageAmount, req.RelativeAmount)

	var trade domain.Trade
	if tradeType == domain.TradeBuy {
		trade = domain.NewBuyTradeV2(algo.ID(), slippage, relative, req.Symbol)
	} else {
		trade = domain.NewSellTradeV2(algo.ID(), slippage, relative, req.Symbol)
	}
	s.executeTrade(c, trade, algo)
}

func (s *Server) handleTradeV1(buy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TradeRequestV1
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		algo := currentAlgorithm(c)
		slippage, relative := amounts(req.SlippageAmount, req.RelativeAmount)

		trade := domain.NewSellTrade(algo.ID(), slippage, relative)
		if buy {
			trade = domain.NewBuyTrade(algo.ID(), slippage, relative)
		}
		s.executeTrade(c, trade, algo)
	}
}

// executeTrade runs the trade and maps its response: 200 locked and submitted, 423 already
// locked, 406 insufficient funds, 400 chain failure.
func (s *Server) executeTrade(c *gin.Context, trade domain.Trade, algo *domain.Algorithm) {
	s.log.WithField("algorithm", algo.TradingContractAddress).WithField("trade", trade).Info("received trade request")

	resp, err := s.opts.Executor.HandleTradeRequest(c.Request.Context(), trade, algo)
	switch {
	case errors.Is(err, domain.ErrInvalidTrade):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, trading.ErrAlgorithmDisabled):
		writeError(c, http.StatusForbidden, "Inactive algorithm")
		return
	case err != nil:
		s.log.WithError(err).Error("trade request failed")
		writeError(c, http.StatusInternalServerError, "trade request failed")
		return
	}

	switch r := resp.(type) {
	case domain.AlgorithmIsLocked:
		if s.opts.Poller != nil {
			s.opts.Poller.Dispatch(trade, trade.AlgorithmID, r.TransactionHash)
		}
		c.JSON(http.StatusOK, r)
	case domain.AlgorithmWasLocked:
		c.JSON(http.StatusLocked, r)
	case domain.InsufficientFunds:
		c.JSON(http.StatusNotAcceptable, r)
	case domain.BlockChainError:
		c.JSON(http.StatusBadRequest, r)
	default:
		writeError(c, http.StatusInternalServerError, "unexpected trade response")
	}
}

// handleStatus answers 200 for a successful trade, 202 while in progress and 409 for a failed one.
func (s *Server) handleStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	algo := currentAlgorithm(c)
	statusReq := domain.StatusRequest{
		AlgorithmID:      algo.ID(),
		TransactionHash:  domain.TransactionHash{Value: req.TransactionHash},
		TimeoutInSeconds: req.TimeoutInSeconds,
	}
	if err := statusReq.Validate(); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := s.opts.Checker.HandleStatusRequest(c.Request.Context(), statusReq)
	switch {
	case errors.Is(err, trading.ErrAlgorithmNotFound):
		writeError(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.log.WithError(err).Error("status request failed")
		writeError(c, http.StatusInternalServerError, "status request failed")
		return
	}

	switch resp.Code {
	case domain.StatusSuccessful:
		c.JSON(http.StatusOK, resp)
	case domain.StatusFailed:
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusAccepted, resp)
	}
}
