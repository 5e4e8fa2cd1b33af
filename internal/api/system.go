package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/system"
)

const defaultPageSize = 50

func (s *Server) systemError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, system.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(c, http.StatusNotFound, "algorithm not found")
	default:
		s.log.WithError(err).Error("system request failed")
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	var req system.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	path, err := domain.ChecksumAddress(c.Param("address"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	body, err := domain.ChecksumAddress(req.TradingContractAddress)
	if err != nil || body != path {
		writeError(c, http.StatusBadRequest, "trading_contract_address must equal the path address")
		return
	}

	resp, err := s.opts.System.Register(c.Request.Context(), req)
	if err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDisable(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.System.Disable(c.Request.Context(), c.Param("address")))
}

func (s *Server) handleAlgorithmGet(c *gin.Context) {
	algo, err := s.opts.System.Algorithm(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, algo)
}

func (s *Server) handleTransactions(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "skip must be an integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil {
		writeError(c, http.StatusBadRequest, "limit must be an integer")
		return
	}
	page, err := s.opts.System.Transactions(c.Request.Context(), c.Param("address"), skip, limit)
	if err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleWalletsList(c *gin.Context) {
	resp, err := s.opts.System.Wallets(c.Request.Context())
	if err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWalletsCreate(c *gin.Context) {
	var req system.CreateWalletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp, err := s.opts.System.CreateWallets(c.Request.Context(), req)
	if err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleForceUnlock(c *gin.Context) {
	if err := s.opts.System.ForceUnlock(c.Request.Context(), c.Param("address"), c.Param("symbol")); err != nil {
		s.systemError(c, err)
		return
	}
	c.JSON(http.StatusOK, system.StatusResponse{Status: system.StatusOK})
}
