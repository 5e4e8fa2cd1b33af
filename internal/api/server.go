// Package api serves the trading and system routes over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/system"
	"github.com/betbot/tradecore/internal/trading"
	"github.com/betbot/tradecore/pkg/logger"
)

// Version is reported by the root route.
const Version = "2.1.0"

// Dispatcher follows a submitted trade in the background. *trading.StatusPoller implements it.
type Dispatcher interface {
	Dispatch(trade domain.Trade, id domain.AlgorithmID, hash domain.TransactionHash)
}

type Options struct {
	Executor   *trading.Executor
	Checker    *trading.StatusChecker
	Poller     Dispatcher
	System     *system.Service
	SystemUser system.SystemUser
	// Health returns the names of failing components.
	Health func(ctx context.Context) []string
}

type Server struct {
	opts Options
	log  *logrus.Entry
}

func NewServer(opts Options, log *logrus.Entry) *Server {
	return &Server{opts: opts, log: logger.OrDefault(log, "api")}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)

	algo := r.Group("/", s.algorithmAuth())
	algo.GET("/", s.handleRoot)
	algo.POST("/algorithms/:address/trade", s.requireAddress(), s.requireVersion(true), s.handleTrade)
	algo.POST("/algorithms/:address/status", s.requireAddress(), s.requireVersion(true), s.handleStatus)

	v1 := r.Group("/v1/algorithms/:address", s.algorithmAuth(), s.requireAddress(), s.requireVersion(false))
	v1.POST("/buy", s.handleTradeV1(true))
	v1.POST("/sell", s.handleTradeV1(false))
	v1.POST("/status", s.handleStatus)

	sys := r.Group("/system", s.systemAuth())
	sys.GET("/wallets", s.handleWalletsList)
	sys.POST("/wallets", s.handleWalletsCreate)
	sysAlgo := sys.Group("/algorithms/:address")
	sysAlgo.POST("", s.handleRegister)
	sysAlgo.PATCH("", s.handleDisable)
	sysAlgo.GET("", s.handleAlgorithmGet)
	sysAlgo.GET("/transactions", s.handleTransactions)
	sysAlgo.DELETE("/locks/:symbol", s.handleForceUnlock)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Health != nil {
		if failed := s.opts.Health(c.Request.Context()); len(failed) > 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Service is not healthy.", "failed": failed})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "To the moon!", "status": "OK", "version": Version})
}

func writeError(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}
