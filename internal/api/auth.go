package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

const algorithmKey = "algorithm"

// algorithmAuth authenticates the trading contract address and password of HTTP Basic auth.
func (s *Server) algorithmAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			s.unauthorized(c, "algorithms", "Invalid credentials")
			return
		}
		algo, err := s.opts.System.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.log.WithError(err).Error("authenticate algorithm")
				writeError(c, http.StatusInternalServerError, "authentication failed")
				return
			}
			s.unauthorized(c, "algorithms", "Invalid credentials")
			return
		}
		if algo.Disabled {
			writeError(c, http.StatusForbidden, "Inactive algorithm")
			return
		}
		c.Set(algorithmKey, algo)
		c.Next()
	}
}

// requireAddress rejects requests whose path address is not the authenticated algorithm.
func (s *Server) requireAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		algo := currentAlgorithm(c)
		addr, err := domain.ChecksumAddress(c.Param("address"))
		if err != nil || addr != algo.TradingContractAddress {
			s.unauthorized(c, "algorithms", "Address "+c.Param("address")+" is not authorized for this action with this authorization header.")
			return
		}
		c.Next()
	}
}

// requireVersion admits multi-token contracts when multiToken is set and single-token ones
// otherwise.
func (s *Server) requireVersion(multiToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		algo := currentAlgorithm(c)
		if algo.ContractVersion.SupportsSymbol() != multiToken {
			writeError(c, http.StatusConflict, "This API version does not accept trading contract version "+
				string(algo.ContractVersion)+" of "+algo.TradingContractAddress+".")
			return
		}
		c.Next()
	}
}

func (s *Server) systemAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || !s.opts.SystemUser.Verify(username, password) {
			s.unauthorized(c, "system", "Invalid credentials for scope")
			return
		}
		c.Next()
	}
}

func (s *Server) unauthorized(c *gin.Context, realm, detail string) {
	c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
	writeError(c, http.StatusUnauthorized, detail)
}

func currentAlgorithm(c *gin.Context) *domain.Algorithm {
	return c.MustGet(algorithmKey).(*domain.Algorithm)
}
