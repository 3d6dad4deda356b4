package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trading-service/internal/monitor"
	"trading-service/internal/session"
	"trading-service/internal/trade"

	"github.com/gin-gonic/gin"
)

// staticSigner hands back a signature the client already produced over the
// session challenge.
type staticSigner struct {
	signature string
}

func (s staticSigner) SignMessage(_ context.Context, _ string) (string, error) {
	return s.signature, nil
}

// initSession establishes a signature-bound session for a wallet. The client
// either supplies its own signature or, for agent-owned wallets, lets the
// service keypair sign the challenge.
func (s *Server) initSession(c *gin.Context) {
	var req struct {
		PublicKey  string `json:"publicKey"`
		Signature  string `json:"signature"`
		WalletData string `json:"walletData"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "VALIDATION_ERROR",
			"error": "invalid request payload",
		})
		return
	}

	var signer session.Signer = staticSigner{signature: req.Signature}
	if req.Signature == "" && s.Wallet != nil {
		signer = s.Wallet
	}

	sess, err := s.Sessions.Init(c.Request.Context(), req.PublicKey, req.WalletData, signer)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrMissingIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "publicKey is required"})
		case errors.Is(err, session.ErrMissingSignature):
			c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_SIGNATURE", "error": "no signature produced for session challenge"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": "PERSISTENCE_ERROR", "error": "failed to persist session"})
		}
		return
	}

	s.Metrics.IncrementSessions()
	c.JSON(http.StatusOK, sess)
}

// validateSession reports whether an identity has a live session.
func (s *Server) validateSession(c *gin.Context) {
	publicKey := c.Query("publicKey")
	if publicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "publicKey is required"})
		return
	}

	valid := s.Sessions.Validate(c.Request.Context(), publicKey, c.Query("signature"))
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (s *Server) refreshSession(c *gin.Context) {
	var req struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.BindJSON(&req); err != nil || req.PublicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "publicKey is required"})
		return
	}

	sess, err := s.Sessions.Refresh(c.Request.Context(), req.PublicKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_INVALID", "error": "no active session to refresh"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) endSession(c *gin.Context) {
	publicKey := c.Query("publicKey")
	if publicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "publicKey is required"})
		return
	}

	if err := s.Sessions.End(c.Request.Context(), publicKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "PERSISTENCE_ERROR", "error": "failed to end session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// getMarketData resolves a price through cache and source fallback.
func (s *Server) getMarketData(c *gin.Context) {
	res := s.Market.GetMarketData(c.Request.Context(), c.Param("mint"))
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "SOURCE_UNAVAILABLE",
			"error": res.Error,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getTokenInfo(c *gin.Context) {
	tok := s.Tokens.GetTokenInfo(c.Request.Context(), c.Param("query"))
	if tok == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "TOKEN_NOT_FOUND",
			"error": "token could not be resolved or discovered",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":      tok.Symbol,
		"address":     tok.Address,
		"name":        tok.Name,
		"decimals":    tok.Decimals,
		"logoURI":     tok.LogoURI,
		"verified":    tok.Verified,
		"lastUpdated": tok.LastUpdated,
	})
}

func (s *Server) getRouteQuote(c *gin.Context) {
	var req trade.QuoteParams
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "invalid request payload"})
		return
	}

	timer := monitor.NewTimer(s.Metrics.QuoteLatency)
	quote, err := s.Executor.GetRouteQuote(c.Request.Context(), req)
	timer.Stop()

	if err != nil {
		s.tradeError(c, err)
		return
	}

	s.Metrics.IncrementQuotes()
	c.JSON(http.StatusOK, quote)
}

func (s *Server) executeTrade(c *gin.Context) {
	var req struct {
		InputMint  string  `json:"inputMint"`
		OutputMint string  `json:"outputMint"`
		Amount     uint64  `json:"amount"`
		Slippage   float64 `json:"slippage"`
		Signature  string  `json:"signature"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "invalid request payload"})
		return
	}
	if s.Wallet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "VALIDATION_ERROR", "error": "no signing wallet configured"})
		return
	}

	timer := monitor.NewTimer(s.Metrics.ExecutionLatency)
	result, err := s.Executor.ExecuteTradeWithMEV(c.Request.Context(), trade.ExecuteParams{
		PublicKey:  SessionWallet(c),
		Signature:  req.Signature,
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Amount:     req.Amount,
		Slippage:   req.Slippage,
		Signer:     s.Wallet,
	})
	timer.Stop()

	if err != nil {
		s.tradeError(c, err)
		return
	}

	s.Metrics.IncrementTrades()
	c.JSON(http.StatusOK, result)
}

// tradeError maps executor error codes onto HTTP statuses.
func (s *Server) tradeError(c *gin.Context, err error) {
	code := trade.CodeOf(err)
	status := http.StatusBadGateway
	switch code {
	case trade.CodeValidation:
		status = http.StatusBadRequest
	case trade.CodeSessionInvalid:
		status = http.StatusUnauthorized
	case trade.CodeNoRouteFound:
		status = http.StatusNotFound
	case trade.CodeExecutionTimeout:
		status = http.StatusGatewayTimeout
	case "":
		code = "ROUTE_ERROR"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "running",
		"version":          s.Meta.Version,
		"network":          s.Meta.Network,
		"relay_configured": s.Meta.RelaySet,
		"sessions_cached":  s.Sessions.CachedCount(),
		"tokens_cached":    s.Tokens.CachedCount(),
		"ws_clients":       s.Hub.ClientCount(),
		"price_cache":      s.Market.CacheStats(),
		"timestamp":        time.Now(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
