package api

import (
	"net/http"
	"time"

	"trading-service/internal/broadcast"
	"trading-service/internal/events"
	"trading-service/internal/market"
	"trading-service/internal/monitor"
	"trading-service/internal/session"
	"trading-service/internal/token"
	"trading-service/internal/trade"
	"trading-service/internal/wallet"
	"trading-service/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the core services.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Sessions *session.Manager
	Market   *market.Service
	Tokens   *token.Registry
	Executor *trade.Executor
	Hub      *broadcast.Hub
	Wallet   *wallet.KeypairSigner
	Metrics  *monitor.SystemMetrics
	Meta     SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Network  string
	RelaySet bool
	Version  string
}

func NewServer(bus *events.Bus, database *db.Database, sessions *session.Manager,
	marketSvc *market.Service, tokens *token.Registry, executor *trade.Executor,
	hub *broadcast.Hub, walletSigner *wallet.KeypairSigner, metrics *monitor.SystemMetrics, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Bus:      bus,
		DB:       database,
		Sessions: sessions,
		Market:   marketSvc,
		Tokens:   tokens,
		Executor: executor,
		Hub:      hub,
		Wallet:   walletSigner,
		Metrics:  metrics,
		Meta:     meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		sess := api.Group("/session")
		{
			sess.POST("/init", s.initSession)
			sess.GET("/validate", s.validateSession)
			sess.POST("/refresh", s.refreshSession)
		}
		api.DELETE("/session", s.endSession)

		api.GET("/market/:mint", s.getMarketData)
		api.GET("/token/:query", s.getTokenInfo)

		tr := api.Group("/trade")
		tr.Use(SessionMiddleware(s.Sessions))
		{
			tr.POST("/quote", s.getRouteQuote)
			tr.POST("/execute", s.executeTrade)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
