// Package api serves the pipeline's HTTP surface: health, stats, recent
// signals, the outcome callback, Prometheus metrics, and the websocket
// event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Subthedev/QuantumX-sub000/internal/database"
	"github.com/Subthedev/QuantumX-sub000/internal/engine"
	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/feed"
	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/selector"
	"github.com/Subthedev/QuantumX-sub000/internal/tier"
)

// Config holds server configuration
type Config struct {
	Host string
	Port int
}

// Deps collects the read-side collaborators the handlers expose
type Deps struct {
	Bus        *events.Bus
	Engine     *engine.Engine
	Aggregator *feed.Aggregator
	Tiers      *tier.Manager
	Cache      *indicators.Cache
	Reputation *selector.Reputation
	Repo       *database.Repository // nil when persistence is disabled
	Metrics    http.Handler
}

// Server is the HTTP API server
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	hub        *WSHub
	deps       Deps
	logger     *logging.Logger
	startedAt  time.Time
}

// NewServer builds the router and wires the websocket hub onto the bus
func NewServer(cfg Config, deps Deps, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		router: gin.New(),
		hub:    NewWSHub(logger),
		deps:   deps,
		logger: logger.WithComponent("api"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.routes()
	deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	return s
}

func (s *Server) routes() {
	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/health", s.handleHealth)
		apiGroup.GET("/stats", s.handleStats)
		apiGroup.GET("/signals/recent", s.handleRecentSignals)
		apiGroup.GET("/tiers", s.handleTiers)
		apiGroup.POST("/outcomes", s.handleOutcome)
	}

	s.router.GET("/ws", s.hub.handleWebSocket)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

// Start runs the websocket hub and the HTTP listener; non-blocking
func (s *Server) Start() {
	s.startedAt = time.Now()
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.router,
	}

	go func() {
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

// Stop shuts the listener down with a short deadline
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("API server shutdown incomplete", "error", err)
	}
}
