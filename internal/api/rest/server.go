package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenCoupler/internal/api/websocket"
	"github.com/KevinKickass/OpenCoupler/internal/config"
	"github.com/KevinKickass/OpenCoupler/internal/poller"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Coupler is the session access the API needs; *poller.Poller implements it.
type Coupler interface {
	Status() (poller.Status, error)
	Snapshot() (poller.Snapshot, error)
	SetOutput(addr ur20.Address, val ur20.ChannelValue) error
	Identity(ctx context.Context) (string, error)
	BinaryInputData() (map[ur20.Address][]byte, error)
}

// StatusProvider reports the overall service status.
type StatusProvider interface {
	GetCurrentStatus() any
}

type Server struct {
	router  *gin.Engine
	coupler Coupler
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	metrics config.MetricsConfig
	system  StatusProvider
}

func NewServer(cfg *config.Config, coupler Coupler, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		coupler: coupler,
		logger:  logger,
		wsHub:   wsHub,
		metrics: cfg.Metrics,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetStatusProvider enables GET /api/v1/system/status.
func (s *Server) SetStatusProvider(provider StatusProvider) {
	s.system = provider
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	if s.metrics.Enabled {
		s.router.GET(s.metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		coupler := v1.Group("/coupler")
		{
			coupler.GET("", s.getCoupler)
			coupler.GET("/identity", s.getIdentity)
		}

		io := v1.Group("/io")
		{
			io.GET("/inputs", s.getInputs)
			io.GET("/outputs", s.getOutputs)
			io.PUT("/outputs/:module/:channel", s.setOutput)
			io.GET("/binary", s.getBinaryInputs)
		}

		v1.GET("/system/status", s.getSystemStatus)

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := "ok"
	if _, err := s.coupler.Status(); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}
