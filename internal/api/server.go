// Package api exposes the dashboard's HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotapanel/quotapanel/internal/aggregator"
	"github.com/quotapanel/quotapanel/internal/config"
	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/oauthflow"
	"github.com/quotapanel/quotapanel/internal/store"
	"github.com/quotapanel/quotapanel/internal/transport"
)

// Server represents the HTTP API server.
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	agg        *aggregator.Aggregator
	flow       *oauthflow.Flow
	proxyStore *store.ProxyStore
	transport  *transport.Reloadable
	snapshots  *store.SnapshotStore
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, agg *aggregator.Aggregator, flow *oauthflow.Flow, proxyStore *store.ProxyStore, tr *transport.Reloadable, snapshots *store.SnapshotStore, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("quotapanel")
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	server := &Server{
		router:     gin.New(),
		config:     cfg,
		agg:        agg,
		flow:       flow,
		proxyStore: proxyStore,
		transport:  tr,
		snapshots:  snapshots,
		metrics:    m,
		logger:     logger,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/api/health", s.handleHealth)

	s.router.GET("/api/accounts", s.handleListAccounts)
	s.router.DELETE("/api/accounts/:email", s.handleDeleteAccount)
	s.router.GET("/api/accounts/:email/download", s.handleDownloadAccount)
	s.router.POST("/api/upload", s.handleUpload)

	s.router.GET("/api/quota", s.handleQuotaAll)
	s.router.GET("/api/quota/:email", s.handleQuotaOne)
	s.router.POST("/api/refresh/:email", s.handleForceRefresh)
	s.router.GET("/api/cache", s.handleCache)
	s.router.GET("/api/snapshots", s.handleSnapshots)

	s.router.GET("/api/auth/login", s.handleAuthLogin)
	s.router.GET("/api/auth/callback", s.handleAuthCallback)

	s.router.GET("/api/proxy", s.handleGetProxy)
	s.router.POST("/api/proxy", s.handleSaveProxy)
	s.router.POST("/api/proxy/test", s.handleTestProxy)
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown gracefully shuts down the server and the snapshot store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return &errors.ErrServerShutdown{Err: err}
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.Close(); err != nil {
			return fmt.Errorf("snapshot store close: %w", err)
		}
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}
