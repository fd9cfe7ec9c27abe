package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/monitoring"
)

// Server exposes the orchestrator's metrics and progress over HTTP while a
// run is in progress.
type Server struct {
	router *gin.Engine
	http   *http.Server
	addr   string
	logger *logging.Logger
}

// New creates a server for addr. Nothing listens until Start.
func New(addr string, metrics *monitoring.Metrics, logger *logging.Logger, development bool) *Server {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Accept", "Origin", "Cache-Control"},
		MaxAge:          12 * time.Hour,
	}))

	// Register routes
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	return &Server{
		router: router,
		http:   &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second},
		addr:   addr,
		logger: logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// The returned address is the one actually bound.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Close gracefully shuts down the server.
func (s *Server) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
