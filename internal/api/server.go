// internal/api/server.go

// Package api exposes transfers and solvers over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/metrics"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer wires the routes. gatherer backs /metrics; nil omits the route.
func NewServer(addr, mode string, handler *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(mode)
	router := gin.New()

	srv := &Server{
		router: router,
		logger: logger.Named("http"),
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(srv.logger))
	router.Use(MetricsMiddleware(m))
	registerRoutes(router, handler)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return srv
}

func registerRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api")

	transfers := api.Group("/conditional-transfers")
	transfers.GET("", h.ListTransfers)
	transfers.POST("", h.CreateTransfer)
	transfers.GET("/:id", h.GetTransfer)
	transfers.DELETE("/:id", h.CancelTransfer)
	transfers.GET("/:id/status", h.TransferStatus)

	solvers := api.Group("/solvers")
	solvers.GET("", h.ListSolvers)
	solvers.POST("", h.CreateSolver)
	solvers.GET("/:id", h.GetSolver)
	solvers.DELETE("/:id", h.DeleteSolver)
	solvers.POST("/:id/start", h.StartSolver)
	solvers.POST("/:id/stop", h.StopSolver)
	solvers.PATCH("/:id/stats", h.UpdateSolverStats)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
