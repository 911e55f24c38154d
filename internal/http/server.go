// Package http provides the HTTP API for cognitiond.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/bus"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/logging"
)

// Server provides HTTP endpoints for cognitiond.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	bridge  *bus.Bridge
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithBridge enables the NATS-backed SSE endpoint.
func WithBridge(b *bus.Bridge) Option {
	return func(s *Server) { s.bridge = b }
}

// WithMetrics replaces the default request instruments.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9190,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(logger)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), rid)))
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", rid),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/cognitions", s.handleListCognitions)
	v1.POST("/cognitions/validate", s.handleValidate)
	v1.GET("/cognitions/:id", s.handleGetCognition)
	v1.GET("/cognitions/:id/insights", s.handleRecall)
	v1.DELETE("/cognitions/:id/insights", s.handleForget)

	v1.POST("/executions", s.handleStart)
	v1.GET("/executions", s.handleListExecutions)
	v1.GET("/executions/:id", s.handleGetExecution)
	v1.GET("/executions/:id/events", s.handleEvents)
	v1.GET("/executions/:id/sse", s.handleSSE)
	v1.POST("/executions/:id/cancel", s.handleCancel)
	v1.GET("/executions/:id/report", s.handleGetReport)
	v1.POST("/executions/:id/report/reseal", s.handleReseal)
	v1.GET("/executions/:id/report/verify", s.handleVerify)
	v1.GET("/executions/:id/analysis", s.handleAnalysis)

	v1.GET("/reports", s.handleListReports)
	v1.GET("/reports/ledger/*", s.handleReportByLedger)
	v1.GET("/reports/content/*", s.handleReportByContent)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// fail converts an engine error into an HTTP error with the mapped status.
func (s *Server) fail(err error) error {
	status := engine.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	return echo.NewHTTPError(status, err.Error())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
