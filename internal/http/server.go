// Package http provides the nbpilot task API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// Engine is the orchestrator surface the API drives.
type Engine interface {
	ExecuteTask(ctx context.Context, req orchestrator.TaskRequest, env orchestrator.Environment, sink orchestrator.ProgressSink) (*orchestrator.Result, error)
	Snapshot() orchestrator.Snapshot
	Proceed()
	Cancel()
	SetSpeed(s orchestrator.SpeedPreset) error
	RollbackTo(ctx context.Context, step int, env orchestrator.Environment) (*checkpoint.RollbackResult, error)
}

// CheckpointLister lists the checkpoints of the last task.
type CheckpointLister interface {
	List() []*checkpoint.Checkpoint
}

// Server provides HTTP endpoints for nbpilot.
type Server struct {
	echo        *echo.Echo
	engine      Engine
	env         orchestrator.Environment
	checkpoints CheckpointLister
	sink        orchestrator.ProgressSink
	metrics     *HTTPMetrics
	logger      *zap.Logger
	config      *Config

	// baseCtx parents background task runs; cancelled by Shutdown.
	baseCtx    context.Context
	cancelRuns context.CancelFunc
	busy       atomic.Bool
	runs       sync.WaitGroup
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `json:"host" koanf:"host"`
	Port int    `json:"port" koanf:"port"`
}

// DefaultConfig returns the default listen address.
func DefaultConfig() *Config {
	return &Config{Host: "localhost", Port: 9090}
}

// Option configures a Server.
type Option func(*Server)

// WithProgressSink sets the sink every API-started task reports to.
func WithProgressSink(sink orchestrator.ProgressSink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithCheckpoints exposes checkpoints through GET /api/v1/checkpoints.
func WithCheckpoints(c CheckpointLister) Option {
	return func(s *Server) {
		s.checkpoints = c
	}
}

// WithMetrics sets the HTTP metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, env orchestrator.Environment, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if env == nil {
		return nil, fmt.Errorf("environment cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:       e,
		engine:     engine,
		env:        env,
		logger:     logger,
		config:     cfg,
		baseCtx:    baseCtx,
		cancelRuns: cancel,
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
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
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
	v1.POST("/tasks", s.handleSubmitTask)
	v1.GET("/tasks/current", s.handleCurrentTask)
	v1.POST("/tasks/current/proceed", s.handleProceed)
	v1.POST("/tasks/current/cancel", s.handleCancel)
	v1.PUT("/speed", s.handleSetSpeed)
	v1.GET("/checkpoints", s.handleListCheckpoints)
	v1.POST("/checkpoints/:step/rollback", s.handleRollback)
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels the running task and waits
// for it to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	err := s.echo.Shutdown(ctx)

	s.engine.Cancel()
	s.cancelRuns()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Wait blocks until every task started through the API has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}
