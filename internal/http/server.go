// Package http exposes the compliance pipeline over a JSON API: analyze
// and feedback runs, run status snapshots with SSE streaming, memory
// inspection, corpus ingestion, health, and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/events"
	"github.com/lawbranch/geogate/internal/ingest"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/redact"
)

const serviceName = "geogated"

// Analyzer drives compliance runs and learning passes. *pipeline.Runner
// implements it.
type Analyzer interface {
	Run(ctx context.Context, state *pipeline.State) (*pipeline.State, error)
	Learn(ctx context.Context, state *pipeline.State, feedback pipeline.Feedback) (*pipeline.State, error)
}

// MemoryReader serves stored memory records and prompt overlays.
// *memory.Store implements it.
type MemoryReader interface {
	Search(ctx context.Context, namespace string, limit int) ([]memory.StoredRecord, error)
	RenderOverlay(ctx context.Context, agent string) (string, error)
}

// Ingestor indexes the regulation corpus. *ingest.Ingester implements it.
type Ingestor interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Seeder bulk-loads glossary terms at bootstrap. *memory.Store
// implements it. Seeding is the one write path into memory that does
// not go through the learning stage.
type Seeder interface {
	SeedGlossary(ctx context.Context, entries []memory.GlossaryEntry) (int, error)
}

// Scrubber strips secrets from request content before it reaches the
// pipeline or its logs. *redact.Scanner implements it.
type Scrubber interface {
	Scrub(content string) redact.Result
}

// Server exposes the pipeline, run registry, and memory store over HTTP.
type Server struct {
	echo     *echo.Echo
	runner   Analyzer
	registry *events.Registry
	memory   MemoryReader
	seeder   Seeder
	ingester Ingestor
	scrubber Scrubber
	logger   *zap.Logger
	config   config.ServerConfig
}

// NewServer wires the API server. The seeder and ingester may be nil
// when glossary seeding or corpus ingestion is not configured; those
// requests then return 503.
func NewServer(runner Analyzer, registry *events.Registry, store MemoryReader, seeder Seeder, ingester Ingestor, scrubber Scrubber, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("run registry cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store cannot be nil")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	// A nil *ingest.Ingester arriving through the interface still
	// compares non-nil; normalize it so the 503 guard holds.
	if v, ok := ingester.(*ingest.Ingester); ok && v == nil {
		ingester = nil
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		runner:   runner,
		registry: registry,
		memory:   store,
		seeder:   seeder,
		ingester: ingester,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/analyze", s.handleAnalyze)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/runs/:session_id", s.handleRun)
	v1.GET("/runs/:session_id/events", s.handleRunEvents)
	v1.GET("/memory/search", s.handleMemorySearch)
	v1.GET("/memory/overlay/:stage", s.handleMemoryOverlay)
	v1.POST("/memory/seed", s.handleMemorySeed)
	v1.POST("/ingest", s.handleIngest)
}

// Start runs the server and blocks until ctx is cancelled or the
// listener fails. Cancellation triggers a graceful shutdown bounded by
// the configured timeout and returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout.Duration())
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router, which tests drive directly.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
