// Package mcp exposes the compliance pipeline over the Model Context
// Protocol so coding agents can screen features without the HTTP API.
//
// The server speaks stdio using the MCP SDK
// (github.com/modelcontextprotocol/go-sdk/mcp) and calls the pipeline
// and memory store directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/redact"
)

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

// Scrubber strips secrets from tool arguments before they reach the
// pipeline. *redact.Scanner implements it.
type Scrubber interface {
	Scrub(content string) redact.Result
}

// Server is the MCP front end over the compliance pipeline.
type Server struct {
	mcp      *mcp.Server
	runner   Analyzer
	memory   MemoryReader
	scrubber Scrubber
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "geogate")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging. Must log to stderr in stdio mode;
	// stdout carries the protocol.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "geogate",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer wires the MCP server and registers its tools.
func NewServer(cfg *Config, runner Analyzer, store MemoryReader, scrubber Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		runner:   runner,
		memory:   store,
		scrubber: scrubber,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}

	s.registerTools()

	return s, nil
}

// Run serves MCP on the stdio transport until the context is canceled
// or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
