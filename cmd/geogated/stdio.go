package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/logging"
	"github.com/lawbranch/geogate/internal/mcp"
)

// runStdio starts the MCP server on stdin/stdout and blocks until the
// context is cancelled or the client disconnects.
//
// stdout carries the protocol stream, so the logger and all startup
// output go to stderr. The full pipeline runs in-process; no HTTP
// server is started.
func runStdio(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewStderr(newLogConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting geogated in MCP stdio mode",
		zap.String("version", version))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	runner := buildRunner(deps, logger)

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = logger

	server, err := mcp.NewServer(mcpCfg, runner, deps.store, deps.scrubber)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "geogated stdio mode started (pipeline in-process)\n")

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("stdio server error: %w", err)
	}

	logger.Info("stdio MCP server shutdown complete")
	return nil
}
