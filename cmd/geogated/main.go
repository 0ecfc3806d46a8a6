// Geogated is the geo-compliance screening daemon.
//
// It serves the analyze pipeline over an HTTP JSON API, streams run
// events to NATS, exposes Prometheus metrics, and optionally hosts a
// Temporal worker for scheduled audit sweeps. With -stdio it serves
// the same pipeline as an MCP server over stdin/stdout instead.
//
// Configuration is merged from built-in defaults, an optional YAML
// file, and GEOGATE_* environment variables. See internal/config.
//
// Usage:
//
//	# Start the daemon with defaults
//	geogated
//
//	# Load a config file and override via environment
//	GEOGATE_SERVER_PORT=9099 geogated -config geogate.yaml
//
//	# Serve MCP over stdio for agent integration
//	geogated -stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/audit"
	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/embeddings"
	"github.com/lawbranch/geogate/internal/events"
	api "github.com/lawbranch/geogate/internal/http"
	"github.com/lawbranch/geogate/internal/ingest"
	"github.com/lawbranch/geogate/internal/learning"
	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/logging"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
	"github.com/lawbranch/geogate/internal/redact"
	"github.com/lawbranch/geogate/internal/research"
	"github.com/lawbranch/geogate/internal/retrieval"
	"github.com/lawbranch/geogate/internal/screening"
	"github.com/lawbranch/geogate/internal/telemetry"
	"github.com/lawbranch/geogate/internal/validation"
	"github.com/lawbranch/geogate/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	stdio := flag.Bool("stdio", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  geogated            Start the geogate daemon\n")
			fmt.Fprintf(os.Stderr, "  geogated -stdio     Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  geogated version    Show version information\n")
			os.Exit(1)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM. The standard log package
	// writes to stderr, so this stays safe in stdio mode too.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if *stdio {
		if err := runStdio(ctx, *configPath); err != nil {
			log.Fatalf("Stdio server error: %v", err)
		}
		return
	}

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("geogated by Lawbranch\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the geogated server and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Build the logger, then telemetry, then rebuild the logger with
//     the OTel bridge once a log provider exists
//  3. Open stores and clients (memory, embeddings, corpus index, LLM,
//     secret scanner, prompts, audit trail, event bus)
//  4. Wire the pipeline runner and its stages
//  5. Start the Temporal sweep worker when enabled
//  6. Start the HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := newLogConfig(cfg)
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// Flush on a fresh context; ctx is already cancelled here.
		_ = tel.Shutdown(context.Background())
	}()

	if lp := tel.LoggerProvider(); lp != nil {
		bridged, err := logging.NewWithBridge(logCfg, "geogated", lp)
		if err != nil {
			logger.Warn("otel log bridge unavailable", zap.Error(err))
		} else {
			_ = logging.Sync(logger)
			logger = bridged
		}
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting geogated",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.Bool("events_connected", deps.registry.Connected()),
		zap.Bool("ingester_ready", deps.ingester != nil),
		zap.String("audit_trail", deps.auditLog.Path()))

	runner := buildRunner(deps, logger)

	if cfg.Workflows.Enabled {
		worker, err := startSweepWorker(cfg.Workflows, runner, deps, logger)
		if err != nil {
			logger.Warn("audit sweep worker unavailable", zap.Error(err))
		} else {
			defer worker.Stop()
		}
	}

	// Leave the interface nil when no corpus is configured; a typed
	// nil pointer would defeat the server's 503 guard.
	var ingester api.Ingestor
	if deps.ingester != nil {
		ingester = deps.ingester
	}

	srv, err := api.NewServer(runner, deps.registry, deps.store, deps.store, ingester, deps.scrubber, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	return srv.Start(ctx)
}

// newLogConfig maps daemon config onto logger construction. Field
// redaction is always on.
func newLogConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Redaction: logging.RedactionConfig{
			Enabled: true,
			Fields:  logging.DefaultRedactionFields,
		},
	}
}

// dependencies holds the daemon's shared infrastructure.
type dependencies struct {
	store     *memory.Store
	provider  embeddings.Provider
	retriever retrieval.Service
	llmClient llm.Client
	scrubber  *redact.Scanner
	prompts   *prompts.Registry
	auditLog  *audit.Log
	registry  *events.Registry
	ingester  *ingest.Ingester
	logger    *zap.Logger
}

// Close releases resources in reverse construction order.
func (d *dependencies) Close() {
	if d.prompts != nil {
		d.prompts.Stop()
	}
	if d.registry != nil {
		d.registry.Close()
	}
	if d.auditLog != nil {
		if err := d.auditLog.Close(); err != nil {
			d.logger.Warn("audit trail close failed", zap.Error(err))
		}
	}
	if d.retriever != nil {
		if err := d.retriever.Close(); err != nil {
			d.logger.Warn("corpus index close failed", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			d.logger.Warn("embedding provider close failed", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("memory store close failed", zap.Error(err))
		}
	}
}

// initDependencies opens the daemon's stores and clients. On failure
// everything already opened is closed before returning.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	store, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	deps.store = store

	provider, err := embeddings.NewProvider(ctx, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	deps.provider = provider

	retriever, err := retrieval.NewService(cfg.Retrieval, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("creating corpus index: %w", err)
	}
	deps.retriever = retriever

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	deps.llmClient = client

	scrubber, err := redact.NewScanner(cfg.Redact, logger)
	if err != nil {
		return nil, fmt.Errorf("creating secret scanner: %w", err)
	}
	deps.scrubber = scrubber

	registry, err := prompts.NewRegistry(cfg.Prompts, logger)
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}
	deps.prompts = registry
	if cfg.Prompts.Watch {
		if err := registry.Start(ctx); err != nil {
			logger.Warn("prompt hot reload unavailable", zap.Error(err))
		}
	}

	trail, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	deps.auditLog = trail

	// A broken event bus degrades to in-process run tracking; the
	// daemon keeps serving.
	if cfg.Events.Enabled {
		evts, err := events.Connect(cfg.Events, logger)
		if err != nil {
			logger.Warn("event bus unavailable, run events stay in-process", zap.Error(err))
			deps.registry = events.NewRegistry(nil, cfg.Events.SubjectPrefix, logger)
		} else {
			deps.registry = evts
		}
	} else {
		deps.registry = events.NewRegistry(nil, cfg.Events.SubjectPrefix, logger)
	}

	if err := syncCorpus(ctx, cfg.Ingest, logger); err != nil {
		logger.Warn("corpus sync failed, indexing the local copy as-is", zap.Error(err))
	}
	if cfg.Ingest.CorpusDir != "" {
		deps.ingester = ingest.New(cfg.Ingest, retriever, logger)
	}

	ok = true
	return deps, nil
}

// syncCorpus mirrors the configured GitHub regulation corpus into the
// local corpus directory. No-op unless both a remote and a corpus dir
// are configured.
func syncCorpus(ctx context.Context, cfg config.IngestConfig, logger *zap.Logger) error {
	if cfg.GitHub.Owner == "" || cfg.CorpusDir == "" {
		return nil
	}

	syncer, err := ingest.NewGitHubSyncer(ctx, cfg.GitHub, logger)
	if err != nil {
		return err
	}

	n, err := syncer.Sync(ctx, cfg.CorpusDir)
	if err != nil {
		return err
	}

	logger.Info("corpus synced from github",
		zap.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo),
		zap.Int("files", n))
	return nil
}

// buildRunner wires the four pipeline stages. Learning mutations
// trigger a prompt reload so the next run renders fresh overlays.
func buildRunner(deps *dependencies, logger *zap.Logger) *pipeline.Runner {
	runner := pipeline.NewRunner(logger)
	runner.Register(screening.New(deps.llmClient, deps.prompts, deps.store, logger))
	runner.Register(research.New(deps.llmClient, deps.retriever, deps.prompts, deps.store, logger))
	runner.Register(validation.New(deps.llmClient, deps.prompts, deps.store, logger))

	learner := learning.New(deps.llmClient, deps.prompts, deps.store, deps.auditLog, logger)
	learner.OnMutation(deps.prompts.Reload)
	runner.Register(learner)

	runner.OnEvent(deps.registry.Callback())
	return runner
}

// startSweepWorker brings up the Temporal worker hosting the audit
// sweep workflow.
func startSweepWorker(cfg config.WorkflowsConfig, runner *pipeline.Runner, deps *dependencies, logger *zap.Logger) (*workflows.Worker, error) {
	activities, err := workflows.NewActivities(runner, deps.auditLog, deps.scrubber, logger)
	if err != nil {
		return nil, err
	}

	worker, err := workflows.NewWorker(cfg, activities, logger)
	if err != nil {
		return nil, err
	}

	if err := worker.Start(); err != nil {
		worker.Stop()
		return nil, err
	}
	return worker, nil
}
