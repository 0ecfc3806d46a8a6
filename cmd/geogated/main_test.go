package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/audit"
	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/events"
	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/logging"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
)

type fakeClient struct{}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "{}", nil
}

var _ llm.Client = (*fakeClient)(nil)

func newTestDependencies(t *testing.T) *dependencies {
	t.Helper()

	logger := zap.NewNop()

	store, err := memory.Open(config.MemoryConfig{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := prompts.NewRegistry(config.PromptsConfig{}, logger)
	require.NoError(t, err)

	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	return &dependencies{
		store:     store,
		llmClient: &fakeClient{},
		prompts:   registry,
		auditLog:  trail,
		registry:  events.NewRegistry(nil, "geogate.runs", logger),
		logger:    logger,
	}
}

func TestBuildRunner_WiresStages(t *testing.T) {
	deps := newTestDependencies(t)

	runner := buildRunner(deps, zap.NewNop())
	require.NotNil(t, runner)

	// Input validation flows through the wired runner.
	state := &pipeline.State{FeatureName: "  ", FeatureDescription: ""}
	_, err := runner.Run(context.Background(), state)
	require.Error(t, err)
}

func TestNewLogConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"

	logCfg := newLogConfig(cfg)
	assert.Equal(t, "debug", logCfg.Level)
	assert.Equal(t, "console", logCfg.Format)
	assert.True(t, logCfg.Redaction.Enabled)
	assert.Equal(t, logging.DefaultRedactionFields, logCfg.Redaction.Fields)
}

func TestSyncCorpus_Unconfigured(t *testing.T) {
	require.NoError(t, syncCorpus(context.Background(), config.IngestConfig{}, zap.NewNop()))

	// A corpus dir without a remote is served from disk only.
	require.NoError(t, syncCorpus(context.Background(), config.IngestConfig{CorpusDir: t.TempDir()}, zap.NewNop()))
}

func TestRun_MissingConfigFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := run(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunStdio_MissingConfigFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := runStdio(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDependencies_CloseIsNilSafe(t *testing.T) {
	deps := &dependencies{logger: zap.NewNop()}
	assert.NotPanics(t, func() { deps.Close() })
}
