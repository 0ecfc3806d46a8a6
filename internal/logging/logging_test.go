package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lawbranch/geogate/internal/config"
)

// newBufferLogger builds a logger whose JSON output lands in buf.
func newBufferLogger(t *testing.T, redaction RedactionConfig) (*zap.Logger, *bytes.Buffer) {
	t.Helper()

	enc, err := NewRedactingEncoder(newEncoder("json"), redaction)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core), buf
}

func TestNewValidatesLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	require.Error(t, err)

	logger, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewWithBridge(t *testing.T) {
	_, err := NewWithBridge(Config{Level: "loud", Format: "json"}, "geogated", nil)
	require.Error(t, err)

	logger, err := NewWithBridge(Config{Level: "info", Format: "json"}, "geogated", nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	// The bridge forwards to the global no-op provider here; logging
	// must still work without a collector.
	assert.NotPanics(t, func() {
		logger.Info("bridge online", zap.String("session_id", "compliance_a1b2c3d4"))
	})
}

func TestRedactsFieldKeys(t *testing.T) {
	logger, buf := newBufferLogger(t, RedactionConfig{
		Enabled: true,
		Fields:  DefaultRedactionFields,
	})

	logger.Info("llm request",
		zap.String("api_key", "sk-ant-12345"),
		zap.String("model", "claude-3-5-sonnet-20241022"),
	)
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "sk-ant-12345")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "claude-3-5-sonnet-20241022")
}

func TestRedactsValuePatterns(t *testing.T) {
	logger, buf := newBufferLogger(t, RedactionConfig{
		Enabled:  true,
		Patterns: []string{`sk-[a-zA-Z0-9-]{8,}`},
	})

	logger.Info("provider configured", zap.String("detail", "using sk-abcdefgh12345"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefgh12345")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactsWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, RedactionConfig{
		Enabled: true,
		Fields:  []string{"token"},
	})

	child := logger.With(zap.String("token", "ghp_secret"))
	child.Info("corpus sync")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "ghp_secret")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRejectsBadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"[unclosed"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redaction pattern")
}

func TestSecretField(t *testing.T) {
	logger, buf := newBufferLogger(t, RedactionConfig{})

	logger.Info("startup", Secret("api_key", config.Secret("sk-ant-abc")))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "sk-ant-abc")
	assert.Contains(t, out, "[REDACTED:10]")
}

func TestContextFields(t *testing.T) {
	ctx := WithSessionID(context.Background(), "compliance_a1b2c3d4")
	fields := ContextFields(ctx)

	require.Len(t, fields, 1)
	assert.Equal(t, "session_id", fields[0].Key)
	assert.Equal(t, "compliance_a1b2c3d4", fields[0].String)

	assert.Empty(t, ContextFields(context.Background()))
}
