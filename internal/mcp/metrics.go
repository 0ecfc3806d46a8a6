package mcp

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/pipeline"
)

const meterName = "github.com/lawbranch/geogate/internal/mcp"

// Metrics instruments tool invocations. Nil instruments (meter build
// failure) are skipped at record time.
type Metrics struct {
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics builds the tool instruments on the global meter.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.invocations, err = meter.Int64Counter(
		"geogate.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool invocations by tool"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		logger.Warn("tool invocation counter unavailable", zap.Error(err))
	}

	if m.duration, err = meter.Float64Histogram(
		"geogate.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool invocation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	); err != nil {
		logger.Warn("tool duration histogram unavailable", zap.Error(err))
	}

	if m.errors, err = meter.Int64Counter(
		"geogate.mcp.tool.errors_total",
		metric.WithDescription("MCP tool errors by tool and reason"),
		metric.WithUnit("{error}"),
	); err != nil {
		logger.Warn("tool error counter unavailable", zap.Error(err))
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"geogate.mcp.tool.active_requests",
		metric.WithDescription("In-flight MCP tool requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("active request gauge unavailable", zap.Error(err))
	}

	return m
}

// RecordInvocation records one finished tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, elapsed time.Duration, err error) {
	opts := metric.WithAttributes(attribute.String("tool", toolName))

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, opts)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), opts)
	}
	if m.errors != nil && err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", toolName),
			attribute.String("reason", categorizeError(err)),
		))
	}
}

// IncrementActive marks a tool request in flight.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

// DecrementActive marks a tool request finished.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

// categorizeError maps an error to a bounded reason label. Classified
// stage errors carry their own kind; anything else falls back on
// message matching.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	switch pipeline.KindOf(err) {
	case pipeline.ErrorKindInput:
		return "input_error"
	case pipeline.ErrorKindPrecondition:
		return "precondition"
	case pipeline.ErrorKindUpstream:
		return "upstream_error"
	case pipeline.ErrorKindSchema:
		return "schema_error"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required") || strings.Contains(msg, "invalid"):
		return "input_error"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "memory") || strings.Contains(msg, "overlay"):
		return "storage_error"
	}
	return "internal_error"
}
