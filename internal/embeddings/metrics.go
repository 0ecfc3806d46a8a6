package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/lawbranch/geogate/internal/embeddings"

// Metrics instruments embedding generation. A failed instrument build
// leaves that instrument nil; recording skips nil instruments, so a
// misconfigured meter degrades to a warning instead of panicking the
// retrieval path.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics builds the embedding instruments on the global meter.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.duration, err = meter.Float64Histogram(
		"geogate.embedding.generation_duration_seconds",
		metric.WithDescription("Embedding generation latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		logger.Warn("embedding duration histogram unavailable", zap.Error(err))
	}

	if m.batchSize, err = meter.Int64Histogram(
		"geogate.embedding.batch_size",
		metric.WithDescription("Texts per embedding batch"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	); err != nil {
		logger.Warn("embedding batch histogram unavailable", zap.Error(err))
	}

	if m.errors, err = meter.Int64Counter(
		"geogate.embedding.errors_total",
		metric.WithDescription("Embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	); err != nil {
		logger.Warn("embedding error counter unavailable", zap.Error(err))
	}

	return m
}

// RecordGeneration records one embedding call. operation is
// "embed_query" or "embed_documents"; a zero batchSize is not recorded.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, elapsed time.Duration, batchSize int, err error) {
	opts := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), opts)
	}
	if m.batchSize != nil && batchSize > 0 {
		m.batchSize.Record(ctx, int64(batchSize), opts)
	}
	if m.errors != nil && err != nil {
		m.errors.Add(ctx, 1, opts)
	}
}
