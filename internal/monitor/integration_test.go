//go:build integration
// +build integration

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricsClient_Integration tests against a real Prometheus instance
// scraping a running geogated.
// Run with: go test -tags=integration ./internal/monitor/...
func TestMetricsClient_Integration(t *testing.T) {
	promURL := "http://localhost:9090"
	client := NewMetricsClient(promURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("basic_query", func(t *testing.T) {
		result, err := client.Query(ctx, "up")
		require.NoError(t, err, "Prometheus should be reachable at %s", promURL)
		assert.NotNil(t, result)
		t.Logf("Query result: %+v", result)
	})

	t.Run("analyze_rate", func(t *testing.T) {
		rate, err := client.QueryAnalyzeRate(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rate, 0.0, "Rate should be non-negative")
		t.Logf("Analyze rate: %.2f runs/min", rate)
	})

	t.Run("run_latency_p95", func(t *testing.T) {
		latency, err := client.QueryRunLatencyP95(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, latency, 0.0, "Latency should be non-negative")
		t.Logf("Run P95 latency: %.2fs", latency)
	})

	t.Run("decision_totals", func(t *testing.T) {
		for _, decision := range []string{"YES", "NO", "REVIEW"} {
			total, err := client.QueryDecisionTotal(ctx, decision)
			if err == nil {
				assert.GreaterOrEqual(t, total, 0.0)
				t.Logf("%s decisions: %.0f", decision, total)
			} else {
				t.Logf("Decision metric for %s not available yet: %v", decision, err)
			}
		}
	})

	t.Run("stage_latencies", func(t *testing.T) {
		for _, step := range []string{"screening", "research", "validation"} {
			latency, err := client.QueryStageLatencyP95(ctx, step)
			if err == nil {
				assert.GreaterOrEqual(t, latency, 0.0)
				t.Logf("%s P95: %.2fs", step, latency)
			} else {
				t.Logf("Stage metric for %s not available yet: %v", step, err)
			}
		}
	})

	t.Run("token_rate", func(t *testing.T) {
		rate, err := client.QueryTokenRate(ctx)
		if err == nil {
			assert.GreaterOrEqual(t, rate, 0.0)
			t.Logf("Token rate: %.0f tok/min", rate)
		} else {
			t.Logf("Token metric not available yet: %v", err)
		}
	})

	t.Run("memory_records", func(t *testing.T) {
		count, err := client.QueryMemoryRecords(ctx)
		if err == nil {
			assert.GreaterOrEqual(t, count, 0.0)
			t.Logf("Memory records: %.0f", count)
		} else {
			t.Logf("Memory metric not available yet: %v", err)
		}
	})
}

// TestMonitorModel_Integration tests the full dashboard model against a
// real Prometheus instance.
func TestMonitorModel_Integration(t *testing.T) {
	promURL := "http://localhost:9090"
	model := NewModel(promURL, 5*time.Second)

	cmd := model.Init()
	require.NotNil(t, cmd, "Init should return command")

	fetchCmd := fetchMetrics(promURL)
	msg := fetchCmd()

	// Should either get metrics or error
	switch msg := msg.(type) {
	case metricsMsg:
		t.Logf("Received metrics: analyze rate=%.2f, run p95=%.2fs, tokens=%.0f/min",
			msg.AnalyzeRate, msg.RunLatencyP95, msg.TokenRate)
		assert.GreaterOrEqual(t, msg.AnalyzeRate, 0.0)
		assert.GreaterOrEqual(t, msg.RunLatencyP95, 0.0)
		assert.GreaterOrEqual(t, msg.TokenRate, 0.0)

	case errMsg:
		t.Logf("Error fetching metrics (expected if geogated not instrumented): %v", msg)

	default:
		t.Fatalf("Unexpected message type: %T", msg)
	}
}
