package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MetricsClient queries a Prometheus-compatible query API.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// QueryResult represents the query API response envelope.
type QueryResult struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
}

// QueryData holds the query result data.
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []MetricResult `json:"result"`
}

// MetricResult represents a single metric result.
type MetricResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

// NewMetricsClient creates a new metrics client.
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Query executes a PromQL expression against the query API.
func (c *MetricsClient) Query(ctx context.Context, query string) (QueryResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return QueryResult{}, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("building query request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("querying metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("metrics query returned status %d", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("decoding metrics response: %w", err)
	}
	return result, nil
}

// scalar runs an expression and reduces it to its first sample value;
// an empty instant vector reads as zero so a freshly started daemon
// renders a quiet dashboard rather than an error panel.
func (c *MetricsClient) scalar(ctx context.Context, query string) (float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return sampleValue(result)
}

// sampleValue reduces an instant-vector result to its first sample.
func sampleValue(result QueryResult) (float64, error) {
	if len(result.Data.Result) == 0 {
		return 0, nil
	}
	raw, ok := result.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("sample value is not a string")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sample value: %w", err)
	}
	return v, nil
}

// QueryAnalyzeRate queries the pipeline run rate in runs per minute.
func (c *MetricsClient) QueryAnalyzeRate(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(rate(geogate_pipeline_runs_total[5m])) * 60")
}

// QueryRunLatencyP95 queries P95 end-to-end pipeline run latency in seconds.
func (c *MetricsClient) QueryRunLatencyP95(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "histogram_quantile(0.95, sum(rate(geogate_pipeline_run_duration_seconds_bucket[5m])) by (le))")
}

// QueryHTTPRate queries the HTTP request rate in requests per minute.
func (c *MetricsClient) QueryHTTPRate(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(rate(geogate_http_requests_total[1m])) * 60")
}

// QueryHTTPLatencyP95 queries P95 HTTP latency in seconds.
func (c *MetricsClient) QueryHTTPLatencyP95(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "histogram_quantile(0.95, sum(rate(geogate_http_request_duration_seconds_bucket[1m])) by (le))")
}

// QueryDecisionTotal queries the cumulative count of final decisions
// with the given value (YES, NO or REVIEW).
func (c *MetricsClient) QueryDecisionTotal(ctx context.Context, decision string) (float64, error) {
	return c.scalar(ctx, fmt.Sprintf(`sum(geogate_pipeline_decisions_total{decision=%q})`, decision))
}

// QueryStageLatencyP95 queries P95 latency in seconds for a single
// pipeline stage (screening, research or validation).
func (c *MetricsClient) QueryStageLatencyP95(ctx context.Context, step string) (float64, error) {
	q := fmt.Sprintf(`histogram_quantile(0.95, sum(rate(geogate_pipeline_stage_duration_seconds_bucket{step=%q}[5m])) by (le))`, step)
	return c.scalar(ctx, q)
}

// QueryTokenRate queries LLM token throughput across providers in
// tokens per minute.
func (c *MetricsClient) QueryTokenRate(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(rate(geogate_llm_tokens_total[5m])) * 60")
}

// QueryLLMRequestRate queries the LLM request rate in requests per minute.
func (c *MetricsClient) QueryLLMRequestRate(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(rate(geogate_llm_requests_total[5m])) * 60")
}

// QueryMemoryRecords queries the total record count across memory
// store namespaces.
func (c *MetricsClient) QueryMemoryRecords(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(geogate_memory_records)")
}

// QueryLearningRate queries the rate of memory mutations applied by the
// learning stage, in records per minute.
func (c *MetricsClient) QueryLearningRate(ctx context.Context) (float64, error) {
	return c.scalar(ctx, "sum(rate(geogate_pipeline_learning_records_total[15m])) * 60")
}

