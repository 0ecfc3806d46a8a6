package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts completion calls after retries resolved.
	// Labels: provider (anthropic, openai), status (ok, error)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of completion requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	// requestDuration tracks completion latency including retries.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geogate",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of completion requests in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	// tokensTotal counts tokens as reported by the provider's usage
	// block. Labels: provider, direction (input, output)
	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by completion requests",
		},
		[]string{"provider", "direction"},
	)
)

// recordRequest records one resolved completion call.
func recordRequest(provider string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	requestsTotal.WithLabelValues(provider, status).Inc()
	requestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// recordTokens records provider-reported token usage.
func recordTokens(provider string, input, output int) {
	if input > 0 {
		tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}
