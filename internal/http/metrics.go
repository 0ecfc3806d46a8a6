package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts requests by method, route, and status code.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, endpoint, and status code",
		},
		[]string{"method", "endpoint", "status"},
	)

	// requestDuration tracks per-request latency. Analyze runs dominate
	// the upper buckets; everything else should sit under 100ms.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geogate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds by method and endpoint",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	// responseSize tracks response body sizes per endpoint.
	responseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geogate",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response body size in bytes by endpoint",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"endpoint"},
	)

	// activeRequests gauges in-flight requests.
	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geogate",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently being served",
		},
	)
)

// MetricsMiddleware records request metrics. The endpoint label uses
// the route template, so ":session_id" stays a placeholder and path
// parameters cannot blow up label cardinality.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			activeRequests.Inc()

			err := next(c)

			activeRequests.Dec()

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			method := c.Request().Method

			// Errors have not passed through the router's error handler
			// yet, so the response still reads 200; report the status
			// the handler will produce.
			status := c.Response().Status
			if err != nil {
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
			requestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
			responseSize.WithLabelValues(endpoint).Observe(float64(c.Response().Size))

			return err
		}
	}
}
