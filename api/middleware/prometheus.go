package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "service"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	relationOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relation_operations_total",
			Help: "Total number of subscription and friendship operations",
		},
		[]string{"operation", "result"},
	)

	relationOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relation_operation_duration_seconds",
			Help:    "Duration of subscription and friendship operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
			serviceName,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			serviceName,
		).Observe(duration)
	}
}

// RecordRelationOperation - services.OperationRecorder для движка подписок
func RecordRelationOperation(operation, result string, duration time.Duration) {
	relationOperationsTotal.WithLabelValues(operation, result).Inc()
	relationOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
