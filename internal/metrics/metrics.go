// Package metrics provides Prometheus instrumentation for walletrisk.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletrisk"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProviderCallsTotal counts provider invocations by outcome
	// (ok, error, panic).
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider analyses by provider, mode and outcome.",
		},
		[]string{"provider", "mode", "outcome"},
	)

	// ProviderDuration observes per-provider analysis latency.
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "duration_seconds",
			Help:      "Provider analysis duration in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "mode"},
	)

	// ProviderFallbacksTotal counts findings replaced by a fallback.
	ProviderFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Provider failures answered with a fallback finding.",
		},
		[]string{"provider"},
	)

	// AnalysesTotal counts aggregated analyses by overall band.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Aggregated analyses by overall risk band.",
		},
		[]string{"overall"},
	)

	// SanctionsAddresses tracks the size of the active registry snapshot.
	SanctionsAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sanctions",
		Name:      "addresses",
		Help:      "Addresses in the active sanctions registry snapshot.",
	})

	// SanctionsRefreshTotal counts registry refreshes by result.
	SanctionsRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sanctions",
			Name:      "refresh_total",
			Help:      "Sanctions registry refreshes by result.",
		},
		[]string{"result"},
	)

	// SanctionsSourceFailuresTotal counts list downloads that failed.
	SanctionsSourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sanctions",
			Name:      "source_failures_total",
			Help:      "Failed sanctions list downloads by source host.",
		},
		[]string{"source"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderCallsTotal,
		ProviderDuration,
		ProviderFallbacksTotal,
		AnalysesTotal,
		SanctionsAddresses,
		SanctionsRefreshTotal,
		SanctionsSourceFailuresTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// ObserveProvider records one provider call.
func ObserveProvider(provider, mode, outcome string, d time.Duration) {
	ProviderCallsTotal.WithLabelValues(provider, mode, outcome).Inc()
	ProviderDuration.WithLabelValues(provider, mode).Observe(d.Seconds())
}

// StartDBStatsCollector samples sql.DBStats and the goroutine count until
// ctx is done. Call in a goroutine.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern keeps cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
