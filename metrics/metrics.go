package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the test engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestCounter    *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	AttemptsStarted   prometheus.Counter
	AttemptsFinalized *prometheus.CounterVec
	AttemptsSwept     prometheus.Counter
	DBConnPoolStats   *prometheus.GaugeVec
}

// NewMetrics registers the metrics on reg.
func NewMetrics(reg prometheus.Registerer, serviceName string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		AttemptsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "attempts_started_total",
				Help:      "Attempts created",
			},
		),
		AttemptsFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "attempts_finalized_total",
				Help:      "Attempts scored, by terminal status",
			},
			[]string{"status"},
		),
		AttemptsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "attempts_swept_total",
				Help:      "Attempts expired by the maintenance sweep",
			},
		),
		DBConnPoolStats: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "knoweasy",
				Subsystem: serviceName,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"stat"},
		),
	}
}

// Middleware records request count, duration and in-flight gauge for gin.
// Routes are labelled by their pattern, not the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.AttemptsStarted.Inc()
}

func (m *Metrics) AttemptFinalized(status string) {
	if m == nil {
		return
	}
	m.AttemptsFinalized.WithLabelValues(status).Inc()
}

func (m *Metrics) AttemptsExpiredBySweep(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AttemptsSwept.Add(float64(n))
}

// RecordDBPoolStats records database connection pool statistics
func (m *Metrics) RecordDBPoolStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnPoolStats.WithLabelValues("open").Set(float64(stats.OpenConnections))
	m.DBConnPoolStats.WithLabelValues("in_use").Set(float64(stats.InUse))
	m.DBConnPoolStats.WithLabelValues("idle").Set(float64(stats.Idle))
	m.DBConnPoolStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
	m.DBConnPoolStats.WithLabelValues("wait_duration_ms").Set(float64(stats.WaitDuration.Milliseconds()))
}
