package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry(), "test")

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/tests/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/tests/1", "/api/tests/2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	got := testutil.ToFloat64(m.RequestCounter.WithLabelValues(http.MethodGet, "/api/tests/:id", "200"))
	assert.Equal(t, float64(2), got)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RequestsInFlight))
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "test")

	m.AttemptStarted()
	m.AttemptFinalized("SUBMITTED")
	m.AttemptFinalized("SUBMITTED")
	m.AttemptFinalized("EXPIRED")
	m.AttemptsExpiredBySweep(3)
	m.AttemptsExpiredBySweep(0)
	m.RecordDBPoolStats(sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AttemptsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AttemptsFinalized.WithLabelValues("SUBMITTED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AttemptsFinalized.WithLabelValues("EXPIRED")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.AttemptsSwept))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.DBConnPoolStats.WithLabelValues("open")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AttemptStarted()
		m.AttemptFinalized("SUBMITTED")
		m.AttemptsExpiredBySweep(2)
		m.RecordDBPoolStats(sql.DBStats{})
	})
}
