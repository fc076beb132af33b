package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/logging"
)

func newRouter(t *testing.T, reg *prometheus.Registry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewNopLogger()).Handler())
	r.Use(NewPrometheusMiddleware("test", reg).Handler())
	r.GET("/ok", func(c *gin.Context) {
		traceID, _ := c.Get(TraceIDKey)
		c.JSON(http.StatusOK, gin.H{"trace_id": traceID})
	})
	r.GET("/fail", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})
	RegisterMetricsEndpoint(r, reg)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPrometheusMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRouter(t, reg)

	assert.Equal(t, http.StatusOK, get(r, "/ok").Code)
	assert.Equal(t, http.StatusInternalServerError, get(r, "/fail").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/nope").Code)

	families, err := reg.Gather()
	require.NoError(t, err)

	var durations, errs int
	var requests float64
	var inflight float64 = -1
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_requests_total":
			for _, m := range mf.GetMetric() {
				requests += m.GetCounter().GetValue()
			}
		case "test_http_request_duration_seconds":
			durations = len(mf.GetMetric())
		case "test_http_request_errors_total":
			errs = len(mf.GetMetric())
		case "test_http_requests_inflight":
			inflight = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, requests)
	assert.Equal(t, 3, durations, "по серии на каждый путь")
	assert.Equal(t, 2, errs, "500 и 404 считаются ошибками")
	assert.Equal(t, 0.0, inflight, "после ответа запросов в обработке нет")

	t.Run("эндпоинт /metrics", func(t *testing.T) {
		w := get(r, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "test_http_request_duration_seconds")
	})
}

func TestRequestLoggerTraceID(t *testing.T) {
	r := newRouter(t, prometheus.NewRegistry())

	w := get(r, "/ok")
	require.Equal(t, http.StatusOK, w.Code)
	traceID := w.Header().Get("X-Trace-ID")
	assert.NotEmpty(t, traceID)
	assert.Contains(t, w.Body.String(), traceID, "trace-ID доступен обработчику")

	assert.NotEqual(t, traceID, get(r, "/ok").Header().Get("X-Trace-ID"), "у каждого запроса свой trace-ID")
}
