package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedPath метка для запросов мимо зарегистрированных маршрутов
const unmatchedPath = "unmatched"

// PrometheusMiddleware HTTP-метрики Gin. Метка path берётся из шаблона
// маршрута, чтобы id в URL не раздували число серий.
type PrometheusMiddleware struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	errors   *prometheus.CounterVec
}

// NewPrometheusMiddleware регистрирует метрики в reg (nil: без регистрации)
func NewPrometheusMiddleware(namespace string, reg prometheus.Registerer) *PrometheusMiddleware {
	labels := []string{"method", "path", "status"}
	pm := &PrometheusMiddleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Число обработанных HTTP-запросов.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, labels),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы в обработке.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Запросы, завершившиеся кодом 4xx/5xx.",
		}, labels),
	}
	if reg != nil {
		reg.MustRegister(pm.requests, pm.duration, pm.inflight, pm.errors)
	}
	return pm
}

func (pm *PrometheusMiddleware) observe(c *gin.Context, elapsed time.Duration) {
	path := c.FullPath()
	if path == "" {
		path = unmatchedPath
	}
	code := c.Writer.Status()
	status := strconv.Itoa(code)

	pm.requests.WithLabelValues(c.Request.Method, path, status).Inc()
	pm.duration.WithLabelValues(c.Request.Method, path, status).Observe(elapsed.Seconds())
	if code >= 400 {
		pm.errors.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		pm.inflight.Inc()
		defer pm.inflight.Dec()

		c.Next()
		pm.observe(c, time.Since(start))
	}
}

// RegisterMetricsEndpoint GET /metrics поверх g
func RegisterMetricsEndpoint(r gin.IRoutes, g prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}
