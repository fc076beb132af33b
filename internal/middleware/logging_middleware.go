package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/statesync/internal/logging"
)

// TraceIDKey ключ trace-ID в gin.Context
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет строку лога
// с уровнем по коду ответа.
type RequestLogger struct {
	logger *logging.Logger
	quiet  map[string]bool
}

// NewRequestLogger nil означает логгер компонента "http".
// Запросы к quietPaths пишутся только на уровне DEBUG.
func NewRequestLogger(logger *logging.Logger, quietPaths ...string) *RequestLogger {
	if logger == nil {
		logger = logging.GetComponentLogger("http")
	}
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}
	return &RequestLogger{logger: logger, quiet: quiet}
}

func traceIDOf(c *gin.Context) string {
	if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := traceIDOf(c)
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		const format = "[HTTP] %s %s %d %s ip=%s trace=%s"
		args := []interface{}{c.Request.Method, path, status, time.Since(start), c.ClientIP(), traceID}
		switch {
		case status >= 500:
			rl.logger.Error(format, args...)
		case status >= 400:
			rl.logger.Warn(format, args...)
		case rl.quiet[path]:
			rl.logger.Debug(format, args...)
		default:
			rl.logger.Info(format, args...)
		}
	}
}
