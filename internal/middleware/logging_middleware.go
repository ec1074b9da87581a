package middleware

import (
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey - ключ gin.Context с trace-ID запроса
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Использует глобальный logging пакет (Info/Debug).
type RequestLogger struct {
	skip map[string]struct{}
	log  *logging.Logger
}

// NewRequestLogger создаёт логгер запросов. Пути из skip (например, /metrics)
// логируются только на уровне Debug.
func NewRequestLogger(skip ...string) *RequestLogger {
	rl := &RequestLogger{skip: make(map[string]struct{}, len(skip))}
	for _, p := range skip {
		rl.skip[p] = struct{}{}
	}
	return rl
}

// WithLogger направляет логи запросов в отдельный логгер компонента
// (например, "http" из logging.LoggerManager) вместо глобального.
func (rl *RequestLogger) WithLogger(l *logging.Logger) *RequestLogger {
	rl.log = l
	return rl
}

func (rl *RequestLogger) debug(format string, args ...interface{}) {
	if rl.log != nil {
		rl.log.Debug(format, args...)
		return
	}
	logging.Debug(format, args...)
}

func (rl *RequestLogger) info(format string, args ...interface{}) {
	if rl.log != nil {
		rl.log.Info(format, args...)
		return
	}
	logging.Info(format, args...)
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if _, quiet := rl.skip[path]; quiet {
			rl.debug("[HTTP] %s %s %d %s trace=%s", method, path, status, latency, traceID)
			return
		}
		rl.info("[HTTP] %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
	}
}
