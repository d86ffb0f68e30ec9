package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// RequestLogger assigns a request id (kept from the client when present),
// logs one line per request and records the request metrics. route maps a
// request to a low-cardinality label; nil uses the raw path.
func RequestLogger(logger *zap.Logger, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic serving request",
						zap.String("request_id", id),
						zap.String("path", r.URL.Path),
						zap.Any("panic", p),
						zap.Stack("stack"),
					)
					if rec.status == 0 {
						writeError(rec, http.StatusInternalServerError, "internal error")
					}
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)
				label := r.URL.Path
				if route != nil {
					label = route(r)
				}
				metrics.HTTPRequests.WithLabelValues(r.Method, label, strconv.Itoa(status)).Inc()
				metrics.HTTPDuration.WithLabelValues(r.Method, label).Observe(elapsed.Seconds())

				fields := []zap.Field{
					zap.String("request_id", id),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", rec.bytes),
					zap.Duration("duration", elapsed),
				}
				switch {
				case status >= 500:
					logger.Error("request", fields...)
				case status >= 400:
					logger.Warn("request", fields...)
				default:
					logger.Debug("request", fields...)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
