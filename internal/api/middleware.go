package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/observability"
)

// RequestLogger logs each request with zap and records HTTP metrics under
// the matched route pattern, so path parameters do not explode label
// cardinality.
func RequestLogger(logger *zap.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)

				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if p := rctx.RoutePattern(); p != "" {
						route = p
					}
				}
				metrics.ObserveRequest(r.Method, route, status, elapsed)

				fields := []zap.Field{
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Duration("duration", elapsed),
				}
				switch {
				case status >= 500:
					logger.Error("HTTP request", fields...)
				case status >= 400:
					logger.Warn("HTTP request", fields...)
				default:
					logger.Info("HTTP request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
