package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/metrics"
)

// RequestLogger returns a middleware that logs each request at info level
// and records it in the HTTP request metrics, keyed by route pattern
// rather than raw path so per-client path params don't blow up
// cardinality.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			path := r.URL.Path
			if rc := chimw.GetReqID(r.Context()); rc != "" {
				logger.Info().
					Str("request_id", rc).
					Str("method", r.Method).
					Str("path", path).
					Int("status", status).
					Dur("duration", duration).
					Msg("request handled")
			} else {
				logger.Info().
					Str("method", r.Method).
					Str("path", path).
					Int("status", status).
					Dur("duration", duration).
					Msg("request handled")
			}

			route := path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), duration.Seconds())
		})
	}
}
