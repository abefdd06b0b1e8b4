package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/internal/metrics"
)

// RequestLogger logs each request's method/path/status/duration and
// records it onto internal/metrics, grounded on the teacher's intent for
// an apiMiddleware.RequestLogger() in internal/api/routes.go (the teacher
// references it but never defines it; this fills that gap in the same
// zerolog-and-chi style as the rest of the package).
func RequestLogger() func(http.Handler) http.Handler {
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

			labtasklog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Msg("request")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(status), duration.Seconds())
		})
	}
}
