package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// Logger creates a middleware wrapper around a zap Sugared logger that logs
// HTTP requests as structured entries. It must be installed after chi's RequestID
// middleware for the request id to be included.
func Logger(l *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			lw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			h.ServeHTTP(lw, r)
			if lw.Status() == 0 {
				lw.WriteHeader(http.StatusOK)
			}
			fields := newRequestFields().
				method(r.Method).
				path(r.URL.String()).
				params(r.URL.String()).
				requestID(middleware.GetReqID(r.Context())).
				status(lw.Status()).
				duration(time.Since(t1)).
				render()
			if lw.Status() < 500 {
				l.Infow("Request served", fields...)
			} else {
				l.Warnw("Request failed", fields...)
			}
		}
		return http.HandlerFunc(fn)
	}
}
