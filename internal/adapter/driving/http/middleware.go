package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// healthRoute is polled by the container healthcheck; its lines go to debug.
const healthRoute = "GET /api/v1/health"

// responseRecorder remembers the status and body size written through it.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// routeOf is the mux pattern that served r. It is only set once the mux has
// routed the request.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// instrument logs one line per request and, when obs is set, reports it for
// metrics. Server errors log at warn.
func instrument(logger *slog.Logger, obs RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rr, r)

		elapsed := time.Since(start)
		route := routeOf(r)
		if obs != nil {
			obs.ObserveRequest(r.Method, route, rr.status, elapsed)
		}

		level := slog.LevelInfo
		switch {
		case rr.status >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case route == healthRoute:
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "request served",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", rr.status,
			"bytes", rr.bytes,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// recoverPanics turns a handler panic into a 500 JSON error. Aborted
// handlers keep their panic so net/http can drop the connection.
func recoverPanics(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.ErrorContext(context.WithoutCancel(r.Context()), "handler panicked",
				"route", routeOf(r),
				"panic", v,
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
