package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type logEntryKey struct{}

// logEntry collects fields that only become known while the request is in
// flight, such as the identity the auth middleware resolves further down
// the chain.
type logEntry struct {
	identity string
}

// setLogIdentity records the authenticated identity on the request's log
// entry. A no-op when the logging middleware is not installed.
func setLogIdentity(ctx context.Context, identity string) {
	if e, ok := ctx.Value(logEntryKey{}).(*logEntry); ok {
		e.identity = identity
	}
}

// Logger returns middleware that writes one structured line per request:
// method, path, status, duration, bytes, request ID, and the identity that
// token budgets are accounted against when auth resolved one. Health probe
// endpoints log at debug so orchestrator polling does not drown out the
// explain traffic.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			entry := &logEntry{}
			r = r.WithContext(context.WithValue(r.Context(), logEntryKey{}, entry))

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			case isProbePath(r.URL.Path):
				level = slog.LevelDebug
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if entry.identity != "" {
				attrs = append(attrs, "identity", entry.identity)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

func isProbePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// responseWriter captures the status code and body size on the way out.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer so http.Flusher and friends still
// work through the chain.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
