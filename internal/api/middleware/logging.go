package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const eventStreamType = "text/event-stream"

// quietPaths are polled by probes and scrapers and log at debug level.
var quietPaths = map[string]bool{
	"/metrics":       true,
	"/v1/ops/health": true,
	"/v1/ops/ready":  true,
}

// responseWriter records the status and body size for the access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
	onStream    func()
}

func newResponseWriter(w http.ResponseWriter, onStream func()) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, onStream: onStream}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.statusCode = code
		if rw.isStream() && rw.onStream != nil {
			rw.onStream()
		}
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying Flusher for event streams.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) isStream() bool {
	return strings.HasPrefix(rw.Header().Get("Content-Type"), eventStreamType)
}

// Logger returns a middleware that writes one access log line per request.
// Event streams get an extra line when they open, and their closing line
// carries the stream lifetime.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := requestLogger(log, r)

			wrapped := newResponseWriter(w, func() {
				reqLog.Info().Str("path", r.URL.Path).Msg("stream opened")
			})

			next.ServeHTTP(wrapped, r)

			ev := reqLog.WithLevel(accessLevel(r.URL.Path, wrapped.statusCode))
			msg := "request completed"
			if wrapped.isStream() {
				msg = "stream closed"
			}

			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg(msg)
		})
	}
}

// requestLogger tags log with the request and trace identifiers.
func requestLogger(log zerolog.Logger, r *http.Request) zerolog.Logger {
	ctx := log.With().Str("request_id", GetRequestID(r.Context()))

	traceID, spanID := "", ""
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		traceID = sc.TraceID().String()
		spanID = sc.SpanID().String()
	}
	return ctx.Str("trace_id", traceID).Str("span_id", spanID).Logger()
}

func accessLevel(path string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	case quietPaths[path]:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
