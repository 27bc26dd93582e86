package observability

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/logging"
)

// HeaderRequestID is echoed back if the caller supplied one, otherwise a
// fresh id is generated. This is the transport-level trace id, distinct from
// the content-derived request_id in response bodies.
const HeaderRequestID = "X-Request-Id"

type statusTrackingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusTrackingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusTrackingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Middleware assigns the trace id and writes one access log line per request.
func Middleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(HeaderRequestID)
		if traceID == "" {
			traceID = envelope.NewID("req")
		}
		w.Header().Set(HeaderRequestID, traceID)

		ctx := context.WithValue(r.Context(), logging.RequestIDKey, traceID)
		tracked := &statusTrackingResponseWriter{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(tracked, r.WithContext(ctx))

		logger.InfoContext(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", tracked.status,
			"bytes", tracked.bytes,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

// RecoverMiddleware turns handler panics into INTERNAL_ERROR envelopes. It
// sits outermost so a panic in any later middleware is caught too.
func RecoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(r.Context(), "handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				envelope.WriteError(w, http.StatusInternalServerError, "",
					apierrors.ErrInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
