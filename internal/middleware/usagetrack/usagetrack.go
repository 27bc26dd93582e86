// Package usagetrack observes responses on billable routes and feeds the
// usage recorder. It captures a bounded prefix of each response body to read
// the request_id, error_code and gatekeeper verdict the handler wrote.
package usagetrack

import (
	"bytes"
	"net/http"
	"time"

	"github.com/pregrade/gateway/internal/middleware/auth"
	"github.com/pregrade/gateway/internal/service/usage"
)

// captureLimit bounds how much response body is buffered for inspection.
// The envelope fields sit at the front, so 8 KiB is plenty.
const captureLimit = 8 << 10

type bodyCapturingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *bodyCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *bodyCapturingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.buf.Len() < captureLimit {
		room := captureLimit - w.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		w.buf.Write(p[:room])
	}
	return w.ResponseWriter.Write(p)
}

type Middleware struct {
	recorder   *usage.Recorder
	operations map[string]string // path -> operation name
}

func NewMiddleware(recorder *usage.Recorder, operations map[string]string) *Middleware {
	return &Middleware{recorder: recorder, operations: operations}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operation, tracked := m.operations[r.URL.Path]
		if !tracked {
			next.ServeHTTP(w, r)
			return
		}

		capturing := &bodyCapturingWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(capturing, r)

		body := capturing.buf.Bytes()
		accepted, reasonCodes := usage.ExtractGatekeeper(body)
		sample := usage.Sample{
			Operation:   operation,
			StatusCode:  capturing.status,
			RequestID:   usage.ExtractRequestID(body),
			ErrorCode:   usage.ExtractErrorCode(body),
			Accepted:    accepted,
			ReasonCodes: reasonCodes,
			LatencyMS:   time.Since(start).Milliseconds(),
		}
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			sample.TenantID = id.TenantID
			sample.KeyID = id.KeyID
		}
		m.recorder.Record(sample)
	})
}
