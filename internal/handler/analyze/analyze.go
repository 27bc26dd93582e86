// Package analyze serves the synchronous proxy routes. The gateway validates
// the request at the boundary, derives the content-based request id, forwards
// the body verbatim to the engine and returns the engine's reply unchanged.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pregrade/gateway/internal/engine"
	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
)

type engineCall func(ctx context.Context, payload []byte) (*engine.Response, error)

type Handler struct {
	engine   *engine.Client
	maxBytes int64
}

// NewHandler builds the sync proxy. engineClient may be nil when no backend
// is configured, in which case the routes answer NOT_IMPLEMENTED.
func NewHandler(engineClient *engine.Client, maxBytes int64) *Handler {
	return &Handler{engine: engineClient, maxBytes: maxBytes}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		h.handleProxy(w, r, h.analyzeCall(), false)
	})
	mux.HandleFunc("POST /v1/grade", func(w http.ResponseWriter, r *http.Request) {
		h.handleProxy(w, r, h.gradeCall(), true)
	})
}

func (h *Handler) analyzeCall() engineCall {
	if h.engine == nil {
		return nil
	}
	return h.engine.Analyze
}

func (h *Handler) gradeCall() engineCall {
	if h.engine == nil {
		return nil
	}
	return h.engine.Grade
}

// ValidationStatus maps a boundary validation error code to its HTTP status.
func ValidationStatus(code apierrors.Code) int {
	if code == apierrors.ErrImageTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request, call engineCall, requireBack bool) {
	// Base64 inflates the image by a third and grade carries two images;
	// quadruple the limit covers both plus the JSON scaffolding.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes*4))
	if err != nil {
		envelope.WriteError(w, http.StatusRequestEntityTooLarge, "",
			apierrors.ErrImageTooLarge, "request body too large")
		return
	}

	req, identity, err := engine.ParseAnalyzeRequest(body, requireBack, h.maxBytes)
	if err != nil {
		code := apierrors.GetCode(err)
		envelope.WriteError(w, ValidationStatus(code), "", code, err.Error())
		return
	}

	requestID := envelope.AnalyzeRequestID(identity, req.CardType)

	if call == nil {
		envelope.WriteError(w, http.StatusNotImplemented, requestID,
			apierrors.ErrNotImplemented, "no analysis engine configured")
		return
	}

	// The validated body goes to the engine verbatim; the gateway never
	// rewrites analysis semantics.
	resp, err := call(r.Context(), body)
	if err != nil {
		envelope.WriteError(w, http.StatusInternalServerError, requestID,
			apierrors.ErrInternalError, "analysis engine unreachable")
		return
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Gatekeeper rejections arrive here too, as HTTP 200 with
		// result.gatekeeper_result.accepted = false. A rejection is a
		// billable verdict, not a transport failure.
		writeRaw(w, resp.StatusCode, resp.Body)
		return
	}

	// The engine's own error envelope is forwarded untouched when it parses;
	// anything else collapses to a generic internal error.
	var engineErr engine.ErrorEnvelope
	if json.Unmarshal(resp.Body, &engineErr) == nil && engineErr.ErrorCode != "" {
		writeRaw(w, resp.StatusCode, resp.Body)
		return
	}
	envelope.WriteError(w, http.StatusInternalServerError, requestID,
		apierrors.ErrInternalError,
		fmt.Sprintf("analysis engine returned status %d", resp.StatusCode))
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
