package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	logger, buf := newBufferLogger()
	handler := Middleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	traceID := rec.Header().Get(HeaderRequestID)
	if !strings.HasPrefix(traceID, "req_") {
		t.Errorf("trace id = %q, want generated req_ id", traceID)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["status"] != float64(201) {
		t.Errorf("logged status = %v, want 201", entry["status"])
	}
	if entry["path"] != "/v1/health" {
		t.Errorf("logged path = %v", entry["path"])
	}
}

func TestMiddlewareEchoesSuppliedRequestID(t *testing.T) {
	logger, _ := newBufferLogger()
	handler := Middleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req_caller_supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "req_caller_supplied" {
		t.Errorf("trace id = %q, want caller's id echoed", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	logger, buf := newBufferLogger()
	handler := RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["error_code"] != "INTERNAL_ERROR" {
		t.Errorf("error_code = %v", body["error_code"])
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("panic value not logged")
	}
}
