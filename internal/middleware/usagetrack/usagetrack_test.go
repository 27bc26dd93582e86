package usagetrack

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pregrade/gateway/internal/middleware/auth"
	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/service/usage"
)

type recordingRepo struct {
	mu     sync.Mutex
	events []*models.UsageEvent
}

func (r *recordingRepo) Create(_ context.Context, e *models.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingRepo) ListByTimeRange(context.Context, string, time.Time, time.Time) ([]*models.UsageEvent, error) {
	return nil, nil
}

func setup(handler http.Handler) (*recordingRepo, *usage.Recorder, http.Handler) {
	repo := &recordingRepo{}
	recorder := usage.NewRecorder(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := NewMiddleware(recorder, map[string]string{"/v1/analyze": "analyze"})
	return repo, recorder, m.Wrap(handler)
}

func TestTrackedRouteRecordsSample(t *testing.T) {
	repo, recorder, handler := setup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"api_version":"1.0","request_id":"abc_12345678","result":{"grade":9}}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{TenantID: "ten_1", KeyID: "key_1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	recorder.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.Operation != "analyze" || e.TenantID != "ten_1" || e.RequestID != "abc_12345678" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.KeyID != "key_1" {
		t.Errorf("KeyID = %q, want key_1", e.KeyID)
	}
	if e.Accepted != nil {
		t.Errorf("Accepted = %v, want nil without a gatekeeper verdict", e.Accepted)
	}
}

func TestGatekeeperRejectionWithHTTP200(t *testing.T) {
	repo, recorder, handler := setup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"api_version":"1.0","request_id":"abc_12345678","result":{"gatekeeper_result":{"accepted":false,"reason_codes":["not_a_card"]}}}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	recorder.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.Accepted == nil || *e.Accepted {
		t.Errorf("Accepted = %v, want false", e.Accepted)
	}
	if len(e.ReasonCodes) != 1 || e.ReasonCodes[0] != "not_a_card" {
		t.Errorf("ReasonCodes = %v", e.ReasonCodes)
	}
	if e.ErrorCode != "" {
		t.Errorf("ErrorCode = %q, rejections carry no error code", e.ErrorCode)
	}
	if e.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", e.StatusCode)
	}
}

func TestErrorEnvelopeRecordsErrorCode(t *testing.T) {
	repo, recorder, handler := setup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"api_version":"1.0","request_id":"abc_12345678","error_code":"UNSUPPORTED_CARD_TYPE","error_message":"nope"}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	recorder.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.ErrorCode != "UNSUPPORTED_CARD_TYPE" || e.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Accepted != nil {
		t.Errorf("Accepted = %v, want nil for an error envelope", e.Accepted)
	}
}

func TestUntrackedRouteIsIgnored(t *testing.T) {
	repo, recorder, handler := setup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	recorder.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 0 {
		t.Errorf("untracked route recorded %d events", len(repo.events))
	}
}

func TestResponseBodyPassesThroughUnchanged(t *testing.T) {
	_, recorder, handler := setup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"grade":9}`))
	}))
	defer recorder.Close()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	if rec.Body.String() != `{"grade":9}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}
