package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pregrade/gateway/internal/config"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/models"
)

type fakeVerifier struct {
	keys map[string]*models.APIKey
	err  error
}

func (f *fakeVerifier) Authenticate(_ context.Context, plaintext string) (*models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	k, ok := f.keys[plaintext]
	if !ok {
		return nil, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
	}
	return k, nil
}

func identityCapturingHandler(captured *Identity, found *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		*captured = id
		*found = ok
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, m *Middleware, apiKey, path string) (*httptest.ResponseRecorder, Identity, bool) {
	t.Helper()
	var captured Identity
	var found bool
	handler := m.Wrap(identityCapturingHandler(&captured, &found))

	req := httptest.NewRequest(http.MethodPost, path, nil)
	if apiKey != "" {
		req.Header.Set(HeaderAPIKey, apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured, found
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		ErrorCode string          `json:"error_code"`
		RequestID json.RawMessage `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if string(body.RequestID) != "null" {
		t.Errorf("request_id = %s, want null before identity is derived", body.RequestID)
	}
	return body.ErrorCode
}

func TestOpenModePassesThrough(t *testing.T) {
	m := NewMiddleware(config.AuthModeOpen, nil, nil)
	rec, _, found := doRequest(t, m, "", "/v1/analyze")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if found {
		t.Error("open mode should not attach an identity")
	}
}

func TestMissingKey(t *testing.T) {
	m := NewMiddleware(config.AuthModeStatic, []string{"pg_good"}, nil)
	rec, _, _ := doRequest(t, m, "", "/v1/analyze")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "MISSING_API_KEY" {
		t.Errorf("error_code = %q", code)
	}
}

func TestStaticMode(t *testing.T) {
	m := NewMiddleware(config.AuthModeStatic, []string{"pg_good", "pg_other"}, nil)

	rec, id, found := doRequest(t, m, "pg_good", "/v1/analyze")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !found || id.TenantID == "" {
		t.Error("static mode should attach a pseudo-tenant identity")
	}

	_, otherID, _ := doRequest(t, m, "pg_other", "/v1/analyze")
	if otherID.TenantID == id.TenantID {
		t.Error("distinct static keys should map to distinct tenants")
	}

	rec, _, _ = doRequest(t, m, "pg_bad", "/v1/analyze")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_API_KEY" {
		t.Errorf("error_code = %q", code)
	}
}

func TestStoreMode(t *testing.T) {
	verifier := &fakeVerifier{keys: map[string]*models.APIKey{
		"pg_good": {ID: "key_1", TenantID: "ten_1"},
	}}
	m := NewMiddleware(config.AuthModeStore, nil, verifier)

	rec, id, found := doRequest(t, m, "pg_good", "/v1/analyze")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !found || id.TenantID != "ten_1" || id.KeyID != "key_1" {
		t.Errorf("identity = %+v", id)
	}

	rec, _, _ = doRequest(t, m, "pg_bad", "/v1/analyze")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestStoreModeDatabaseFailure(t *testing.T) {
	verifier := &fakeVerifier{err: apierrors.New(apierrors.ErrDatabaseError, "db down", nil)}
	m := NewMiddleware(config.AuthModeStore, nil, verifier)

	rec, _, _ := doRequest(t, m, "pg_good", "/v1/analyze")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when the store is unreachable", rec.Code)
	}
	if code := errorCode(t, rec); code != "INTERNAL_ERROR" {
		t.Errorf("error_code = %q, internal codes must not reach the client", code)
	}
}

func TestStoreModeWithoutVerifier(t *testing.T) {
	m := NewMiddleware(config.AuthModeStore, nil, nil)
	rec, _, _ := doRequest(t, m, "pg_good", "/v1/analyze")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 for misconfigured auth", rec.Code)
	}
}

func TestExemptPath(t *testing.T) {
	m := NewMiddleware(config.AuthModeStatic, []string{"pg_good"}, nil, "/v1/health")
	rec, _, _ := doRequest(t, m, "", "/v1/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for exempt path", rec.Code)
	}
}
