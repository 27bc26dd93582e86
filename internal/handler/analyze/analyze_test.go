package analyze

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pregrade/gateway/internal/engine"
)

func newTestMux(engineURL string, maxBytes int64) *http.ServeMux {
	var client *engine.Client
	if engineURL != "" {
		client = engine.NewClient(engineURL, 5*time.Second)
	}
	mux := http.NewServeMux()
	NewHandler(client, maxBytes).Register(mux)
	return mux
}

func postAnalyze(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(body))
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func imageB64(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

func validBody(t *testing.T, cardType string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"card_type": cardType,
		"front_image": map[string]string{
			"encoding": "base64",
			"data":     imageB64("fake front bytes"),
		},
		"back_image": map[string]string{
			"encoding": "base64",
			"data":     imageB64("fake back bytes"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(payload)
}

func TestAnalyzeProxiesEngineResult(t *testing.T) {
	var engineGot []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		engineGot, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"api_version":"1.0","request_id":"r1","result":{"grade":9.5,"confidence":0.97}}`))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	sent := validBody(t, "pokemon")
	rec := postAnalyze(t, mux, sent)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	result, _ := body["result"].(map[string]any)
	if result["grade"] != 9.5 {
		t.Errorf("grade = %v", result["grade"])
	}
	if string(engineGot) != sent {
		t.Errorf("engine received %s, want the client body unchanged", engineGot)
	}
}

func TestAnalyzeReturnsEngineBodyUnchanged(t *testing.T) {
	raw := `{"api_version":"1.0","request_id":"abc","result":{"grade":8,"extra_field":"kept"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(raw))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != raw {
		t.Errorf("body = %s, want the engine body byte for byte", rec.Body.String())
	}
}

func TestAnalyzeValidation(t *testing.T) {
	mux := newTestMux("", 64)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{not json`, 400, "INVALID_REQUEST_FORMAT"},
		{"missing card type", `{"front_image":{"encoding":"base64","data":"aGk="}}`, 400, "MISSING_REQUIRED_FIELD"},
		{"missing front image", `{"card_type":"pokemon"}`, 400, "MISSING_REQUIRED_FIELD"},
		{"empty image data", `{"card_type":"pokemon","front_image":{"encoding":"base64","data":""}}`, 400, "MISSING_REQUIRED_FIELD"},
		{"bad base64", `{"card_type":"pokemon","front_image":{"encoding":"base64","data":"@@not-base64@@"}}`, 400, "INVALID_IMAGE_FORMAT"},
		{"bad encoding", `{"card_type":"pokemon","front_image":{"encoding":"hex","data":"aGk="}}`, 400, "INVALID_FIELD_VALUE"},
		{"unsupported card type", `{"card_type":"magic","front_image":{"encoding":"base64","data":"aGk="}}`, 400, "UNSUPPORTED_CARD_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAnalyze(t, mux, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decodeBody(t, rec); body["error_code"] != tt.wantCode {
				t.Errorf("error_code = %v, want %s", body["error_code"], tt.wantCode)
			}
		})
	}
}

func TestAnalyzeAcceptsURLImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"api_version":"1.0","request_id":"r","result":{}}`))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 64)
	body := `{"card_type":"pokemon","front_image":{"encoding":"url","data":"https://cdn.example.com/uploads/t1/front_image/abc.jpg"}}`
	rec := postAnalyze(t, mux, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeImageTooLarge(t *testing.T) {
	mux := newTestMux("", 8)
	payload, _ := json.Marshal(map[string]any{
		"card_type": "pokemon",
		"front_image": map[string]string{
			"encoding": "base64",
			"data":     imageB64("more than eight bytes"),
		},
	})
	rec := postAnalyze(t, mux, string(payload))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if body := decodeBody(t, rec); body["error_code"] != "IMAGE_TOO_LARGE" {
		t.Errorf("error_code = %v", body["error_code"])
	}
}

func TestAnalyzeWithoutEngine(t *testing.T) {
	mux := newTestMux("", 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error_code"] != "NOT_IMPLEMENTED" {
		t.Errorf("error_code = %v", body["error_code"])
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Error("request_id should be derived even without an engine")
	}
}

func TestAnalyzeForwardsEngineErrorEnvelope(t *testing.T) {
	raw := `{"api_version":"1.0","request_id":"r2","error_code":"UNSUPPORTED_CARD_TYPE","error_message":"card_type not supported"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(raw))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want the engine's 400", rec.Code)
	}
	if rec.Body.String() != raw {
		t.Errorf("body = %s, want the engine envelope unchanged", rec.Body.String())
	}
}

func TestAnalyzeCollapsesOpaqueEngineFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream melted"))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error_code"] != "INTERNAL_ERROR" {
		t.Errorf("error_code = %v, want INTERNAL_ERROR", body["error_code"])
	}
}

func TestAnalyzeEngineUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error_code"] != "INTERNAL_ERROR" {
		t.Errorf("error_code = %v, want INTERNAL_ERROR", body["error_code"])
	}
}

func TestGatekeeperRejectionPassesThroughAs200(t *testing.T) {
	raw := `{"api_version":"1.0","request_id":"r3","result":{"gatekeeper_result":{"accepted":false,"reason_codes":["not_a_card"]}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(raw))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := postAnalyze(t, mux, validBody(t, "pokemon"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a gatekeeper rejection", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, present := body["error_code"]; present {
		t.Error("gatekeeper rejections must not carry a top-level error_code")
	}
	result, _ := body["result"].(map[string]any)
	gk, _ := result["gatekeeper_result"].(map[string]any)
	if gk["accepted"] != false {
		t.Errorf("gatekeeper_result = %v, want accepted=false", gk)
	}
}

func TestGradeRequiresBackImage(t *testing.T) {
	mux := newTestMux("", 1<<20)
	body := `{"card_type":"pokemon","front_image":{"encoding":"base64","data":"aGk="}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/grade", bytes.NewBufferString(body))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeBody(t, rec); got["error_code"] != "MISSING_REQUIRED_FIELD" {
		t.Errorf("error_code = %v, want MISSING_REQUIRED_FIELD", got["error_code"])
	}
}

func TestGradeRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"api_version":"1.0","request_id":"r","result":{"grade":7}}`))
	}))
	defer srv.Close()

	mux := newTestMux(srv.URL, 1<<20)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/grade", bytes.NewBufferString(validBody(t, "pokemon")))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPath != "/grade" {
		t.Errorf("engine path = %q, want /grade", gotPath)
	}
}
