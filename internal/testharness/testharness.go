// Package testharness provides a scriptable stand-in for the analysis
// engine, used by integration tests and the load baseline tool.
package testharness

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// BlockingGate lets a test hold engine responses open until released, to
// exercise concurrency and shutdown paths deterministically.
type BlockingGate struct {
	once    sync.Once
	release chan struct{}
}

func NewBlockingGate() *BlockingGate {
	return &BlockingGate{release: make(chan struct{})}
}

// Wait blocks until Release is called.
func (g *BlockingGate) Wait() {
	<-g.release
}

// Release unblocks all waiters. Safe to call more than once.
func (g *BlockingGate) Release() {
	g.once.Do(func() { close(g.release) })
}

// MockEngineServer mimics the analysis engine. Responses are configured per
// path; requests are recorded for assertion.
type MockEngineServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[string]mockResponse
	requests  []RecordedRequest
	gate      *BlockingGate
}

type mockResponse struct {
	status int
	body   []byte
}

// RecordedRequest is one request the mock saw.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

func NewMockEngineServer() *MockEngineServer {
	m := &MockEngineServer{responses: make(map[string]mockResponse)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockEngineServer) Close() {
	m.Server.Close()
}

// URL is the base URL to point the engine client at.
func (m *MockEngineServer) URL() string {
	return m.Server.URL
}

// Respond configures the reply for path. The default for unconfigured paths
// is 200 with an empty JSON object.
func (m *MockEngineServer) Respond(path string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = mockResponse{status: status, body: []byte(body)}
}

// Block makes every request wait on the returned gate before responding.
func (m *MockEngineServer) Block() *BlockingGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = NewBlockingGate()
	return m.gate
}

// Requests returns a copy of everything the mock has seen.
func (m *MockEngineServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockEngineServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	resp, ok := m.responses[r.URL.Path]
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		gate.Wait()
	}

	if !ok {
		resp = mockResponse{status: http.StatusOK, body: []byte(`{}`)}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	w.Write(resp.body)
}
