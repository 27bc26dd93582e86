package analyze

import (
	"net/http"
	"sync"
	"testing"

	"github.com/pregrade/gateway/internal/testharness"
)

func TestAnalyzeConcurrentRequests(t *testing.T) {
	mock := testharness.NewMockEngineServer()
	defer mock.Close()
	mock.Respond("/analyze", http.StatusOK, `{"grade":8}`)
	gate := mock.Block()

	mux := newTestMux(mock.URL(), 1<<20)
	body := validBody(t, "pokemon")

	const n = 4
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := postAnalyze(t, mux, body)
			codes[i] = rec.Code
		}(i)
	}

	// All requests are in flight against the engine before any completes
	gate.Release()
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status = %d", i, code)
		}
	}
	if got := len(mock.Requests()); got != n {
		t.Errorf("engine saw %d requests, want %d", got, n)
	}
}
