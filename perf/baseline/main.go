// Command baseline hammers a running gateway's sync analyze route and prints
// latency percentiles. Point it at a gateway backed by a mock engine to
// measure gateway overhead in isolation.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type result struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	target := flag.String("target", "http://127.0.0.1:8080", "gateway base URL")
	apiKey := flag.String("api-key", "", "API key, empty for open mode")
	concurrency := flag.Int("concurrency", 8, "concurrent workers")
	total := flag.Int("requests", 200, "total requests")
	imageBytes := flag.Int("image-bytes", 64<<10, "synthetic image size")
	flag.Parse()

	payload, err := buildPayload(*imageBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build payload: %v\n", err)
		os.Exit(1)
	}

	jobsCh := make(chan struct{}, *total)
	for i := 0; i < *total; i++ {
		jobsCh <- struct{}{}
	}
	close(jobsCh)

	results := make([]result, 0, *total)
	var mu sync.Mutex
	var wg sync.WaitGroup

	client := &http.Client{Timeout: 30 * time.Second}
	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobsCh {
				r := fire(client, *target, *apiKey, payload)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	report(results, elapsed)
}

func buildPayload(size int) ([]byte, error) {
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i % 251)
	}
	return json.Marshal(map[string]any{
		"card_type": "pokemon",
		"front_image": map[string]string{
			"encoding": "base64",
			"data":     base64.StdEncoding.EncodeToString(image),
		},
	})
}

func fire(client *http.Client, target, apiKey string, payload []byte) result {
	req, err := http.NewRequest(http.MethodPost, target+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return result{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return result{latency: latency, err: err}
	}
	resp.Body.Close()
	return result{latency: latency, status: resp.StatusCode}
}

func report(results []result, elapsed time.Duration) {
	latencies := make([]time.Duration, 0, len(results))
	statuses := make(map[int]int)
	errCount := 0
	for _, r := range results {
		if r.err != nil {
			errCount++
			continue
		}
		statuses[r.status]++
		latencies = append(latencies, r.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	out := map[string]any{
		"requests":   len(results),
		"errors":     errCount,
		"statuses":   statuses,
		"elapsed_ms": elapsed.Milliseconds(),
		"rps":        float64(len(results)) / elapsed.Seconds(),
		"p50_ms":     percentile(latencies, 0.50).Milliseconds(),
		"p95_ms":     percentile(latencies, 0.95).Milliseconds(),
		"p99_ms":     percentile(latencies, 0.99).Milliseconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
