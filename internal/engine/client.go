// Package engine is the HTTP client for the card analysis engine sitting
// behind the gateway.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	analyzePath = "/analyze"
	gradePath   = "/grade"
)

// Response carries the engine's reply verbatim. The gateway forwards engine
// bodies as-is on the sync path, including application-level rejections the
// engine reports with HTTP 200.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient builds a client for the engine at baseURL. One request gets one
// attempt; retrying an analysis would double partner charges.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

func (c *Client) Analyze(ctx context.Context, payload []byte) (*Response, error) {
	return c.post(ctx, analyzePath, payload)
}

func (c *Client) Grade(ctx context.Context, payload []byte) (*Response, error) {
	return c.post(ctx, gradePath, payload)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
