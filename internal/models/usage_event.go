package models

import (
	"fmt"
	"strings"
	"time"
)

// UsageEvent records one billable request after it completed. Events are
// append-only; billing reconciliation reads them by time range. Accepted and
// ReasonCodes come from the engine's gatekeeper verdict and are nil when the
// response body was not an analyze envelope.
type UsageEvent struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	KeyID       string    `json:"api_key_id,omitempty"`
	RequestID   string    `json:"request_id"`
	Operation   string    `json:"operation"`
	StatusCode  int       `json:"status_code"`
	ErrorCode   string    `json:"error_code,omitempty"`
	Accepted    *bool     `json:"accepted,omitempty"`
	ReasonCodes []string  `json:"reason_codes,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e *UsageEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("usage event ID is required")
	}
	if strings.TrimSpace(e.Operation) == "" {
		return fmt.Errorf("usage event operation is required")
	}
	if e.StatusCode < 100 || e.StatusCode > 599 {
		return fmt.Errorf("invalid usage event status code: %d", e.StatusCode)
	}
	return nil
}
