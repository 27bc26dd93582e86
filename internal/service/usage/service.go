// Package usage records billable request outcomes. Recording is best effort
// and asynchronous: a partner response never waits on the usage write, and a
// failed write is logged, not surfaced.
package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pregrade/gateway/internal/envelope"
	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/repository"
)

const writeTimeout = 5 * time.Second

type Recorder struct {
	repo   repository.UsageEventRepository
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewRecorder(repo repository.UsageEventRepository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// Sample is the outcome of one completed request. Accepted and ReasonCodes
// are the gatekeeper verdict when the response body carried one.
type Sample struct {
	TenantID    string
	KeyID       string
	RequestID   string
	Operation   string
	StatusCode  int
	ErrorCode   string
	Accepted    *bool
	ReasonCodes []string
	LatencyMS   int64
}

// Record persists the sample in the background. The write gets its own
// context; the request context is already done by the time it runs.
func (r *Recorder) Record(sample Sample) {
	if r == nil || r.repo == nil {
		return
	}

	event := &models.UsageEvent{
		ID:          envelope.NewID("evt"),
		TenantID:    sample.TenantID,
		KeyID:       sample.KeyID,
		RequestID:   sample.RequestID,
		Operation:   sample.Operation,
		StatusCode:  sample.StatusCode,
		ErrorCode:   sample.ErrorCode,
		Accepted:    sample.Accepted,
		ReasonCodes: sample.ReasonCodes,
		LatencyMS:   sample.LatencyMS,
		CreatedAt:   r.now().UTC(),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.repo.Create(ctx, event); err != nil {
			r.logger.Error("failed to record usage event",
				"error", err,
				"operation", event.Operation,
				"tenant_id", event.TenantID,
			)
		}
	}()
}

// Close waits for in-flight writes during shutdown.
func (r *Recorder) Close() {
	if r != nil {
		r.wg.Wait()
	}
}

// ExtractErrorCode pulls error_code out of an error envelope body.
func ExtractErrorCode(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.ErrorCode
}

// ExtractRequestID pulls request_id out of a response body.
func ExtractRequestID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		RequestID *string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.RequestID == nil {
		return ""
	}
	return *parsed.RequestID
}

// ExtractGatekeeper pulls the gatekeeper verdict out of an analyze envelope.
// Rejections arrive with HTTP 200 and accepted = false; bodies that are not
// analyze envelopes yield a nil accepted.
func ExtractGatekeeper(body []byte) (*bool, []string) {
	if len(body) == 0 {
		return nil, nil
	}
	var parsed struct {
		Result struct {
			GatekeeperResult *struct {
				Accepted    bool     `json:"accepted"`
				ReasonCodes []string `json:"reason_codes"`
			} `json:"gatekeeper_result"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Result.GatekeeperResult == nil {
		return nil, nil
	}
	gk := parsed.Result.GatekeeperResult
	return &gk.Accepted, gk.ReasonCodes
}
