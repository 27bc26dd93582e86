// Package jobs runs asynchronous analyses. Submitted jobs are persisted
// first and then fed to a bounded worker pool; job status only ever moves
// forward and every submitted job reaches a terminal state.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pregrade/gateway/internal/engine"
	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/repository"
)

// Engine is the slice of the engine client the workers need.
type Engine interface {
	Analyze(ctx context.Context, payload []byte) (*engine.Response, error)
}

type Orchestrator struct {
	repo   repository.JobRepository
	engine Engine
	logger *slog.Logger
	now    func() time.Time

	queue   chan string
	workers int
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewOrchestrator(repo repository.JobRepository, eng Engine, logger *slog.Logger, workers, queueSize int) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		engine:  eng,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

func (o *Orchestrator) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
}

// Stop drains the queue and waits for in-flight jobs.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()
	o.wg.Wait()
}

// SubmitParams describes one async analysis request. Payload is the
// partner's validated request body, stored and later replayed against the
// engine verbatim. TenantID is empty for anonymous submissions.
type SubmitParams struct {
	TenantID  string
	RequestID string
	Payload   json.RawMessage
}

// Submit persists the job as pending and enqueues it. If the queue is full
// the job is still persisted, then immediately failed, so the partner always
// gets a job id whose final state they can poll.
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (*models.Job, error) {
	now := o.now().UTC()
	job := &models.Job{
		ID:        envelope.NewID("job"),
		TenantID:  params.TenantID,
		RequestID: params.RequestID,
		Payload:   params.Payload,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to persist job", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		o.failJob(job.ID, apierrors.ErrInternalError, "gateway shutting down")
		job.Status = models.JobStatusFailed
		return job, nil
	}
	select {
	case o.queue <- job.ID:
	default:
		o.failJob(job.ID, apierrors.ErrInternalError, "job queue full")
		job.Status = models.JobStatusFailed
	}
	return job, nil
}

// Poll returns the job visible to the caller. An empty tenantID is an
// unscoped query and matches any job; a tenant-scoped query matches the
// tenant's own jobs plus ownerless ones.
func (o *Orchestrator) Poll(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	job, err := o.repo.GetByID(ctx, tenantID, jobID)
	if repository.IsNotFound(err) {
		return nil, apierrors.New(apierrors.ErrJobNotFound, "job not found", err)
	}
	if err != nil {
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to load job", err)
	}
	return job, nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for id := range o.queue {
		o.runJob(id)
	}
}

// runJob executes one job to a terminal state. A panic anywhere in the
// pipeline fails the job instead of killing the worker.
func (o *Orchestrator) runJob(id string) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("job worker panic",
				"job_id", id,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			o.failJob(id, apierrors.ErrInternalError, fmt.Sprintf("worker panic: %v", rec))
		}
	}()

	ctx := context.Background()

	if err := o.repo.MarkProcessing(ctx, id, o.now().UTC()); err != nil {
		// Already moved on, nothing to do.
		o.logger.Warn("skipping job", "job_id", id, "error", err)
		return
	}

	job, err := o.repo.GetByID(ctx, "", id)
	if err != nil {
		o.failJob(id, apierrors.ErrInternalError, "failed to reload job")
		return
	}

	resp, err := o.engine.Analyze(ctx, job.Payload)
	if err != nil {
		// UPSTREAM_FAILED stays in the logs; the partner-visible job
		// carries the generic internal code.
		o.logger.Error("engine call failed",
			"job_id", id,
			"error_class", string(apierrors.ErrUpstreamFailed),
			"error", err,
		)
		o.failJob(id, apierrors.ErrInternalError, "analysis engine unreachable")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep the engine's own error code when its envelope parses; the
		// failed job is what the partner polls.
		var engineErr engine.ErrorEnvelope
		if json.Unmarshal(resp.Body, &engineErr) == nil && engineErr.ErrorCode != "" {
			o.failJob(id, apierrors.Code(engineErr.ErrorCode), engineErr.ErrorMessage)
			return
		}
		o.failJob(id, apierrors.ErrInternalError,
			fmt.Sprintf("analysis engine returned status %d", resp.StatusCode))
		return
	}

	// Application-level rejections arrive with HTTP 200 and are a completed
	// outcome: the partner reads the verdict from the result body.
	if err := o.repo.Complete(ctx, id, json.RawMessage(resp.Body), o.now().UTC()); err != nil {
		o.logger.Error("failed to complete job", "job_id", id, "error", err)
	}
}

func (o *Orchestrator) failJob(id string, code apierrors.Code, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.repo.Fail(ctx, id, string(code), message, o.now().UTC()); err != nil {
		o.logger.Error("failed to mark job failed", "job_id", id, "error", err)
	}
}
