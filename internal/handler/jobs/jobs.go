// Package jobs serves the asynchronous job routes: submit an analysis to run
// in the background and poll its status.
package jobs

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pregrade/gateway/internal/engine"
	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/handler/analyze"
	jobspkg "github.com/pregrade/gateway/internal/jobs"
	"github.com/pregrade/gateway/internal/middleware/auth"
	"github.com/pregrade/gateway/internal/models"
)

type Handler struct {
	orchestrator *jobspkg.Orchestrator
	maxBytes     int64
}

func NewHandler(orchestrator *jobspkg.Orchestrator, maxBytes int64) *Handler {
	return &Handler{orchestrator: orchestrator, maxBytes: maxBytes}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", h.handleSubmit)
	mux.HandleFunc("GET /v1/jobs/{id}", h.handlePoll)
}

type jobView struct {
	APIVersion   string          `json:"api_version"`
	RequestID    string          `json:"request_id"`
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func viewOf(job *models.Job) jobView {
	return jobView{
		APIVersion:   envelope.APIVersion,
		RequestID:    job.RequestID,
		JobID:        job.ID,
		Status:       string(job.Status),
		Result:       job.Result,
		ErrorCode:    job.ErrorCode,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
}

// handleSubmit takes the same body as /v1/analyze, persists it and returns
// the pending job without waiting on execution.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator == nil {
		envelope.WriteError(w, http.StatusNotImplemented, "",
			apierrors.ErrNotImplemented, "async jobs not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes*4))
	if err != nil {
		envelope.WriteError(w, http.StatusRequestEntityTooLarge, "",
			apierrors.ErrImageTooLarge, "request body too large")
		return
	}

	req, identity, err := engine.ParseAnalyzeRequest(body, false, h.maxBytes)
	if err != nil {
		code := apierrors.GetCode(err)
		envelope.WriteError(w, analyze.ValidationStatus(code), "", code, err.Error())
		return
	}

	var tenantID string
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		tenantID = id.TenantID
	}

	requestID := envelope.AnalyzeRequestID(identity, req.CardType)

	job, err := h.orchestrator.Submit(r.Context(), jobspkg.SubmitParams{
		TenantID:  tenantID,
		RequestID: requestID,
		Payload:   body,
	})
	if err != nil {
		envelope.WriteError(w, http.StatusInternalServerError, requestID,
			apierrors.ErrInternalError, "failed to submit job")
		return
	}

	envelope.WriteJSON(w, http.StatusAccepted, viewOf(job))
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator == nil {
		envelope.WriteError(w, http.StatusNotImplemented, "",
			apierrors.ErrNotImplemented, "async jobs not configured")
		return
	}

	var tenantID string
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		tenantID = id.TenantID
	}

	job, err := h.orchestrator.Poll(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if apierrors.GetCode(err) == apierrors.ErrJobNotFound {
			envelope.WriteError(w, http.StatusNotFound, "",
				apierrors.ErrJobNotFound, "job not found")
			return
		}
		envelope.WriteError(w, http.StatusInternalServerError, "",
			apierrors.ErrInternalError, "failed to load job")
		return
	}

	envelope.WriteJSON(w, http.StatusOK, viewOf(job))
}
