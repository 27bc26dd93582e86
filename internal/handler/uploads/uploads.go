// Package uploads serves the upload credential route. Partners declare what
// they intend to upload and get back a short-lived presigned URL; the bytes
// never pass through the gateway.
package uploads

import (
	"encoding/json"
	"net/http"

	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/middleware/auth"
	brokerpkg "github.com/pregrade/gateway/internal/uploads"
)

// anonymousTenant namespaces uploads in open auth mode.
const anonymousTenant = "anonymous"

type Handler struct {
	broker *brokerpkg.Broker
}

// NewHandler builds the route. broker may be nil when no object store is
// configured; the route then answers NOT_IMPLEMENTED.
func NewHandler(broker *brokerpkg.Broker) *Handler {
	return &Handler{broker: broker}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/uploads", h.handleCreate)
}

type createRequest struct {
	Kind          string `json:"kind"`
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
}

type createResponse struct {
	APIVersion string `json:"api_version"`
	*brokerpkg.Grant
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		envelope.WriteError(w, http.StatusNotImplemented, "",
			apierrors.ErrNotImplemented, "no object store configured")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		envelope.WriteError(w, http.StatusBadRequest, "",
			apierrors.ErrInvalidRequestFormat, "request body must be a JSON object")
		return
	}
	if req.Kind == "" {
		envelope.WriteError(w, http.StatusBadRequest, "",
			apierrors.ErrMissingRequiredField, "kind is required")
		return
	}
	if req.ContentType == "" {
		envelope.WriteError(w, http.StatusBadRequest, "",
			apierrors.ErrMissingRequiredField, "content_type is required")
		return
	}

	tenantID := anonymousTenant
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		tenantID = id.TenantID
	}

	grant, err := h.broker.CreateGrant(r.Context(), tenantID, req.Kind, req.ContentType, req.ContentLength)
	if err != nil {
		code := apierrors.GetCode(err)
		status := http.StatusBadRequest
		switch code {
		case apierrors.ErrImageTooLarge:
			status = http.StatusRequestEntityTooLarge
		case apierrors.ErrInternalError:
			status = http.StatusInternalServerError
		}
		envelope.WriteError(w, status, "", code, err.Error())
		return
	}

	envelope.WriteJSON(w, http.StatusCreated, createResponse{
		APIVersion: envelope.APIVersion,
		Grant:      grant,
	})
}
