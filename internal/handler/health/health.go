package health

import (
	"net/http"

	"github.com/pregrade/gateway/internal/envelope"
)

type Handler struct {
	engineConfigured bool
	databaseType     string
}

func NewHandler(engineConfigured bool, databaseType string) *Handler {
	return &Handler{engineConfigured: engineConfigured, databaseType: databaseType}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", h.handleHealth)
}

type healthResponse struct {
	OK               bool   `json:"ok"`
	APIVersion       string `json:"api_version"`
	EngineConfigured bool   `json:"engine_configured"`
	Database         string `json:"database"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	envelope.WriteJSON(w, http.StatusOK, healthResponse{
		OK:               true,
		APIVersion:       envelope.APIVersion,
		EngineConfigured: h.engineConfigured,
		Database:         h.databaseType,
	})
}
