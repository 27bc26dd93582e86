// Package envelope owns the response wire format of the gateway: the
// api_version marker, request identities and the error body shape shared by
// every handler and middleware.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/pregrade/gateway/internal/errors"
)

// APIVersion is stamped on every response the gateway itself produces.
const APIVersion = "1.0"

// AnalyzeRequestID derives the request identity from the request content
// itself. The same image and card type always produce the same id, which
// lets partners correlate retries without the gateway storing anything.
func AnalyzeRequestID(image []byte, cardType string) string {
	imageSum := sha256.Sum256(image)
	typeSum := sha256.Sum256([]byte(cardType))
	return hex.EncodeToString(imageSum[:])[:24] + "_" + hex.EncodeToString(typeSum[:])[:8]
}

// NewID returns a prefixed random identifier, e.g. "job_4f2c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// ErrorBody is the uniform error envelope. RequestID is null when the
// failure happened before a request identity could be derived.
type ErrorBody struct {
	APIVersion   string  `json:"api_version"`
	RequestID    *string `json:"request_id"`
	ErrorCode    string  `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
}

// WriteJSON writes payload with the JSON content type. Encoding failures are
// logged and otherwise dropped; headers are already out by then.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes the error envelope. Pass requestID "" to emit null.
func WriteError(w http.ResponseWriter, status int, requestID string, code apierrors.Code, message string) {
	body := ErrorBody{
		APIVersion:   APIVersion,
		ErrorCode:    string(code),
		ErrorMessage: message,
	}
	if requestID != "" {
		body.RequestID = &requestID
	}
	WriteJSON(w, status, body)
}
