package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	apierrors "github.com/pregrade/gateway/internal/errors"
)

const (
	EncodingBase64 = "base64"
	EncodingURL    = "url"
)

// supportedCardTypes gates what the engine is trained on. Anything else is
// rejected at the gateway without an engine round trip.
var supportedCardTypes = map[string]bool{
	"pokemon": true,
}

// ImageInput is one side of a card, either inline base64 bytes or a URL the
// engine fetches itself.
type ImageInput struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// AnalyzeRequest is the engine's request contract, shared by /v1/analyze,
// /v1/grade and async job submission. Grade additionally requires BackImage.
type AnalyzeRequest struct {
	CardType        string      `json:"card_type"`
	FrontImage      *ImageInput `json:"front_image"`
	BackImage       *ImageInput `json:"back_image,omitempty"`
	ClientReference string      `json:"client_reference,omitempty"`
}

// ErrorEnvelope is the engine's structured error body on non-2xx responses.
type ErrorEnvelope struct {
	APIVersion   string `json:"api_version"`
	RequestID    string `json:"request_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// ParseAnalyzeRequest validates body against the engine request contract and
// returns the parsed request plus the front image's identity bytes (the
// decoded image for base64 input, the URL itself for url input). The body is
// not rewritten afterwards; validated requests are forwarded verbatim.
func ParseAnalyzeRequest(body []byte, requireBack bool, maxBytes int64) (*AnalyzeRequest, []byte, error) {
	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, apierrors.New(apierrors.ErrInvalidRequestFormat,
			"request body must be a JSON object", err)
	}
	if req.CardType == "" {
		return nil, nil, apierrors.New(apierrors.ErrMissingRequiredField, "card_type is required", nil)
	}
	if !supportedCardTypes[req.CardType] {
		return nil, nil, apierrors.New(apierrors.ErrUnsupportedCardType,
			fmt.Sprintf("unsupported card type: %s", req.CardType), nil)
	}
	if req.FrontImage == nil {
		return nil, nil, apierrors.New(apierrors.ErrMissingRequiredField, "front_image is required", nil)
	}
	if requireBack && req.BackImage == nil {
		return nil, nil, apierrors.New(apierrors.ErrMissingRequiredField, "back_image is required", nil)
	}

	identity, err := validateImage("front_image", req.FrontImage, maxBytes)
	if err != nil {
		return nil, nil, err
	}
	if req.BackImage != nil {
		if _, err := validateImage("back_image", req.BackImage, maxBytes); err != nil {
			return nil, nil, err
		}
	}
	return &req, identity, nil
}

func validateImage(field string, img *ImageInput, maxBytes int64) ([]byte, error) {
	if img.Data == "" {
		return nil, apierrors.New(apierrors.ErrMissingRequiredField, field+".data is required", nil)
	}
	switch img.Encoding {
	case EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, apierrors.New(apierrors.ErrInvalidImageFormat,
				field+".data must be valid base64", err)
		}
		if int64(len(raw)) > maxBytes {
			return nil, apierrors.New(apierrors.ErrImageTooLarge,
				fmt.Sprintf("%s exceeds %d bytes", field, maxBytes), nil)
		}
		return raw, nil
	case EncodingURL:
		return []byte(img.Data), nil
	default:
		return nil, apierrors.New(apierrors.ErrInvalidFieldValue,
			field+".encoding must be base64 or url", nil)
	}
}
