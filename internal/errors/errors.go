package errors

import "fmt"

// Code is a machine-readable error code, stable across releases. The
// client-facing subset is serialized verbatim into error envelopes.
type Code string

const (
	// Authentication (401).
	ErrMissingAPIKey Code = "MISSING_API_KEY"
	ErrInvalidAPIKey Code = "INVALID_API_KEY"

	// Rate limiting (429).
	ErrRateLimited Code = "RATE_LIMIT_EXCEEDED"

	// Request validation (400).
	ErrInvalidRequestFormat Code = "INVALID_REQUEST_FORMAT"
	ErrMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	ErrInvalidFieldValue    Code = "INVALID_FIELD_VALUE"
	ErrInvalidImageFormat   Code = "INVALID_IMAGE_FORMAT"
	ErrImageTooLarge        Code = "IMAGE_TOO_LARGE"
	ErrUnsupportedCardType  Code = "UNSUPPORTED_CARD_TYPE"

	// Routing (404).
	ErrRouteNotFound Code = "ROUTE_NOT_FOUND"
	ErrJobNotFound   Code = "JOB_NOT_FOUND"

	// Capability (501): feature not wired up in this deployment.
	ErrNotImplemented Code = "NOT_IMPLEMENTED"

	// Server-side (5xx). Upstream/database codes are internal detail;
	// handlers collapse them to INTERNAL_ERROR at the edge.
	ErrInternalError  Code = "INTERNAL_ERROR"
	ErrUpstreamFailed Code = "UPSTREAM_FAILED"
	ErrDatabaseError  Code = "DATABASE_ERROR"
	ErrUnknown        Code = "UNKNOWN"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GetCode returns the code carried by err, ErrUnknown for foreign errors,
// and the empty code for nil.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	for {
		if coded, ok := err.(*Error); ok {
			return coded.Code
		}
		type unwrapper interface{ Unwrap() error }
		wrapped, ok := err.(unwrapper)
		if !ok {
			return ErrUnknown
		}
		err = wrapped.Unwrap()
		if err == nil {
			return ErrUnknown
		}
	}
}
