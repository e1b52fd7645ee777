// Package apperror defines the typed application error used across every
// component, carrying an HTTP-shaped status/code/message plus the error
// kind a caller needs to branch on (validation, not_found, rate_limited,
// transient, bad_llm_output, conflict, exhausted, cancelled, internal).
package apperror

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and error kind.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error so errors.Is/As work through apperror.
func (e *Error) Unwrap() error {
	return e.Internal
}

// ToEchoError converts the app error to an echo.HTTPError for the HTTP edge.
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// WithInternal returns a copy of the error with an internal error attached.
func (e *Error) WithInternal(err error) *Error {
	return &Error{HTTPStatus: e.HTTPStatus, Code: e.Code, Message: e.Message, Internal: err, Details: e.Details}
}

// WithMessage returns a copy of the error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{HTTPStatus: e.HTTPStatus, Code: e.Code, Message: message, Internal: e.Internal, Details: e.Details}
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{HTTPStatus: e.HTTPStatus, Code: e.Code, Message: e.Message, Internal: e.Internal, Details: details}
}

// IsKind reports whether err is an *Error whose Code matches kind.
func IsKind(err error, kind string) bool {
	appErr, ok := err.(*Error)
	return ok && appErr.Code == kind
}

// New creates a new application error.
func New(status int, code, message string) *Error {
	return &Error{HTTPStatus: status, Code: code, Message: message}
}

// Sentinel errors, one per error kind in the error-handling design.
var (
	// ErrValidation — malformed input (missing name, bad enum). No local recovery; reject.
	ErrValidation = New(http.StatusUnprocessableEntity, "validation", "validation failed")
	// ErrNotFound — unknown id. No local recovery; reject.
	ErrNotFound = New(http.StatusNotFound, "not_found", "resource not found")
	// ErrRateLimited — LLM/embedding provider says slow down. Backoff+retry; transparent unless exhausted.
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "provider rate limited the request")
	// ErrTransient — network/graph-store blip. Backoff+retry; transparent unless exhausted.
	ErrTransient = New(http.StatusServiceUnavailable, "transient", "transient failure")
	// ErrBadLLMOutput — structured validation of LLM output failed. Drop item, continue; episode marked partial.
	ErrBadLLMOutput = New(http.StatusUnprocessableEntity, "bad_llm_output", "LLM returned malformed output")
	// ErrConflict — contradictory edge detected. Resolved per resolver rule 4; normal success path.
	ErrConflict = New(http.StatusConflict, "conflict", "contradictory edge detected")
	// ErrExhausted — retries exhausted. Ingest marked failed with reason.
	ErrExhausted = New(http.StatusServiceUnavailable, "exhausted", "retries exhausted")
	// ErrCancelled — caller cancellation.
	ErrCancelled = New(499, "cancelled", "request cancelled")
	// ErrInternal — invariant violation. Do not proceed; surface with incident id.
	ErrInternal = New(http.StatusInternalServerError, "internal", "an internal error occurred")
	// ErrBadRequest — generic malformed request shape at the HTTP edge.
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "invalid request")
)

// ToHTTPError converts any error to an HTTP-friendly status/body pair.
func ToHTTPError(err error) (int, map[string]any) {
	if appErr, ok := err.(*Error); ok {
		errBody := map[string]any{"code": appErr.Code, "message": appErr.Message}
		if len(appErr.Details) > 0 {
			errBody["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{"error": errBody}
	}
	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{"code": "internal", "message": "an internal error occurred"},
	}
}

// NewValidation creates a validation error with a custom message.
func NewValidation(message string) *Error {
	return ErrValidation.WithMessage(message)
}

// NewBadRequest creates a bad-request error with a custom message.
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not-found error for a resource type and id.
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s %q not found", resourceType, id))
}

// NewInternal creates an internal error with a message and wrapped cause.
func NewInternal(message string, err error) *Error {
	return &Error{HTTPStatus: http.StatusInternalServerError, Code: "internal", Message: message, Internal: err}
}

// NewTransient creates a transient-classified error, wrapping a graph-store
// failure the episode queue's retry policy should redispatch with the
// smaller transient backoff base rather than treat as permanent.
func NewTransient(message string, err error) *Error {
	return &Error{HTTPStatus: ErrTransient.HTTPStatus, Code: ErrTransient.Code, Message: message, Internal: err}
}

// NewExhausted creates an exhausted-retries error carrying the last cause.
func NewExhausted(message string, err error) *Error {
	return &Error{HTTPStatus: http.StatusServiceUnavailable, Code: "exhausted", Message: message, Internal: err}
}
