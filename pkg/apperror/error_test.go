package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without internal error",
			err:      &Error{HTTPStatus: http.StatusNotFound, Code: "not_found", Message: "resource not found"},
			expected: "not_found: resource not found",
		},
		{
			name: "with internal error",
			err: &Error{
				HTTPStatus: http.StatusInternalServerError,
				Code:       "internal",
				Message:    "something went wrong",
				Internal:   errors.New("graph store connection failed"),
			},
			expected: "internal: something went wrong (graph store connection failed)",
		},
		{
			name:     "empty message",
			err:      &Error{HTTPStatus: http.StatusBadRequest, Code: "bad_request", Message: ""},
			expected: "bad_request: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	tests := []struct {
		name    string
		err     *Error
		wantNil bool
		wantMsg string
	}{
		{
			name:    "nil internal error",
			err:     &Error{HTTPStatus: http.StatusNotFound, Code: "not_found", Message: "resource not found"},
			wantNil: true,
		},
		{
			name: "with internal error",
			err: &Error{
				HTTPStatus: http.StatusInternalServerError,
				Code:       "internal",
				Message:    "something went wrong",
				Internal:   errors.New("underlying cause"),
			},
			wantNil: false,
			wantMsg: "underlying cause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Unwrap()
			if tt.wantNil {
				if got != nil {
					t.Errorf("Unwrap() = %v, want nil", got)
				}
				return
			}
			if got == nil || got.Error() != tt.wantMsg {
				t.Errorf("Unwrap() = %v, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestErrorToEchoError(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "basic error",
			err:        &Error{HTTPStatus: http.StatusNotFound, Code: "not_found", Message: "resource not found"},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name: "error with details",
			err: &Error{
				HTTPStatus: http.StatusUnprocessableEntity,
				Code:       "validation",
				Message:    "validation failed",
				Details:    map[string]any{"field": "group_id"},
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation",
		},
		{
			name:       "internal server error",
			err:        &Error{HTTPStatus: http.StatusInternalServerError, Code: "internal", Message: "boom"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.ToEchoError()
			if got.Code != tt.wantStatus {
				t.Errorf("ToEchoError().Code = %d, want %d", got.Code, tt.wantStatus)
			}
			msg, ok := got.Message.(map[string]any)
			if !ok {
				t.Fatal("ToEchoError().Message is not a map[string]any")
			}
			errBody, ok := msg["error"].(map[string]any)
			if !ok {
				t.Fatal("ToEchoError().Message['error'] is not a map[string]any")
			}
			if errBody["code"] != tt.wantCode {
				t.Errorf("error code = %v, want %v", errBody["code"], tt.wantCode)
			}
		})
	}
}

func TestErrorWithInternal(t *testing.T) {
	original := &Error{HTTPStatus: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	internalErr := errors.New("query failed")
	withInternal := original.WithInternal(internalErr)

	if withInternal.Internal != internalErr {
		t.Errorf("WithInternal().Internal = %v, want %v", withInternal.Internal, internalErr)
	}
	if withInternal.HTTPStatus != original.HTTPStatus || withInternal.Code != original.Code || withInternal.Message != original.Message {
		t.Error("WithInternal() did not preserve other fields")
	}
	if original.Internal != nil {
		t.Error("original error was modified")
	}
}

func TestErrorWithMessage(t *testing.T) {
	original := &Error{
		HTTPStatus: http.StatusBadRequest,
		Code:       "bad_request",
		Message:    "original message",
		Internal:   errors.New("internal"),
		Details:    map[string]any{"key": "value"},
	}

	withMessage := original.WithMessage("custom message")
	if withMessage.Message != "custom message" {
		t.Errorf("WithMessage().Message = %q, want %q", withMessage.Message, "custom message")
	}
	if withMessage.HTTPStatus != original.HTTPStatus || withMessage.Code != original.Code || withMessage.Internal != original.Internal {
		t.Error("WithMessage() did not preserve other fields")
	}
	if original.Message != "original message" {
		t.Error("original error was modified")
	}
}

func TestErrorWithDetails(t *testing.T) {
	original := &Error{HTTPStatus: http.StatusUnprocessableEntity, Code: "validation", Message: "validation failed"}
	details := map[string]any{"field": "group_id"}
	withDetails := original.WithDetails(details)

	if withDetails.Details["field"] != "group_id" {
		t.Errorf("WithDetails().Details['field'] = %v, want %v", withDetails.Details["field"], "group_id")
	}
	if original.Details != nil {
		t.Error("original error was modified")
	}
}

func TestNew(t *testing.T) {
	err := New(http.StatusNotFound, "not_found", "resource not found")
	if err.HTTPStatus != http.StatusNotFound || err.Code != "not_found" || err.Message != "resource not found" {
		t.Errorf("New() = %+v, unexpected fields", err)
	}
	if err.Internal != nil || err.Details != nil {
		t.Error("New() should not set Internal or Details")
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("group_id is required")
	if err.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("NewValidation().HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnprocessableEntity)
	}
	if err.Code != "validation" {
		t.Errorf("NewValidation().Code = %q, want %q", err.Code, "validation")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("episode", "ep-123")
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("NewNotFound().HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if want := `episode "ep-123" not found`; err.Message != want {
		t.Errorf("NewNotFound().Message = %q, want %q", err.Message, want)
	}
}

func TestNewInternal(t *testing.T) {
	cause := errors.New("connection timeout")
	err := NewInternal("graph store unavailable", cause)
	if err.HTTPStatus != http.StatusInternalServerError || err.Code != "internal" {
		t.Errorf("NewInternal() = %+v, unexpected fields", err)
	}
	if err.Internal != cause {
		t.Errorf("NewInternal().Internal = %v, want %v", err.Internal, cause)
	}
}

func TestNewExhausted(t *testing.T) {
	cause := errors.New("rate limited")
	err := NewExhausted("retries exhausted for episode", cause)
	if err.Code != "exhausted" || err.Internal != cause {
		t.Errorf("NewExhausted() = %+v, unexpected fields", err)
	}
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", &Error{HTTPStatus: http.StatusNotFound, Code: "not_found", Message: "x"}, http.StatusNotFound, "not_found"},
		{"generic error", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTPError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("ToHTTPError() status = %d, want %d", status, tt.wantStatus)
			}
			errBody := body["error"].(map[string]any)
			if errBody["code"] != tt.wantCode {
				t.Errorf("ToHTTPError() code = %v, want %v", errBody["code"], tt.wantCode)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	if !IsKind(ErrRateLimited, "rate_limited") {
		t.Error("IsKind(ErrRateLimited, rate_limited) = false, want true")
	}
	if IsKind(errors.New("plain"), "rate_limited") {
		t.Error("IsKind() on a plain error should be false")
	}
}

func TestPredefinedErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantCode   string
	}{
		{"ErrValidation", ErrValidation, http.StatusUnprocessableEntity, "validation"},
		{"ErrNotFound", ErrNotFound, http.StatusNotFound, "not_found"},
		{"ErrRateLimited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"ErrTransient", ErrTransient, http.StatusServiceUnavailable, "transient"},
		{"ErrBadLLMOutput", ErrBadLLMOutput, http.StatusUnprocessableEntity, "bad_llm_output"},
		{"ErrConflict", ErrConflict, http.StatusConflict, "conflict"},
		{"ErrExhausted", ErrExhausted, http.StatusServiceUnavailable, "exhausted"},
		{"ErrCancelled", ErrCancelled, 499, "cancelled"},
		{"ErrInternal", ErrInternal, http.StatusInternalServerError, "internal"},
		{"ErrBadRequest", ErrBadRequest, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("%s.HTTPStatus = %d, want %d", tt.name, tt.err.HTTPStatus, tt.wantStatus)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("%s.Code = %q, want %q", tt.name, tt.err.Code, tt.wantCode)
			}
		})
	}
}
