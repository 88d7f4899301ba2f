package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Page not found"}
	want := "NOT_FOUND: Page not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("resource missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "resource missing" {
		t.Errorf("Message = %q, want %q", e.Message, "resource missing")
	}
}

func TestNewForbiddenError(t *testing.T) {
	e := NewForbiddenError("access denied")
	if e.Code != ErrForbidden {
		t.Errorf("Code = %q, want %q", e.Code, ErrForbidden)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "email", Code: "REQUIRED", Message: "Email is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "email" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "email")
	}
}

func TestNewInternalError(t *testing.T) {
	e := NewInternalError()
	if e.Code != ErrInternalError {
		t.Errorf("Code = %q, want %q", e.Code, ErrInternalError)
	}
}

func TestNewRateLimitedError(t *testing.T) {
	e := NewRateLimitedError()
	if e.Code != ErrRateLimited {
		t.Errorf("Code = %q, want %q", e.Code, ErrRateLimited)
	}
}

func TestNewBadRequestError(t *testing.T) {
	e := NewBadRequestError("bad json")
	if e.Code != ErrBadRequest {
		t.Errorf("Code = %q, want %q", e.Code, ErrBadRequest)
	}
}

func TestNewUnauthorizedError(t *testing.T) {
	e := NewUnauthorizedError("missing token")
	if e.Code != ErrUnauthorized {
		t.Errorf("Code = %q, want %q", e.Code, ErrUnauthorized)
	}
}

func TestNewConflictError(t *testing.T) {
	e := NewConflictError("duplicate key")
	if e.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", e.Code, ErrConflict)
	}
}

func TestWorkflowErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		code string
	}{
		{"workflow not found", NewWorkflowNotFoundError("wf-1"), ErrWorkflowNotFound},
		{"workflow not active", NewWorkflowNotActiveError("wf-1"), ErrWorkflowNotActive},
		{"invalid signature", NewInvalidSignatureError(), ErrInvalidSignature},
		{"bad payload", NewBadPayloadError("bad payload"), ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
		})
	}
}

func TestInvalidSignatureMessage(t *testing.T) {
	if got := NewInvalidSignatureError().Message; got != "invalid signature" {
		t.Errorf("Message = %q, want %q", got, "invalid signature")
	}
}

func TestHasCode_wrapped(t *testing.T) {
	err := fmt.Errorf("load workflow: %w", NewWorkflowNotFoundError("wf-9"))
	if !HasCode(err, ErrWorkflowNotFound) {
		t.Error("HasCode() = false for wrapped envelope, want true")
	}
	if HasCode(err, ErrNotFound) {
		t.Error("HasCode(NOT_FOUND) = true, want false")
	}
	if HasCode(errors.New("plain"), ErrNotFound) {
		t.Error("HasCode() on plain error = true, want false")
	}
}

func TestFieldError_Error(t *testing.T) {
	fe := FieldError{Field: "config.url", Code: "REQUIRED", Message: "config.url is required"}
	if got := fe.Error(); got != "config.url: config.url is required" {
		t.Errorf("Error() = %q", got)
	}
}
