package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTrackletError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidJSON, "invalid json")
	expected := "[VALIDATION:INVALID_JSON] invalid json"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTrackletError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk I/O error")
	err := Wrap(ErrCategoryStorage, CodeWriteFailed, "insert event", cause)
	expected := "[STORAGE:WRITE_FAILED] insert event: disk I/O error"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTrackletError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewReferentialError("unknown session", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestTrackletError_Is(t *testing.T) {
	err1 := New(ErrCategoryStorage, CodeQueryFailed, "first")
	err2 := New(ErrCategoryStorage, CodeQueryFailed, "second")
	err3 := New(ErrCategoryStorage, CodeWriteFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeBusy, true},
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeWriteFailed, false},
		{ErrCategoryStorage, CodeSchemaFailed, false},
		{ErrCategoryValidation, CodeMissingFields, false},
		{ErrCategoryReferential, CodeForeignKey, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewValidationError(CodeMissingFields, "missing required fields"))
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeMissingFields {
		t.Errorf("got %q, want %q", GetCode(err), CodeMissingFields)
	}
	if !IsValidation(err) {
		t.Error("wrapped validation error should be detected")
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-TrackletError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidEvent, "bad event")
	detailed := err.WithDetails(map[string]interface{}{"index": 2})

	if detailed.Details["index"] != 2 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeInvalidJSON, "invalid json")
	if v.Category != ErrCategoryValidation || v.Code != CodeInvalidJSON {
		t.Error("NewValidationError mismatch")
	}

	s := NewStorageError(CodeOpenFailed, "open", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	r := NewReferentialError("fk", cause)
	if r.Category != ErrCategoryReferential || r.Code != CodeForeignKey {
		t.Error("NewReferentialError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
