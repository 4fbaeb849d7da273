// Package errors provides structured error types for Tracklet.
// All errors include a category, code, message, and retryable flag so the
// HTTP layer can map them to status codes without inspecting messages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the layer that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryReferential ErrorCategory = "REFERENTIAL"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidJSON   = "INVALID_JSON"
	CodeMissingFields = "MISSING_FIELDS"
	CodeInvalidEvent  = "INVALID_EVENT"

	// Storage codes
	CodeOpenFailed     = "OPEN_FAILED"
	CodeSchemaFailed   = "SCHEMA_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeQueryFailed    = "QUERY_FAILED"
	CodeBusy           = "BUSY"
	CodeSnapshotFailed = "SNAPSHOT_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Referential codes
	CodeForeignKey = "FOREIGN_KEY"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TrackletError is the structured error type used throughout the system.
type TrackletError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TrackletError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TrackletError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TrackletError) Is(target error) bool {
	var t *TrackletError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TrackletError.
func New(category ErrorCategory, code, message string) *TrackletError {
	return &TrackletError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TrackletError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TrackletError {
	return &TrackletError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TrackletError) WithDetails(details map[string]interface{}) *TrackletError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// Nothing in the request path retries; the flag is informational for callers
// such as the snapshot tool.
func IsRetryable(err error) bool {
	var te *TrackletError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TrackletError.
func GetCategory(err error) ErrorCategory {
	var te *TrackletError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TrackletError.
func GetCode(err error) string {
	var te *TrackletError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeBusy:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *TrackletError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *TrackletError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewReferentialError(message string, cause error) *TrackletError {
	return Wrap(ErrCategoryReferential, CodeForeignKey, message, cause)
}

func NewInternalError(message string, cause error) *TrackletError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
