// Package errors provides structured error types for the Strata system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryLedger     ErrorCategory = "LEDGER"
	ErrCategoryRowStore   ErrorCategory = "ROWSTORE"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeDatasetNotFound = "DATASET_NOT_FOUND"
	CodeBatchNotFound   = "BATCH_NOT_FOUND"
	CodeColumnNotFound  = "COLUMN_NOT_FOUND"
	CodeInvalidMaskRule = "INVALID_MASK_RULE"
	CodeInvalidRequest  = "INVALID_REQUEST"

	// Schema codes
	CodeSchemaConflict = "SCHEMA_CONFLICT"
	CodeEmptySchema    = "EMPTY_SCHEMA"

	// Ledger codes
	CodeBatchTerminal = "BATCH_TERMINAL"

	// Row store codes
	CodeTableProvisionFailed = "TABLE_PROVISION_FAILED"
	CodePartialWriteFailure  = "PARTIAL_WRITE_FAILURE"

	// Cache codes
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StrataError is the structured error type used throughout the system.
type StrataError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StrataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StrataError) Is(target error) bool {
	var t *StrataError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StrataError.
func New(category ErrorCategory, code, message string) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StrataError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StrataError) WithDetails(details map[string]interface{}) *StrataError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCategory(err error) ErrorCategory {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCode(err error) string {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether the error is a dataset, batch, column, or
// object not-found error.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeDatasetNotFound, CodeBatchNotFound, CodeColumnNotFound, CodeObjectNotFound:
		return true
	}
	return false
}

// isRetryable determines if an error code is retryable.
// A schema conflict means a concurrent version bump won the race; the loser
// re-diffs against the winner's schema and retries transparently.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySchema && code == CodeSchemaConflict:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCache && code == CodeCacheUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewDatasetNotFound(datasetID string) *StrataError {
	return New(ErrCategoryValidation, CodeDatasetNotFound, fmt.Sprintf("dataset %s not found", datasetID))
}

func NewBatchNotFound(batchID string) *StrataError {
	return New(ErrCategoryValidation, CodeBatchNotFound, fmt.Sprintf("batch %s not found", batchID))
}

func NewColumnNotFound(column string) *StrataError {
	return New(ErrCategoryValidation, CodeColumnNotFound, fmt.Sprintf("column %q not found in schema", column))
}

func NewInvalidMaskRule(rule string) *StrataError {
	return New(ErrCategoryValidation, CodeInvalidMaskRule, fmt.Sprintf("unknown masking rule %q", rule))
}

func NewSchemaConflict(datasetID string) *StrataError {
	return New(ErrCategorySchema, CodeSchemaConflict, fmt.Sprintf("concurrent schema version bump for dataset %s", datasetID))
}

func NewTableProvisionError(message string, cause error) *StrataError {
	return Wrap(ErrCategoryRowStore, CodeTableProvisionFailed, message, cause)
}

func NewPartialWriteFailure(message string, cause error) *StrataError {
	return Wrap(ErrCategoryRowStore, CodePartialWriteFailure, message, cause)
}

func NewCacheUnavailable(cause error) *StrataError {
	return Wrap(ErrCategoryCache, CodeCacheUnavailable, "pagination cache unavailable", cause)
}

func NewStorageError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *StrataError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
