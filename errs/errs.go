// Package errs provides the structured error type shared by schema, table,
// query and catalog. Every error carries a category and a code so callers
// can branch on the kind of failure without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Category classifies errors by the component that raised them.
type Category string

const (
	CategorySchema     Category = "SCHEMA"
	CategoryValidation Category = "VALIDATION"
	CategoryQuery      Category = "QUERY"
	CategoryCatalog    Category = "CATALOG"
	CategoryStorage    Category = "STORAGE"
)

// Error codes.
const (
	// Schema codes
	CodeMalformedSchema = "MALFORMED_SCHEMA"

	// Validation codes
	CodeShapeViolation = "SHAPE_VIOLATION"
	CodeDuplicateKey   = "DUPLICATE_KEY"

	// Query codes
	CodeUnsupportedOperator = "UNSUPPORTED_OPERATOR"
	CodeInvalidIdentifier   = "INVALID_IDENTIFIER"
	CodeInvalidFilter       = "INVALID_FILTER"
	CodeDuplicateParameter  = "DUPLICATE_PARAMETER"

	// Catalog codes
	CodeCollectionNotFound = "COLLECTION_NOT_FOUND"
	CodeCollectionExists   = "COLLECTION_EXISTS"
	CodeRecordNotFound     = "RECORD_NOT_FOUND"

	// Storage codes
	CodeStorageFailed   = "STORAGE_FAILED"
	CodeExecutionFailed = "EXECUTION_FAILED"
)

// Error is the structured error type used throughout the module.
type Error struct {
	Category Category
	Code     string
	Message  string
	Details  map[string]any
	Cause    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(category Category, code, format string, args ...any) *Error {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinel values for errors.Is comparisons.
var (
	ErrMalformedSchema     = New(CategorySchema, CodeMalformedSchema, "malformed schema")
	ErrShapeViolation      = New(CategoryValidation, CodeShapeViolation, "shape violation")
	ErrDuplicateKey        = New(CategoryValidation, CodeDuplicateKey, "duplicate key")
	ErrUnsupportedOperator = New(CategoryQuery, CodeUnsupportedOperator, "unsupported operator")
	ErrInvalidIdentifier   = New(CategoryQuery, CodeInvalidIdentifier, "invalid identifier")
	ErrInvalidFilter       = New(CategoryQuery, CodeInvalidFilter, "invalid filter")
	ErrDuplicateParameter  = New(CategoryQuery, CodeDuplicateParameter, "duplicate parameter")
	ErrCollectionNotFound  = New(CategoryCatalog, CodeCollectionNotFound, "collection not found")
	ErrCollectionExists    = New(CategoryCatalog, CodeCollectionExists, "collection exists")
	ErrRecordNotFound      = New(CategoryCatalog, CodeRecordNotFound, "record not found")
	ErrStorageFailed       = New(CategoryStorage, CodeStorageFailed, "storage failed")
	ErrExecutionFailed     = New(CategoryStorage, CodeExecutionFailed, "execution failed")
)
