package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrNotFound marks a lookup that found nothing. Replies for it carry a
// null error instead of an error object.
var ErrNotFound = stderrors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// BridgeError is the structured error type carried in failed replies.
type BridgeError struct {
	// Code is the unique error code (e.g., "ERR_206_FILE_CORRUPT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code.
	Category Category

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is matches another BridgeError by code, so errors.Is works against
// a template such as New(ErrCodeFileCorrupt, "", nil).
func (e *BridgeError) Is(target error) bool {
	if t, ok := target.(*BridgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *BridgeError) WithDetail(key, value string) *BridgeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a BridgeError with the given code and message.
func New(code string, message string, cause error) *BridgeError {
	return &BridgeError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a BridgeError from an existing error, keeping its message.
// Returns nil for a nil error.
func Wrap(code string, err error) *BridgeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CorruptError reports an unparseable persisted document.
func CorruptError(message string, cause error) *BridgeError {
	return New(ErrCodeFileCorrupt, message, cause)
}

// ReadError reports a low-level read failure distinct from a missing file.
func ReadError(message string, cause error) *BridgeError {
	return New(ErrCodeFileRead, message, cause)
}

// WriteError reports a failed write.
func WriteError(message string, cause error) *BridgeError {
	return New(ErrCodeFileWrite, message, cause)
}

// ValidationError reports a malformed payload.
func ValidationError(message string, cause error) *BridgeError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError reports an unexpected failure.
func InternalError(message string, cause error) *BridgeError {
	return New(ErrCodeInternal, message, cause)
}

// GetCode extracts the code from the first BridgeError in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ""
}

// GetCategory extracts the category from the first BridgeError in err's chain.
func GetCategory(err error) Category {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Category
	}
	return ""
}
