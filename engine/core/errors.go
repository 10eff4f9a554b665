package core

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class in the bridge's taxonomy. Every error
// that crosses an operation boundary carries exactly one code.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "ValidationError"
	CodeNotFound           ErrorCode = "NotFound"
	CodeUnknownTag         ErrorCode = "UnknownTag"
	CodeBackendUnavailable ErrorCode = "BackendUnavailable"
	CodeBackendTimeout     ErrorCode = "BackendTimeout"
	CodePermissionDenied   ErrorCode = "PermissionDenied"
	CodeBackendError       ErrorCode = "BackendError"
	CodeParse              ErrorCode = "ParseError"
	CodeQueueFull          ErrorCode = "QueueFull"
	CodeOperationExpired   ErrorCode = "OperationExpired"
	CodeCanceled           ErrorCode = "Canceled"
	CodeSchedulingFailed   ErrorCode = "SchedulingFailed"
	CodeUnsupported        ErrorCode = "Unsupported"
	CodeInternal           ErrorCode = "Internal"
)

// Error is the typed error used throughout the bridge. Field scopes
// validation failures; Hints carries structured suggestions (for example
// closest tag names on an UnknownTag).
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	Hints   []string
	cause   error
}

func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func NewFieldError(field, msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Field: field}
}

func WrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

func (e *Error) WithHints(hints ...string) *Error {
	e.Hints = append(e.Hints, hints...)
	return e
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the taxonomy code from any error. Unclassified errors map
// to Internal so raw backend detail never escapes an Envelope.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeInternal
}

// IsTransient reports whether the error class is retryable by the queue.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeBackendTimeout, CodeBackendUnavailable:
		return true
	default:
		return false
	}
}

// UserMessage returns the short human-readable text for an Envelope. Internal
// errors get a stable message; detail stays in server logs.
func UserMessage(err error) string {
	var be *Error
	if errors.As(err, &be) {
		if be.Code == CodeInternal {
			return "internal error"
		}
		if be.Field != "" {
			return fmt.Sprintf("%s: %s", be.Field, be.Message)
		}
		return be.Message
	}
	return "internal error"
}
