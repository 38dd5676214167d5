// Package errors provides standardized error types for the query tool server.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes reported to tool callers.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodePolicyRejected    = "POLICY_REJECTED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeCanceled          = "CANCELED"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
)

// Error represents a categorized error with code, message, optional remediation
// hint and details.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Hint    string                 `json:"hint,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithHint attaches a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrPolicyRejected   = &Error{Code: CodePolicyRejected, Message: "statement rejected by policy"}
	ErrPayloadTooLarge  = &Error{Code: CodePayloadTooLarge, Message: "result payload too large"}
	ErrExecution        = &Error{Code: CodeExecutionFailed, Message: "query execution failed"}
	ErrConnectionFailed = &Error{Code: CodeConnectionFailed, Message: "database connection failed"}
	ErrQueryTimeout     = &Error{Code: CodeDeadlineExceeded, Message: "query execution timeout"}
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
)

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with an Error.
func Wrap(err error, code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsInvalidInput checks if an error is an input shape error.
func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidInput)
}

// IsPolicyRejection checks if an error is a policy rejection.
func IsPolicyRejection(err error) bool {
	return hasCode(err, CodePolicyRejected)
}

// IsPayloadTooLarge checks if an error is an oversized result rejection.
func IsPayloadTooLarge(err error) bool {
	return hasCode(err, CodePayloadTooLarge)
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	return hasCode(err, CodeInternal)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// GetHint extracts the remediation hint from an error, if any.
func GetHint(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// NormalizeMessage collapses every run of whitespace, including newlines
// from multi-line engine diagnostics, into a single space.
func NormalizeMessage(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}
