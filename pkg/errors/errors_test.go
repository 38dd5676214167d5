package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "error without cause",
			err: &Error{
				Code:    CodeInvalidInput,
				Message: "sql must be a string",
			},
			expected: "INVALID_INPUT: sql must be a string",
		},
		{
			name: "error with cause",
			err: &Error{
				Code:    CodeExecutionFailed,
				Message: "query failed",
				Cause:   fmt.Errorf("relation \"users\" does not exist"),
			},
			expected: "EXECUTION_FAILED: query failed (caused by: relation \"users\" does not exist)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &Error{
		Code:    CodeExecutionFailed,
		Message: "query failed",
		Cause:   cause,
	}

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, &Error{Code: CodeExecutionFailed}))
	assert.True(t, errors.Is(err, cause))
}

func TestError_Is(t *testing.T) {
	err1 := &Error{Code: CodePolicyRejected, Message: "operation not allowed"}
	err2 := &Error{Code: CodePolicyRejected, Message: "invalid SQL syntax"}
	err3 := &Error{Code: CodeInvalidInput, Message: "invalid"}
	stdErr := fmt.Errorf("standard error")

	assert.True(t, err1.Is(err2), "errors with same code should match")
	assert.False(t, err1.Is(err3), "errors with different codes should not match")
	assert.False(t, err1.Is(stdErr), "categorized error should not match standard error")
	assert.True(t, errors.Is(err1, ErrPolicyRejected))
}

func TestError_WithHint(t *testing.T) {
	err := New(CodePayloadTooLarge, "too big").WithHint("reduce pageSize")
	assert.Equal(t, "reduce pageSize", err.Hint)
	assert.Equal(t, "reduce pageSize", GetHint(err))
	assert.Equal(t, "", GetHint(fmt.Errorf("plain")))
}

func TestError_WithDetail(t *testing.T) {
	err := New(CodePayloadTooLarge, "too big").
		WithDetail("actual_bytes", 10).
		WithDetail("max_bytes", 5)

	assert.Equal(t, 10, err.Details["actual_bytes"])
	assert.Equal(t, 5, err.Details["max_bytes"])

	details := map[string]interface{}{"field": "pageSize"}
	err = err.WithDetails(details)
	assert.Equal(t, details, err.Details)
}

func TestNewf(t *testing.T) {
	err := Newf(CodeInvalidInput, "parameters[%d] is not a scalar", 3)
	assert.Equal(t, CodeInvalidInput, err.Code)
	assert.Equal(t, "parameters[3] is not a scalar", err.Message)
	assert.Nil(t, err.Cause)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, CodeExecutionFailed, "wrapped message")

	assert.Equal(t, CodeExecutionFailed, err.Code)
	assert.Equal(t, "wrapped message", err.Message)
	assert.Equal(t, cause, err.Cause)

	assert.Nil(t, Wrap(nil, CodeExecutionFailed, "message"))
}

func TestWrapf(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrapf(cause, CodeExecutionFailed, "wrapped message %d", 42)

	assert.Equal(t, CodeExecutionFailed, err.Code)
	assert.Equal(t, "wrapped message 42", err.Message)
	assert.Equal(t, cause, err.Cause)

	assert.Nil(t, Wrapf(nil, CodeExecutionFailed, "message %d", 42))
}

func TestCategoryPredicates(t *testing.T) {
	wrapped := fmt.Errorf("pipeline: %w", New(CodePolicyRejected, "operation not allowed"))

	tests := []struct {
		name  string
		check func(error) bool
		err   error
		want  bool
	}{
		{"invalid input", IsInvalidInput, ErrInvalidInput, true},
		{"invalid input mismatch", IsInvalidInput, ErrPolicyRejected, false},
		{"policy rejection", IsPolicyRejection, ErrPolicyRejected, true},
		{"policy rejection wrapped", IsPolicyRejection, wrapped, true},
		{"payload too large", IsPayloadTooLarge, ErrPayloadTooLarge, true},
		{"internal", IsInternal, New(CodeInternal, "boom"), true},
		{"standard error", IsPolicyRejection, fmt.Errorf("standard error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "categorized error",
			err:      ErrPayloadTooLarge,
			expected: CodePayloadTooLarge,
		},
		{
			name:     "standard error",
			err:      fmt.Errorf("standard error"),
			expected: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetCode(tt.err))
		})
	}
}

func TestGetMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "categorized error",
			err:      ErrQueryTimeout,
			expected: "query execution timeout",
		},
		{
			name:     "standard error",
			err:      fmt.Errorf("standard error"),
			expected: "standard error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetMessage(tt.err))
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"syntax error at or near \"FORM\"", "syntax error at or near \"FORM\""},
		{"ERROR:  duplicate key\n  DETAIL:\tKey (id)=(1) already exists.", "ERROR: duplicate key DETAIL: Key (id)=(1) already exists."},
		{"  leading and trailing  ", "leading and trailing"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMessage(tt.in))
		})
	}
}

func TestCommonErrors(t *testing.T) {
	assert.Equal(t, CodeInvalidInput, ErrInvalidInput.Code)
	assert.Equal(t, CodePolicyRejected, ErrPolicyRejected.Code)
	assert.Equal(t, CodePayloadTooLarge, ErrPayloadTooLarge.Code)
	assert.Equal(t, CodeExecutionFailed, ErrExecution.Code)
	assert.Equal(t, CodeConnectionFailed, ErrConnectionFailed.Code)
	assert.Equal(t, CodeDeadlineExceeded, ErrQueryTimeout.Code)
	assert.Equal(t, CodeUnauthenticated, ErrUnauthenticated.Code)
}
