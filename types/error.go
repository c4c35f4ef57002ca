package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorCode classifies a pipeline error.
type ErrorCode string

const (
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	ErrUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrInvalidResponse   ErrorCode = "INVALID_RESPONSE"
	ErrTaskFailed        ErrorCode = "TASK_FAILED"
	ErrPollTimeout       ErrorCode = "POLL_TIMEOUT"
	ErrIO                ErrorCode = "IO_ERROR"
	ErrCanceled          ErrorCode = "CANCELED"
)

// PreviewLimit caps the response body excerpt embedded in upstream errors.
const PreviewLimit = 600

// Error is the single error kind raised by the pipeline.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface. The code is deliberately left out so
// CLI output reads like a sentence.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// UpstreamError builds the error for a non-2xx response. body is trimmed and
// cut to PreviewLimit bytes.
func UpstreamError(method, url string, status int, body []byte) *Error {
	return Errorf(ErrUpstream, "%s %s failed (%d): %s", method, url, status, Preview(body)).
		WithHTTPStatus(status).
		WithRetryable(status == 429 || status >= 500)
}

// Preview returns at most PreviewLimit bytes of body with surrounding
// whitespace removed.
func Preview(body []byte) string {
	if len(body) > PreviewLimit {
		body = body[:PreviewLimit]
		// Drop a rune split by the cut.
		for i := 1; i < utf8.UTFMax && len(body) > 0; i++ {
			if r, size := utf8.DecodeLastRune(body); r != utf8.RuneError || size != 1 {
				break
			}
			body = body[:len(body)-1]
		}
	}
	return strings.TrimSpace(string(body))
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatusOf returns the HTTP status carried by err, or 0.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return 0
}
