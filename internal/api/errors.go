package api

import (
	"errors"
	"fmt"
	nethttp "net/http"
)

// Error kinds. Every *Error matches exactly one of them via errors.Is.
var (
	// ErrNetwork covers transport failures and 5xx answers; retryable.
	ErrNetwork = errors.New("broker unreachable")
	// ErrAuth means the bearer token was missing, expired or rejected.
	ErrAuth = errors.New("not authorized")
	// ErrProtocol means the broker answered with something that is not the
	// documented response shape.
	ErrProtocol = errors.New("malformed broker response")
	// ErrSizeLimitExceeded means the broker refused the declared file size.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrRecordConflict means a sibling with the same name already exists.
	ErrRecordConflict = errors.New("record already exists")
	// ErrNotFound means the record, folder or object does not exist or is
	// not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest means the broker rejected the request fields.
	ErrBadRequest = errors.New("bad request")
)

// Wire error codes carried in {"error": ..., "code": ...} bodies.
const (
	CodeUnauthorized      = "unauthorized"
	CodeSizeLimitExceeded = "size_limit_exceeded"
	CodeRecordConflict    = "record_conflict"
	CodeNotFound          = "not_found"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// ErrorBody is the JSON shape of every broker error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error is a failed broker round trip.
type Error struct {
	Action  string // wire action, e.g. "get-presigned-url"
	Status  int    // HTTP status, 0 when no response arrived
	Kind    error  // one of the Err* sentinels
	Message string // server-provided message, if any
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("broker %s: %v", e.Action, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient broker failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// KindForCode maps a wire error code to its sentinel, falling back to the
// HTTP status when the code is absent or unknown.
func KindForCode(code string, status int) error {
	switch code {
	case CodeUnauthorized:
		return ErrAuth
	case CodeSizeLimitExceeded:
		return ErrSizeLimitExceeded
	case CodeRecordConflict:
		return ErrRecordConflict
	case CodeNotFound:
		return ErrNotFound
	case CodeBadRequest:
		return ErrBadRequest
	case CodeInternal:
		return ErrNetwork
	}

	switch {
	case status == nethttp.StatusUnauthorized || status == nethttp.StatusForbidden:
		return ErrAuth
	case status == nethttp.StatusRequestEntityTooLarge:
		return ErrSizeLimitExceeded
	case status == nethttp.StatusConflict:
		return ErrRecordConflict
	case status == nethttp.StatusNotFound:
		return ErrNotFound
	case status == nethttp.StatusTooManyRequests || status >= 500:
		return ErrNetwork
	case status >= 400:
		return ErrBadRequest
	}
	return ErrProtocol
}

// StatusForCode is the HTTP status the broker sends with code.
func StatusForCode(code string) int {
	switch code {
	case CodeUnauthorized:
		return nethttp.StatusUnauthorized
	case CodeSizeLimitExceeded:
		return nethttp.StatusRequestEntityTooLarge
	case CodeRecordConflict:
		return nethttp.StatusConflict
	case CodeNotFound:
		return nethttp.StatusNotFound
	case CodeBadRequest:
		return nethttp.StatusBadRequest
	default:
		return nethttp.StatusInternalServerError
	}
}
