// Package storage holds the error kinds shared by the direct object-store
// upload and download paths.
package storage

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Common storage operation errors
var (
	// ErrObjectStore matches any *ObjectStoreError via errors.Is.
	ErrObjectStore = errors.New("object store error")
	// ErrInsufficientSpace indicates there isn't enough disk space for the operation
	ErrInsufficientSpace = errors.New("insufficient disk space")
	// ErrFileChanged indicates the remote object no longer matches what a
	// partial download expected
	ErrFileChanged = errors.New("remote object changed during operation")
	// ErrSizeMismatch indicates the transferred byte count differs from the expected size
	ErrSizeMismatch = errors.New("size mismatch")
)

// ObjectStoreError is a non-2xx answer from the object store.
type ObjectStoreError struct {
	Op     string // "upload" or "download"
	Status int
	Body   string // truncated response body, often an S3 XML error document
}

func (e *ObjectStoreError) Error() string {
	msg := fmt.Sprintf("%s: object store returned %d %s", e.Op, e.Status, http.StatusText(e.Status))
	if code := s3ErrorCode(e.Body); code != "" {
		msg += " (" + code + ")"
	}
	return msg
}

// Is reports true for ErrObjectStore.
func (e *ObjectStoreError) Is(target error) bool {
	return target == ErrObjectStore
}

// Code returns the S3 error code from the body, or "".
func (e *ObjectStoreError) Code() string {
	return s3ErrorCode(e.Body)
}

// s3ErrorCode pulls <Code>...</Code> out of an S3 error document.
func s3ErrorCode(body string) string {
	start := strings.Index(body, "<Code>")
	if start < 0 {
		return ""
	}
	rest := body[start+len("<Code>"):]
	end := strings.Index(rest, "</Code>")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// IsDiskFullError checks if an error is likely caused by running out of disk space.
//
// Checks for common error strings across different operating systems:
//   - Linux/Unix: "no space left on device", "enospc"
//   - Windows: "out of disk space", "insufficient disk space"
//   - Quota: "disk quota exceeded"
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientSpace) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"no space left on device",
		"disk full",
		"out of disk space",
		"not enough space",
		"enospc",
		"disk quota exceeded",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsNetworkError checks if an error is a transport failure worth retrying.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"tls handshake",
		"i/o timeout",
		"unexpected eof",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsCredentialError reports whether the store refused the presigned
// credential, usually because it expired.
func IsCredentialError(err error) bool {
	var ose *ObjectStoreError
	if !errors.As(err, &ose) {
		return false
	}
	if ose.Status == http.StatusForbidden || ose.Status == http.StatusUnauthorized {
		return true
	}
	switch ose.Code() {
	case "AccessDenied", "ExpiredToken", "SignatureDoesNotMatch", "RequestTimeTooSkewed":
		return true
	}
	return false
}

// IsRetryableStatus reports whether an object-store status is transient.
func IsRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// ReadObjectStoreError builds an *ObjectStoreError from a non-2xx response,
// keeping at most limit bytes of the body.
func ReadObjectStoreError(op string, resp *http.Response, limit int64) *ObjectStoreError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return &ObjectStoreError{Op: op, Status: resp.StatusCode, Body: string(body)}
}
