package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/stashbox/stashbox/internal/cloud/storage"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates the presigned URL was refused (403, expired signature)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, resets, short reads)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates object-store answers that can be retried (408, 429, 5xx)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates errors that should not be retried
	ErrorTypeFatal
)

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// MaxRetries is the maximum number of attempts
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns the retry settings used for object-store downloads.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
	}
}

// ClassifyError determines the error type for retry strategy.
// Typed errors are checked first; message matching covers errors that
// lost their type on the way up.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	var ose *storage.ObjectStoreError
	if errors.As(err, &ose) {
		switch {
		case storage.IsCredentialError(err):
			return ErrorTypeCredential
		case storage.IsRetryableStatus(ose.Status):
			return ErrorTypeRetryable
		default:
			return ErrorTypeFatal
		}
	}

	if storage.IsNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "eof") {
		return ErrorTypeNetwork
	}
	if strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "serviceunavailable") ||
		strings.Contains(errStr, "internalerror") {
		return ErrorTypeRetryable
	}

	// Unknown errors are fatal to avoid retrying things like disk full
	return ErrorTypeFatal
}

// CalculateBackoff returns exponential backoff duration with full jitter.
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// ExecuteWithRetry runs operation until it succeeds, fails fatally, or
// MaxRetries attempts are used.
//
// Retry strategy:
//   - Network/Retryable errors: exponential backoff with full jitter
//   - Credential and fatal errors: returned immediately
//   - Context cancellation: returned immediately, including during backoff
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType != ErrorTypeNetwork && errType != ErrorTypeRetryable {
			return err
		}
		if attempt == config.MaxRetries-1 {
			break
		}

		backoff := CalculateBackoff(attempt+1, config.InitialDelay, config.MaxDelay)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < backoff {
			return fmt.Errorf("deadline too close to retry: %w", err)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, errType)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

