package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stashbox/stashbox/internal/cloud/storage"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeSuccess},
		{"cancelled", context.Canceled, ErrorTypeFatal},
		{"wrapped deadline", fmt.Errorf("download: %w", context.DeadlineExceeded), ErrorTypeFatal},
		{"expired URL", &storage.ObjectStoreError{Op: "download", Status: 403}, ErrorTypeCredential},
		{"signature code", &storage.ObjectStoreError{Op: "download", Status: 400, Body: "<Error><Code>ExpiredToken</Code></Error>"}, ErrorTypeCredential},
		{"server error", &storage.ObjectStoreError{Op: "download", Status: 503}, ErrorTypeRetryable},
		{"throttled", &storage.ObjectStoreError{Op: "download", Status: 429}, ErrorTypeRetryable},
		{"not found", &storage.ObjectStoreError{Op: "download", Status: 404}, ErrorTypeFatal},
		{"short read", fmt.Errorf("copy: %w", io.ErrUnexpectedEOF), ErrorTypeNetwork},
		{"reset", errors.New("read tcp: connection reset by peer"), ErrorTypeNetwork},
		{"disk full", errors.New("write: no space left on device"), ErrorTypeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, ErrorTypeName(got), ErrorTypeName(tt.want))
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := CalculateBackoff(0, time.Second, time.Minute); got != 0 {
		t.Errorf("attempt 0 backoff = %v, want 0", got)
	}
	for attempt := 1; attempt < 40; attempt++ {
		got := CalculateBackoff(attempt, 100*time.Millisecond, 2*time.Second)
		if got < 0 || got > 2*time.Second {
			t.Fatalf("attempt %d backoff %v outside [0, max]", attempt, got)
		}
	}
}

func TestExecuteWithRetry_Success(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteWithRetry_RecoversFromNetworkError(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	var retried []int
	cfg.OnRetry = func(attempt int, err error, et ErrorType) { retried = append(retried, attempt) }

	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || len(retried) != 2 {
		t.Errorf("calls=%d retried=%v", calls, retried)
	}
}

func TestExecuteWithRetry_FatalError(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}

	calls := 0
	notFound := &storage.ObjectStoreError{Op: "download", Status: 404}
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return notFound
	})
	if !errors.Is(err, storage.ErrObjectStore) {
		t.Fatalf("expected object store error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry on fatal), got %d", calls)
	}
}

func TestExecuteWithRetry_GivesUp(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return &storage.ObjectStoreError{Op: "download", Status: 500}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, storage.ErrObjectStore) {
		t.Errorf("last error should be wrapped, got %v", err)
	}
}

func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	calls := 0
	err := ExecuteWithRetry(ctx, cfg, func() error {
		calls++
		return errors.New("connection reset")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected quick return after context cancel, but took %v", elapsed)
	}
	if calls < 1 {
		t.Errorf("expected at least 1 call, got %d", calls)
	}
}

func TestExecuteWithRetry_InsufficientDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := Config{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	start := time.Now()
	err := ExecuteWithRetry(ctx, cfg, func() error {
		return errors.New("i/o timeout")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected quick return due to insufficient deadline, but took %v", elapsed)
	}
}
