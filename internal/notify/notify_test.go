package notify

import (
	"errors"
	"strings"
	"testing"
)

type captured struct {
	title, message string
}

func newCapturing(enabled bool) (*Notifier, *[]captured) {
	var sent []captured
	n := NewNotifier(enabled, nil)
	n.SetSendFunc(func(title, message string) error {
		sent = append(sent, captured{title, message})
		return nil
	})
	return n, &sent
}

func TestBatchComplete(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		dest      string
		title     string
		message   string
	}{
		{"all ok", 3, 0, "", "stashbox: upload complete", "3 succeeded, 0 failed"},
		{"with failures", 2, 1, "", "stashbox: upload finished with errors", "2 succeeded, 1 failed"},
		{"with destination", 1, 0, "/tmp/out", "stashbox: upload complete", "1 succeeded, 0 failed\n/tmp/out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sent := newCapturing(true)
			n.BatchComplete("upload", tt.succeeded, tt.failed, tt.dest)
			if len(*sent) != 1 {
				t.Fatalf("sent %d notifications, want 1", len(*sent))
			}
			got := (*sent)[0]
			if got.title != tt.title || got.message != tt.message {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestDisabledOrEmptySendsNothing(t *testing.T) {
	n, sent := newCapturing(false)
	n.BatchComplete("download", 1, 0, "")
	n.Orphans(2)
	if len(*sent) != 0 {
		t.Errorf("disabled notifier sent %d", len(*sent))
	}

	n.SetEnabled(true)
	n.BatchComplete("download", 0, 0, "")
	n.Orphans(0)
	if len(*sent) != 0 {
		t.Errorf("empty batch sent %d", len(*sent))
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	n := NewNotifier(true, nil)
	n.SetSendFunc(func(title, message string) error { return errors.New("no dbus") })
	n.BatchComplete("upload", 1, 0, "")
	n.Orphans(1)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	if got := shortenPath("/short/path"); got != "/short/path" {
		t.Errorf("short path changed: %q", got)
	}
	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/file.txt"
	got := shortenPath(long)
	if len(got) >= len(long) || !strings.HasSuffix(got, "file.txt") {
		t.Errorf("shortenPath(%q) = %q", long, got)
	}
}
