package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stashbox/stashbox/internal/events"
)

func TestFraction(t *testing.T) {
	testCases := []struct {
		name        string
		sent, total int64
		want        float64
	}{
		{"zero total", 10, 0, 0},
		{"negative total", 10, -5, 0},
		{"nothing sent", 0, 100, 0},
		{"half", 50, 100, 0.5},
		{"complete", 100, 100, 1},
		{"overshoot clamps", 150, 100, 1},
		{"negative sent clamps", -1, 100, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Fraction(tc.sent, tc.total)
			if got != tc.want {
				t.Errorf("Fraction(%d, %d) = %v, want %v", tc.sent, tc.total, got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Fraction out of range: %v", got)
			}
		})
	}
}

func TestReaderReportsCumulativeBytes(t *testing.T) {
	data := strings.Repeat("x", 10000)
	var calls []int64
	r := NewReader(strings.NewReader(data), 0, int64(len(data)), func(sent, total int64) {
		if total != int64(len(data)) {
			t.Errorf("total = %d", total)
		}
		calls = append(calls, sent)
	})

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("copied %d bytes", n)
	}
	if len(calls) == 0 || calls[len(calls)-1] != int64(len(data)) {
		t.Fatalf("last report = %v, want %d", calls, len(data))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i] < calls[i-1] {
			t.Fatalf("progress went backwards: %v", calls)
		}
	}
	if r.Sent() != int64(len(data)) {
		t.Errorf("Sent() = %d", r.Sent())
	}
}

func TestReaderStartsFromOffset(t *testing.T) {
	var last int64
	r := NewReader(strings.NewReader("abcd"), 96, 100, func(sent, _ int64) { last = sent })
	_, _ = io.Copy(io.Discard, r)
	if last != 100 {
		t.Errorf("last = %d, want 100", last)
	}
}

func TestBatchUINonTerminal(t *testing.T) {
	var out bytes.Buffer
	ui := newBatchUI(&out, false, 2)

	ok := &events.ItemEvent{ItemID: "a", Name: "/home/u/docs/a.pdf", Size: 10, Status: "succeeded"}
	ok.BaseEvent = events.BaseEvent{EventType: events.EventItemStatus}
	bad := &events.ItemEvent{ItemID: "b", Name: "b.pdf", Size: 10, Status: "failed", Error: errors.New("boom")}
	bad.BaseEvent = events.BaseEvent{EventType: events.EventItemStatus}
	queued := &events.ItemEvent{ItemID: "c", Name: "c.pdf"}
	queued.BaseEvent = events.BaseEvent{EventType: events.EventItemQueued}

	ui.Handle(queued)
	ui.Handle(ok)
	ui.Handle(ok)
	ui.Handle(bad)
	ui.Wait()

	s := out.String()
	if strings.Count(s, "✓") != 1 {
		t.Errorf("expected one success line, got %q", s)
	}
	if !strings.Contains(s, "✗ b.pdf: boom") {
		t.Errorf("expected failure line, got %q", s)
	}
	if strings.Contains(s, "c.pdf") {
		t.Errorf("queued event should not render, got %q", s)
	}
}

func TestTruncatePath(t *testing.T) {
	if got := truncatePath("/a/b/c/d/file.txt", 3); got != "…/c/d/file.txt" {
		t.Errorf("got %q", got)
	}
	if got := truncatePath("file.txt", 2); got != "file.txt" {
		t.Errorf("got %q", got)
	}
}
