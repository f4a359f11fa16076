package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/events"
)

// BatchUI renders one bar per transfer item from the event feed. On a
// non-terminal it prints one line per finished item instead.
type BatchUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	total      int

	mu    sync.Mutex
	bars  map[string]*itemBar
	index int
}

type itemBar struct {
	bar   *mpb.Bar
	index int
	name  string
	size  int64
	start time.Time
	done  bool
}

// NewBatchUI creates a UI for a run of total items, drawing on stderr when
// it is a terminal.
func NewBatchUI(total int) *BatchUI {
	return newBatchUI(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), total)
}

func newBatchUI(out io.Writer, isTerminal bool, total int) *BatchUI {
	u := &BatchUI{
		out:        out,
		isTerminal: isTerminal,
		total:      total,
		bars:       make(map[string]*itemBar),
	}
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableANSIOnWindows(f)
		}
		u.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressUpdateInterval),
			mpb.WithWidth(100),
		)
	}
	return u
}

// Consume renders events until ch is closed or done is closed.
func (u *BatchUI) Consume(ch <-chan events.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if item, ok := ev.(*events.ItemEvent); ok {
				u.Handle(item)
			}
		}
	}
}

// Handle applies a single item event.
func (u *BatchUI) Handle(ev *events.ItemEvent) {
	if ev.Type() != events.EventItemProgress && ev.Type() != events.EventItemStatus {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.bars[ev.ItemID]
	if b == nil {
		u.index++
		b = &itemBar{index: u.index, name: ev.Name, size: ev.Size, start: time.Now()}
		if u.progress != nil {
			b.bar = u.newBar(b, ev.Kind)
		}
		u.bars[ev.ItemID] = b
	}
	if b.done {
		return
	}

	switch ev.Type() {
	case events.EventItemProgress:
		if b.bar != nil {
			b.bar.SetCurrent(int64(ev.Progress * float64(b.size)))
		}
	case events.EventItemStatus:
		switch ev.Status {
		case "succeeded":
			b.done = true
			if b.bar != nil {
				b.bar.SetCurrent(b.size)
				b.bar.SetTotal(b.size, true)
			}
			u.printf("✓ %s (%.1f MiB, %s)\n", truncatePath(b.name, 2),
				float64(b.size)/(1024*1024), time.Since(b.start).Round(time.Second))
		case "failed":
			b.done = true
			if b.bar != nil {
				b.bar.Abort(false)
			}
			u.printf("✗ %s: %v\n", truncatePath(b.name, 2), ev.Error)
		}
	}
}

func (u *BatchUI) newBar(b *itemBar, kind string) *mpb.Bar {
	verb := "↑"
	if kind == "download" {
		verb = "↓"
	}
	label := fmt.Sprintf("[%d/%d] %s %s", b.index, u.total, verb, truncatePath(b.name, 2))
	return u.progress.New(b.size,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (u *BatchUI) printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if u.progress != nil {
		_, _ = u.progress.Write([]byte(msg))
		return
	}
	_, _ = io.WriteString(u.out, msg)
}

// Writer returns an io.Writer that prints above the bars.
func (u *BatchUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are being drawn.
func (u *BatchUI) IsTerminal() bool {
	return u.isTerminal
}

// Wait aborts bars that never finished and waits for the final render.
func (u *BatchUI) Wait() {
	u.mu.Lock()
	for _, b := range u.bars {
		if !b.done && b.bar != nil {
			b.bar.Abort(false)
		}
	}
	u.mu.Unlock()
	if u.progress != nil {
		u.progress.Wait()
	}
}

// truncatePath keeps the last maxComponents elements of path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
