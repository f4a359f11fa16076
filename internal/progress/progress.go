// Package progress turns byte counts into progress fractions and renders
// them on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"

	"github.com/stashbox/stashbox/internal/constants"
)

// Func receives cumulative bytes sent and the expected total.
type Func func(sent, total int64)

// Fraction returns sent/total clamped to [0, 1]. A non-positive total
// yields 0 rather than dividing by zero.
func Fraction(sent, total int64) float64 {
	if total <= 0 || sent <= 0 {
		return 0
	}
	if sent >= total {
		return 1
	}
	return float64(sent) / float64(total)
}

// Reader wraps an io.Reader and reports cumulative bytes after every read.
type Reader struct {
	reader io.Reader
	total  int64
	sent   atomic.Int64
	fn     Func
}

// NewReader creates a progress-reporting reader. start is the number of
// bytes already accounted for, used when resuming.
func NewReader(r io.Reader, start, total int64, fn Func) *Reader {
	pr := &Reader{reader: r, total: total, fn: fn}
	pr.sent.Store(start)
	return pr
}

// Read implements io.Reader interface with progress reporting.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		sent := pr.sent.Add(int64(n))
		if pr.fn != nil {
			pr.fn(sent, pr.total)
		}
	}
	return n, err
}

// Sent returns the bytes read so far.
func (pr *Reader) Sent() int64 {
	return pr.sent.Load()
}

// CLIProgress draws a single progress bar, used for one-off downloads.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a new CLI progress reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(constants.ProgressUpdateInterval),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Func adapts the bar to a progress callback.
func (p *CLIProgress) Func() Func {
	return func(sent, _ int64) {
		if p.bar != nil {
			_ = p.bar.Set64(sent)
		}
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Abort leaves the bar where it is and prints err under it.
func (p *CLIProgress) Abort(err error) {
	if p.bar != nil {
		_ = p.bar.Exit()
	}
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}
