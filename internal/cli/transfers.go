package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/notify"
	"github.com/stashbox/stashbox/internal/progress"
	"github.com/stashbox/stashbox/internal/services"
	"github.com/stashbox/stashbox/internal/transfer"
	strutil "github.com/stashbox/stashbox/internal/util/strings"
)

// runOptions controls how a queued batch is run and reported.
type runOptions struct {
	kind   string // "upload" or "download"
	dest   string // shown in the desktop notification
	notify bool
}

// runQueued drains the transfer queue while rendering progress, then prints
// the batch summary. The returned error lists the failed items.
func runQueued(ctx context.Context, s *session, ts *services.TransferService, opts runOptions) error {
	total := len(ts.Queue().Pending())
	if total == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to transfer.")
		return nil
	}

	feed := s.bus.SubscribeAll()
	defer s.bus.Unsubscribe(feed)

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
	)
	r := newRenderer(total)
	dispatch := func(ev events.Event) {
		if e, ok := ev.(*events.ItemEvent); ok {
			r.handle(e)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-feed:
				if !ok {
					return
				}
				dispatch(ev)
			case <-done:
				// Drain what the run published before it returned.
				for {
					select {
					case ev, ok := <-feed:
						if !ok {
							return
						}
						dispatch(ev)
					default:
						return
					}
				}
			}
		}
	}()

	res, err := ts.Run(ctx)
	close(done)
	wg.Wait()
	r.wait()
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("kind", opts.kind).
		Int("succeeded", res.Succeeded).
		Int("failed", len(res.Failed)).
		Msg("Batch finished")
	fmt.Fprintf(os.Stderr, "%s: %s\n", strutil.Count(res.Total(), opts.kind), res.Summary())
	orphans := len(res.Orphans)
	if orphans > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s stored without a file record (see log for keys)\n",
			strutil.Count(orphans, "object"))
	}

	n := notify.NewNotifier(opts.notify, s.logger)
	n.BatchComplete(opts.kind, res.Succeeded, len(res.Failed), opts.dest)
	n.Orphans(orphans)

	return res.Err()
}

// renderer draws either one progressbar for a single item on a terminal,
// or the multi-bar batch UI.
type renderer interface {
	handle(ev *events.ItemEvent)
	wait()
}

func newRenderer(total int) renderer {
	if total == 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		return &singleRenderer{bar: progress.NewCLIProgress()}
	}
	return &batchRenderer{ui: progress.NewBatchUI(total)}
}

type batchRenderer struct {
	ui *progress.BatchUI
}

func (b *batchRenderer) handle(ev *events.ItemEvent) { b.ui.Handle(ev) }
func (b *batchRenderer) wait()                       { b.ui.Wait() }

type singleRenderer struct {
	bar     *progress.CLIProgress
	size    int64
	started bool
	report  progress.Func
}

func (r *singleRenderer) handle(ev *events.ItemEvent) {
	if !r.started && ev.Status == transfer.StatusTransferring.String() {
		r.started = true
		r.size = ev.Size
		r.bar.Start(ev.Size, ev.Name)
		r.report = r.bar.Func()
	}
	if !r.started {
		return
	}
	switch {
	case ev.Type() == events.EventItemProgress:
		r.report(int64(ev.Progress*float64(r.size)), r.size)
	case ev.Status == transfer.StatusSucceeded.String():
		r.bar.Finish()
	case ev.Status == transfer.StatusFailed.String():
		r.bar.Abort(ev.Error)
	}
}

func (r *singleRenderer) wait() {}
