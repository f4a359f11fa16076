package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/progress"
)

var (
	// ErrNilBatch is returned by RunBatch when called without an item list.
	ErrNilBatch = errors.New("nil batch")

	// ErrItemNotQueued is returned by RunBatch when an item is nil or has
	// already left the Queued state.
	ErrItemNotQueued = errors.New("batch contains an item that is not queued")
)

// Broker is the subset of the credential broker client the controller uses.
type Broker interface {
	GetUploadCredential(ctx context.Context, fileName, mimeType string, size int64) (*models.UploadCredential, error)
	CommitRecord(ctx context.Context, objectKey, fileName, mimeType string, size int64, folderID *string) (*models.FileRecord, error)
	GetDownloadCredential(ctx context.Context, objectKey string) (*models.DownloadCredential, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Uploader sends one object to the store using a presigned POST form.
type Uploader interface {
	Upload(ctx context.Context, cred *models.UploadCredential, body io.Reader, size int64, fileName, mimeType string, fn progress.Func) error
}

// Downloader fetches one object from a signed URL into destPath.
type Downloader interface {
	Download(ctx context.Context, signedURL, objectKey, destPath string, size int64, fn progress.Func) error
}

// SourceOpener opens the local bytes behind a candidate's SourceLocation
// and reports their current size.
type SourceOpener func(location string) (io.ReadCloser, int64, error)

// OpenFile is the default SourceOpener.
func OpenFile(location string) (io.ReadCloser, int64, error) {
	f, err := os.Open(location)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Config tunes a Controller.
type Config struct {
	// ConcurrencyLimit is the window size used by RunQueue
	ConcurrencyLimit int

	// CleanupOrphans issues a best-effort object delete when an upload
	// reached the store but its record could not be committed
	CleanupOrphans bool

	Logger   *logging.Logger
	EventBus *events.EventBus
	Opener   SourceOpener
}

// Controller drives items through the transfer state machine in windows of
// bounded size.
type Controller struct {
	broker     Broker
	uploader   Uploader
	downloader Downloader
	cfg        Config
	logger     *logging.Logger

	commitRetryWait time.Duration
}

// NewController wires a controller. Missing optional config is defaulted.
func NewController(broker Broker, uploader Uploader, downloader Downloader, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenFile
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = constants.DefaultConcurrentTransfers
	}
	return &Controller{
		broker:     broker,
		uploader:   uploader,
		downloader: downloader,
		cfg:        cfg,
		logger:     cfg.Logger,

		commitRetryWait: constants.CommitRetryWait,
	}
}

// RunQueue runs every queued item of q. The queue is held for the whole run
// so concurrent structural changes are refused.
func (c *Controller) RunQueue(ctx context.Context, q *Queue) (BatchResult, error) {
	if err := q.BeginRun(); err != nil {
		return BatchResult{}, err
	}
	defer q.EndRun()

	items := q.Pending()
	start := time.Now()
	c.cfg.EventBus.Publish(&events.BatchEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventBatchStarted, Time: start},
		Total:     len(items),
	})

	res, err := c.RunBatch(ctx, items, c.cfg.ConcurrencyLimit)
	if err != nil {
		return res, err
	}

	c.cfg.EventBus.Publish(&events.BatchEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventBatchComplete, Time: time.Now()},
		Total:     res.Total(),
		Succeeded: res.Succeeded,
		Failed:    len(res.Failed),
		Duration:  time.Since(start),
	})
	return res, nil
}

// RunBatch transfers items in consecutive windows of concurrencyLimit.
// Every item of a window runs concurrently and the next window starts only
// once all of them are terminal. Item failures are collected, never
// returned; the error result is reserved for misuse (nil list, items that
// are not queued).
func (c *Controller) RunBatch(ctx context.Context, items []*Item, concurrencyLimit int) (BatchResult, error) {
	if items == nil {
		return BatchResult{}, ErrNilBatch
	}
	for i, it := range items {
		if it == nil {
			return BatchResult{}, fmt.Errorf("%w: index %d is nil", ErrItemNotQueued, i)
		}
		if st := it.Status(); st != StatusQueued {
			return BatchResult{}, fmt.Errorf("%w: %s is %s", ErrItemNotQueued, it.ID(), st)
		}
	}
	if concurrencyLimit <= 0 {
		concurrencyLimit = constants.DefaultConcurrentTransfers
	}

	windows := (len(items) + concurrencyLimit - 1) / concurrencyLimit
	c.logger.Info().
		Int("items", len(items)).
		Int("window_size", concurrencyLimit).
		Int("windows", windows).
		Msg("Starting batch")

	for w := 0; w < windows; w++ {
		lo := w * concurrencyLimit
		hi := lo + concurrencyLimit
		if hi > len(items) {
			hi = len(items)
		}
		c.logger.Debug().Int("window", w+1).Int("items", hi-lo).Msg("Window started")

		var wg sync.WaitGroup
		for _, it := range items[lo:hi] {
			wg.Add(1)
			go func(it *Item) {
				defer wg.Done()
				c.runItem(ctx, it)
			}(it)
		}
		wg.Wait()

		c.logger.Debug().Int("window", w+1).Msg("Window settled")
	}

	var res BatchResult
	for _, it := range items {
		s := it.Snapshot()
		switch s.Status {
		case StatusSucceeded:
			res.Succeeded++
		default:
			err := s.Err
			if err == nil {
				err = fmt.Errorf("item ended in state %s", s.Status)
			}
			res.Failed = append(res.Failed, FailedItem{Item: s, Err: err})
		}
		if s.Orphaned {
			res.Orphans = append(res.Orphans, s.ObjectKey)
		}
	}

	c.logger.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", len(res.Failed)).
		Int("orphans", len(res.Orphans)).
		Msg("Batch complete")
	return res, nil
}

// runItem executes one item to a terminal state. Panics become failures.
func (c *Controller) runItem(ctx context.Context, it *Item) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("item_id", it.ID()).
				Interface("panic", r).
				Msg("Transfer panicked")
			c.failItem(it, fmt.Errorf("internal error: %v", r))
		}
	}()

	switch it.Kind() {
	case KindUpload:
		c.runUpload(ctx, it)
	case KindDownload:
		c.runDownload(ctx, it)
	default:
		c.failItem(it, fmt.Errorf("unknown item kind %q", it.Kind()))
	}
}

// setStatus advances the item and publishes the change. A rejected
// transition fails the item.
func (c *Controller) setStatus(it *Item, to Status) bool {
	if err := it.advance(to); err != nil {
		c.logger.Error().Err(err).Str("item_id", it.ID()).Msg("State machine violation")
		c.failItem(it, err)
		return false
	}
	publishItem(c.cfg.EventBus, events.EventItemStatus, it)
	return true
}

func (c *Controller) failItem(it *Item, err error) {
	if !it.fail(err) {
		return
	}
	c.logger.Warn().
		Str("item_id", it.ID()).
		Str("kind", string(it.Kind())).
		Str("name", it.Name()).
		Err(err).
		Msg("Transfer failed")
	publishItem(c.cfg.EventBus, events.EventItemStatus, it)
}

func (c *Controller) progressFunc(it *Item) progress.Func {
	return func(sent, total int64) {
		it.setProgress(progress.Fraction(sent, total))
		publishItem(c.cfg.EventBus, events.EventItemProgress, it)
	}
}
