package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stashbox/stashbox/internal/api"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/models"
)

// orphanCleanupTimeout bounds the compensating delete issued when
// CleanupOrphans is on.
const orphanCleanupTimeout = 30 * time.Second

// runUpload: credential, POST to the store, commit the record.
func (c *Controller) runUpload(ctx context.Context, it *Item) {
	cand := it.upload
	log := c.logger.Child(func(lc zerolog.Context) zerolog.Context {
		return lc.Str("item_id", it.ID()).Str("name", cand.DisplayName)
	})

	if err := ctx.Err(); err != nil {
		c.failItem(it, err)
		return
	}
	if !c.setStatus(it, StatusRequestingCredential) {
		return
	}
	cred, err := c.broker.GetUploadCredential(ctx, cand.DisplayName, cand.MimeType, cand.ByteSize)
	if err != nil {
		c.failItem(it, fmt.Errorf("request upload credential: %w", err))
		return
	}
	it.setObjectKey(cred.ObjectKey)
	log.Debug().Str("object_key", cred.ObjectKey).Msg("Upload credential issued")

	if err := ctx.Err(); err != nil {
		// The key was allocated but nothing was written.
		c.failItem(it, err)
		return
	}

	body, size, err := c.cfg.Opener(cand.SourceLocation)
	if err != nil {
		c.failItem(it, fmt.Errorf("open source: %w", err))
		return
	}
	defer body.Close()
	if size != cand.ByteSize {
		c.failItem(it, fmt.Errorf("source changed since it was queued: %d bytes, expected %d", size, cand.ByteSize))
		return
	}

	if !c.setStatus(it, StatusTransferring) {
		return
	}
	start := time.Now()
	err = c.uploader.Upload(ctx, cred, body, cand.ByteSize, cand.DisplayName, cand.MimeType, c.progressFunc(it))
	if err != nil {
		c.failItem(it, fmt.Errorf("upload: %w", err))
		return
	}
	log.Info().
		Str("object_key", cred.ObjectKey).
		Int64("bytes", cand.ByteSize).
		Dur("elapsed", time.Since(start)).
		Msg("Object stored")

	if err := ctx.Err(); err != nil {
		c.reportOrphan(ctx, it, cred.ObjectKey, err)
		c.failItem(it, err)
		return
	}
	if !c.setStatus(it, StatusCommitting) {
		return
	}
	rec, err := c.commit(ctx, it, cred.ObjectKey)
	if err != nil {
		c.reportOrphan(ctx, it, cred.ObjectKey, err)
		c.failItem(it, fmt.Errorf("commit record: %w", err))
		return
	}
	it.setRecord(rec)
	if c.setStatus(it, StatusSucceeded) {
		log.Info().Str("file_id", rec.ID).Msg("Upload complete")
	}
}

// commit creates the record for a stored object. Failures in transit are
// retried here because the transport never re-sends a commit.
func (c *Controller) commit(ctx context.Context, it *Item, objectKey string) (*models.FileRecord, error) {
	cand := it.upload
	wait := c.commitRetryWait
	for attempt := 1; ; attempt++ {
		rec, err := c.broker.CommitRecord(ctx, objectKey, cand.DisplayName, cand.MimeType, cand.ByteSize, cand.DestinationContainer)
		if err == nil || !api.IsRetryable(err) || attempt >= constants.CommitAttempts {
			return rec, err
		}
		c.logger.Warn().
			Str("item_id", it.ID()).
			Str("object_key", objectKey).
			Int("attempt", attempt).
			Err(err).
			Msg("Commit failed in transit, retrying")
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// runDownload: credential, then a streamed GET into the destination.
func (c *Controller) runDownload(ctx context.Context, it *Item) {
	target := it.download

	if err := ctx.Err(); err != nil {
		c.failItem(it, err)
		return
	}
	if !c.setStatus(it, StatusRequestingCredential) {
		return
	}
	cred, err := c.broker.GetDownloadCredential(ctx, target.ObjectKey)
	if err != nil {
		c.failItem(it, fmt.Errorf("request download credential: %w", err))
		return
	}

	if err := ctx.Err(); err != nil {
		c.failItem(it, err)
		return
	}
	if !c.setStatus(it, StatusTransferring) {
		return
	}
	err = c.downloader.Download(ctx, cred.SignedURL, target.ObjectKey, target.LocalPath, target.Size, c.progressFunc(it))
	if err != nil {
		c.failItem(it, fmt.Errorf("download: %w", err))
		return
	}
	if c.setStatus(it, StatusSucceeded) {
		c.logger.Info().
			Str("item_id", it.ID()).
			Str("object_key", target.ObjectKey).
			Str("path", target.LocalPath).
			Msg("Download complete")
	}
}

// reportOrphan records an object that reached the store without a record.
// The warning is never surfaced as an error; cleanup, when enabled, is
// best effort and runs even if ctx was cancelled.
func (c *Controller) reportOrphan(ctx context.Context, it *Item, objectKey string, cause error) {
	c.logger.Warn().
		Str("event", "orphaned_object").
		Str("item_id", it.ID()).
		Str("object_key", objectKey).
		Err(cause).
		Msg("Object stored without a file record")
	c.cfg.EventBus.PublishOrphan(objectKey, cause.Error())
	it.setOrphaned(true)

	if !c.cfg.CleanupOrphans {
		return
	}
	if api.IsRetryable(cause) {
		// The commit may have landed; deleting could strand a record.
		c.logger.Warn().Str("object_key", objectKey).Msg("Commit outcome unknown, object kept")
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanCleanupTimeout)
	defer cancel()
	if err := c.broker.DeleteObject(cctx, objectKey); err != nil {
		c.logger.Warn().Err(err).Str("object_key", objectKey).Msg("Orphan cleanup failed")
		return
	}
	it.setOrphaned(false)
	c.logger.Info().Str("object_key", objectKey).Msg("Orphaned object removed")
}
