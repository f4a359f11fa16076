// Package download fetches one object from a signed GET URL into a local
// file. Bytes accumulate in a .part file next to the destination with a JSON
// sidecar, so an interrupted download resumes with a Range request.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stashbox/stashbox/internal/cloud/state"
	"github.com/stashbox/stashbox/internal/cloud/storage"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/diskspace"
	"github.com/stashbox/stashbox/internal/http"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/progress"
	"github.com/stashbox/stashbox/internal/util/buffers"
)

// defaultSaveInterval is how many bytes are written between sidecar saves.
const defaultSaveInterval = 8 * 1024 * 1024

// Downloader performs resumable GET downloads.
type Downloader struct {
	client       *nethttp.Client
	logger       *logging.Logger
	retry        http.Config
	saveInterval int64
}

// NewDownloader creates a downloader over client using http.DefaultConfig
// for retries.
func NewDownloader(client *nethttp.Client, logger *logging.Logger) *Downloader {
	if client == nil {
		client = nethttp.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Downloader{
		client:       client,
		logger:       logger,
		retry:        http.DefaultConfig(),
		saveInterval: defaultSaveInterval,
	}
}

// SetRetryConfig replaces the retry policy.
func (d *Downloader) SetRetryConfig(cfg http.Config) {
	d.retry = cfg
}

// Download streams the object behind signedURL into destPath. size is the
// expected object size; when it is not positive the server's length is
// trusted. Interrupted attempts are resumed from the part file within the
// retry budget, and a failed download leaves its part file and sidecar in
// place for the next call.
func (d *Downloader) Download(ctx context.Context, signedURL, objectKey, destPath string, size int64, fn progress.Func) error {
	if signedURL == "" {
		return errors.New("download: empty signed URL")
	}
	if destPath == "" {
		return errors.New("download: empty destination path")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	st := d.loadOrStart(destPath, objectKey, size)
	if st.DownloadedBytes > 0 {
		d.logger.Info().
			Str("object_key", objectKey).
			Int64("offset", st.DownloadedBytes).
			Int64("size", size).
			Msg("Resuming download")
	}

	if err := diskspace.CheckAvailableSpace(destPath, size-st.DownloadedBytes, constants.DiskSpaceBufferPercent); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInsufficientSpace, err)
	}
	if err := state.SaveDownloadState(st, destPath); err != nil {
		d.logger.Warn().Err(err).Str("path", destPath).Msg("Could not write resume state")
	}

	retryCfg := d.retry
	retryCfg.OnRetry = func(attempt int, err error, et http.ErrorType) {
		d.logger.Warn().
			Str("object_key", objectKey).
			Int("attempt", attempt).
			Str("error_type", http.ErrorTypeName(et)).
			Int64("offset", st.DownloadedBytes).
			Err(err).
			Msg("Retrying download")
	}

	err := http.ExecuteWithRetry(ctx, retryCfg, func() error {
		return d.fetch(ctx, signedURL, st, size, fn)
	})
	if err != nil {
		if errors.Is(err, storage.ErrFileChanged) {
			d.discard(destPath)
		} else if st.DownloadedBytes > 0 {
			st.LastUpdate = time.Now()
			_ = state.SaveDownloadState(st, destPath)
		}
		return err
	}

	if err := os.Rename(st.PartPath, destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	if err := state.DeleteDownloadState(destPath); err != nil {
		d.logger.Warn().Err(err).Str("path", destPath).Msg("Could not remove resume state")
	}
	return nil
}

// loadOrStart returns a validated resume state for destPath, or a fresh one
// after removing anything left behind by an unusable attempt.
func (d *Downloader) loadOrStart(destPath, objectKey string, size int64) *state.DownloadResumeState {
	st, err := state.LoadDownloadState(destPath)
	if err == nil && st != nil {
		verr := state.ValidateDownloadState(st, destPath, objectKey, size)
		if verr == nil {
			return st
		}
		d.logger.Debug().Err(verr).Str("path", destPath).Msg("Discarding resume state")
	}
	d.discard(destPath)
	return state.NewDownloadState(destPath, objectKey, size)
}

func (d *Downloader) discard(destPath string) {
	_ = os.Remove(destPath + state.PartSuffix)
	_ = state.DeleteDownloadState(destPath)
}

// fetch performs one GET attempt starting at st.DownloadedBytes.
func (d *Downloader) fetch(ctx context.Context, signedURL string, st *state.DownloadResumeState, size int64, fn progress.Func) error {
	offset := st.DownloadedBytes
	if size > 0 && offset >= size {
		return nil
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, signedURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if st.ETag != "" {
			req.Header.Set("If-Range", st.ETag)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	total := size
	switch resp.StatusCode {
	case nethttp.StatusOK:
		// Full body: either a fresh start or the server ignored Range.
		offset = 0
		if resp.ContentLength >= 0 {
			if size > 0 && resp.ContentLength != size {
				return fmt.Errorf("%w: object is %d bytes, expected %d", storage.ErrFileChanged, resp.ContentLength, size)
			}
			total = resp.ContentLength
		}
	case nethttp.StatusPartialContent:
		start, crTotal, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		if start != offset {
			return fmt.Errorf("%w: range starts at %d, expected %d", storage.ErrFileChanged, start, offset)
		}
		if crTotal >= 0 {
			if size > 0 && crTotal != size {
				return fmt.Errorf("%w: object is %d bytes, expected %d", storage.ErrFileChanged, crTotal, size)
			}
			total = crTotal
		}
	case nethttp.StatusRequestedRangeNotSatisfiable:
		if size > 0 && offset == size {
			return nil
		}
		return fmt.Errorf("%w: range %d- not satisfiable", storage.ErrFileChanged, offset)
	default:
		return storage.ReadObjectStoreError("download", resp, constants.ErrorBodyLimit)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		st.ETag = etag
	}
	if st.TotalSize <= 0 && total > 0 {
		st.TotalSize = total
	}

	return d.writeBody(resp.Body, st, offset, total, fn)
}

// writeBody appends body to the part file at offset, saving the sidecar
// every saveInterval bytes.
func (d *Downloader) writeBody(body io.Reader, st *state.DownloadResumeState, offset, total int64, fn progress.Func) error {
	f, err := os.OpenFile(st.PartPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open part file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate part file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek part file: %w", err)
	}
	st.DownloadedBytes = offset

	reader := progress.NewReader(body, offset, total, fn)
	bufp := buffers.GetCopyBuffer()
	defer buffers.PutCopyBuffer(bufp)
	buf := *bufp
	var sinceSave int64

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write part file: %w", werr)
			}
			st.DownloadedBytes += int64(n)
			sinceSave += int64(n)
			if sinceSave >= d.saveInterval {
				sinceSave = 0
				st.LastUpdate = time.Now()
				_ = state.SaveDownloadState(st, st.LocalPath)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read failed at offset %d: %w", st.DownloadedBytes, readErr)
		}
	}

	if total > 0 {
		if st.DownloadedBytes < total {
			return fmt.Errorf("body ended at %d of %d bytes: %w", st.DownloadedBytes, total, io.ErrUnexpectedEOF)
		}
		if st.DownloadedBytes > total {
			return fmt.Errorf("%w: received %d bytes, expected %d", storage.ErrSizeMismatch, st.DownloadedBytes, total)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync part file: %w", err)
	}
	return nil
}

// parseContentRange parses "bytes start-end/total". total is -1 when the
// server sends "*".
func parseContentRange(v string) (start, total int64, err error) {
	bad := fmt.Errorf("malformed Content-Range %q", v)
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, 0, bad
	}
	span, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, bad
	}
	startStr, _, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, bad
	}
	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, bad
	}
	if totalStr == "*" {
		return start, -1, nil
	}
	if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
		return 0, 0, bad
	}
	return start, total, nil
}
