package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/transfer"
	"github.com/stashbox/stashbox/internal/util/paths"
	"github.com/stashbox/stashbox/internal/util/sanitize"
	"github.com/stashbox/stashbox/internal/validation"
)

// TransferServiceConfig configures the TransferService.
type TransferServiceConfig struct {
	// MaxConcurrent is the window size; defaults to
	// constants.DefaultConcurrentTransfers
	MaxConcurrent int

	// CleanupOrphans deletes objects whose record could not be committed
	CleanupOrphans bool

	// Policy governs upload admission; zero means validation.DefaultPolicy
	Policy validation.Policy

	Logger   *logging.Logger
	EventBus *events.EventBus
}

// TransferService owns one queue and the controller that drains it.
// Progress and state changes are published via the EventBus.
type TransferService struct {
	queue      *transfer.Queue
	controller *transfer.Controller
	logger     *logging.Logger
}

// NewTransferService wires a queue and controller around the given broker
// and transports.
func NewTransferService(broker transfer.Broker, uploader transfer.Uploader, downloader transfer.Downloader, cfg TransferServiceConfig) *TransferService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = constants.DefaultConcurrentTransfers
	}
	if cfg.MaxConcurrent > constants.MaxConcurrentTransfers {
		cfg.MaxConcurrent = constants.MaxConcurrentTransfers
	}
	if cfg.Policy.MaxFileSize == 0 {
		cfg.Policy = validation.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	return &TransferService{
		queue: transfer.NewQueue(cfg.Policy, cfg.EventBus),
		controller: transfer.NewController(broker, uploader, downloader, transfer.Config{
			ConcurrencyLimit: cfg.MaxConcurrent,
			CleanupOrphans:   cfg.CleanupOrphans,
			Logger:           cfg.Logger,
			EventBus:         cfg.EventBus,
		}),
		logger: cfg.Logger,
	}
}

// Queue returns the underlying transfer queue.
func (ts *TransferService) Queue() *transfer.Queue {
	return ts.queue
}

// QueueFiles builds candidates from local paths and offers them to the
// queue. Paths that cannot be read are reported in the returned error; the
// rest are still offered.
func (ts *TransferService) QueueFiles(localPaths []string, folderID string) (transfer.AddResult, error) {
	candidates := make([]models.TransferCandidate, 0, len(localPaths))
	var errs []error
	for _, p := range localPaths {
		c, err := BuildCandidate(p, folderID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		candidates = append(candidates, c)
	}

	res, err := ts.queue.Add(candidates)
	if err != nil {
		return res, err
	}
	for _, r := range res.Rejected {
		ts.logger.Warn().
			Str("file", r.Candidate.DisplayName).
			Str("rule", string(r.Err.Rule)).
			Msg(r.Err.Reason)
	}
	return res, errors.Join(errs...)
}

// QueueDownloads queues objects for download into outDir. Names are taken
// from the request or the key, checked to stay inside outDir, and made
// unique when several requests share one.
func (ts *TransferService) QueueDownloads(reqs []DownloadRequest, outDir string) ([]transfer.Snapshot, error) {
	if outDir == "" {
		outDir = "."
	}

	files := make([]paths.FileForDownload, 0, len(reqs))
	for _, r := range reqs {
		name := r.Name
		if name == "" {
			name = paths.NameFromKey(r.ObjectKey)
		}
		name = sanitize.DisplayName(name)
		if err := validation.ValidateFilename(name); err != nil {
			return nil, fmt.Errorf("cannot download %s: %w", r.ObjectKey, err)
		}
		local := filepath.Join(outDir, name)
		if err := validation.ValidatePathInDirectory(local, outDir); err != nil {
			return nil, fmt.Errorf("cannot download %s: %w", r.ObjectKey, err)
		}
		files = append(files, paths.FileForDownload{
			ObjectKey: r.ObjectKey,
			Name:      name,
			LocalPath: local,
			Size:      r.Size,
		})
	}

	files, renamed := paths.ResolveCollisions(files)
	if renamed > 0 {
		ts.logger.Info().Int("files", renamed).Msg("Renamed downloads that shared a local name")
	}

	targets := make([]transfer.DownloadTarget, 0, len(files))
	for _, f := range files {
		targets = append(targets, transfer.DownloadTarget{
			ObjectKey: f.ObjectKey,
			Name:      f.Name,
			Size:      f.Size,
			LocalPath: f.LocalPath,
		})
	}
	return ts.queue.AddDownload(targets...)
}

// Run transfers every queued item.
func (ts *TransferService) Run(ctx context.Context) (transfer.BatchResult, error) {
	return ts.controller.RunQueue(ctx, ts.queue)
}

// RetryFailed resubmits every failed item as a fresh queued item.
func (ts *TransferService) RetryFailed() (int, error) {
	n := 0
	for _, s := range ts.queue.Snapshot() {
		if s.Status != transfer.StatusFailed {
			continue
		}
		if _, err := ts.queue.Resubmit(s.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ClearFinished drops terminal items from the queue.
func (ts *TransferService) ClearFinished() (int, error) {
	return ts.queue.ClearFinished()
}

// BuildCandidate describes a local file for upload. The display name is
// the cleaned base name and the MIME type comes from DetectMimeType.
func BuildCandidate(localPath, folderID string) (models.TransferCandidate, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return models.TransferCandidate{}, fmt.Errorf("cannot read %s: %w", localPath, err)
	}
	if info.IsDir() {
		return models.TransferCandidate{}, fmt.Errorf("cannot upload %s: is a directory", localPath)
	}

	return models.TransferCandidate{
		DisplayName:          sanitize.DisplayName(filepath.Base(localPath)),
		SourceLocation:       localPath,
		MimeType:             DetectMimeType(localPath),
		ByteSize:             info.Size(),
		DestinationContainer: models.StringPtr(folderID),
	}, nil
}

// extraTypes covers extensions whose type is missing from minimal
// systems' mime tables.
var extraTypes = map[string]string{
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".rtf":  "application/rtf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// DetectMimeType guesses a file's media type from its extension, falling
// back to sniffing the first 512 bytes.
func DetectMimeType(localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "application/octet-stream"
	}
	return nethttp.DetectContentType(buf[:n])
}
