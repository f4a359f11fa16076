// Package services holds the frontend-agnostic operations the CLI is built
// on: folder browsing, two-phase deletes, preview links and batch transfers.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
)

// ErrInvalidFolderName is returned for empty or over-long folder names.
var ErrInvalidFolderName = errors.New("invalid folder name")

// RecordBroker is the part of the broker client the file service needs.
type RecordBroker interface {
	DeleteRecord(ctx context.Context, fileID string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
	CreateFolder(ctx context.Context, name string, parentID *string) (*models.ContainerRecord, error)
	ListFolder(ctx context.Context, folderID *string) (*models.FolderListing, error)
	GetDownloadCredential(ctx context.Context, objectKey string) (*models.DownloadCredential, error)
}

// FileService handles file and folder operations.
type FileService struct {
	broker   RecordBroker
	eventBus *events.EventBus
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	previews map[string]*models.DownloadCredential
}

// NewFileService creates a FileService. eventBus may be nil.
func NewFileService(broker RecordBroker, eventBus *events.EventBus, logger *logging.Logger) *FileService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileService{
		broker:   broker,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
		previews: make(map[string]*models.DownloadCredential),
	}
}

// ListFolder returns the contents of a folder. An empty folderID lists the
// top level.
func (fs *FileService) ListFolder(ctx context.Context, folderID string) (*FolderContents, error) {
	listing, err := fs.broker.ListFolder(ctx, models.StringPtr(folderID))
	if err != nil {
		return nil, fmt.Errorf("failed to list folder: %w", err)
	}

	folders := make([]FileItem, 0, len(listing.Folders))
	for _, f := range listing.Folders {
		folders = append(folders, FileItem{
			ID:       f.ID,
			Name:     f.Name,
			IsFolder: true,
			ModTime:  f.UpdatedAt,
		})
	}
	files := make([]FileItem, 0, len(listing.Files))
	for _, f := range listing.Files {
		files = append(files, FileItem{
			ID:        f.ID,
			Name:      f.Name,
			Size:      f.SizeBytes,
			MimeType:  f.MimeType,
			ObjectKey: f.S3Key,
			ModTime:   f.UpdatedAt,
		})
	}
	byName := func(items []FileItem) {
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
		})
	}
	byName(folders)
	byName(files)

	return &FolderContents{
		FolderID: folderID,
		Items:    append(folders, files...),
	}, nil
}

// CreateFolder creates name under parentID, or at the top level when
// parentID is empty.
func (fs *FileService) CreateFolder(ctx context.Context, name, parentID string) (*models.ContainerRecord, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > constants.MaxNameLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFolderName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q contains a path separator", ErrInvalidFolderName, name)
	}

	folder, err := fs.broker.CreateFolder(ctx, name, models.StringPtr(parentID))
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	fs.logger.Info().Str("folder_id", folder.ID).Str("name", name).Msg("Folder created")
	return folder, nil
}

// DeleteFile removes a file in two phases: the record first, then the
// stored object. Once the record is gone the file is deleted as far as the
// user is concerned, so a failed object delete is reported as an orphan
// warning instead of an error.
func (fs *FileService) DeleteFile(ctx context.Context, fileID string) error {
	if fileID == "" {
		return errors.New("file ID is required")
	}

	objectKey, err := fs.broker.DeleteRecord(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file record %s: %w", fileID, err)
	}
	fs.InvalidatePreview(objectKey)

	if objectKey == "" {
		return nil
	}
	if err := fs.broker.DeleteObject(ctx, objectKey); err != nil {
		fs.logger.Warn().
			Str("event", "orphaned_object").
			Str("file_id", fileID).
			Str("object_key", objectKey).
			Err(err).
			Msg("File record deleted but stored object remains")
		fs.eventBus.PublishOrphan(objectKey, err.Error())
		return nil
	}

	fs.logger.Info().Str("file_id", fileID).Str("object_key", objectKey).Msg("File deleted")
	return nil
}

// DeleteFiles deletes each file, continuing past failures.
func (fs *FileService) DeleteFiles(ctx context.Context, fileIDs []string) (deleted int, failed map[string]error) {
	failed = make(map[string]error)
	for _, id := range fileIDs {
		if err := ctx.Err(); err != nil {
			failed[id] = err
			continue
		}
		if err := fs.DeleteFile(ctx, id); err != nil {
			failed[id] = err
			continue
		}
		deleted++
	}
	return deleted, failed
}

// PreviewURL returns a signed GET URL for objectKey, reusing a cached one
// until it is within PreviewURLSkew of expiring.
func (fs *FileService) PreviewURL(ctx context.Context, objectKey string) (*models.DownloadCredential, error) {
	fs.mu.Lock()
	cached := fs.previews[objectKey]
	fs.mu.Unlock()
	if cached != nil && !cached.Expired(fs.now(), constants.PreviewURLSkew) {
		return cached, nil
	}

	cred, err := fs.broker.GetDownloadCredential(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get preview URL: %w", err)
	}

	fs.mu.Lock()
	fs.previews[objectKey] = cred
	fs.mu.Unlock()
	return cred, nil
}

// InvalidatePreview drops any cached URL for objectKey.
func (fs *FileService) InvalidatePreview(objectKey string) {
	fs.mu.Lock()
	delete(fs.previews, objectKey)
	fs.mu.Unlock()
}
